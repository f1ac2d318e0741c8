package anomaly

import (
	"fmt"

	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/models"
)

// FeatureWidth is the number of reading fields fed to the model
const FeatureWidth = 2

// Evaluator turns a reading into a verdict and its reconstruction error
type Evaluator struct {
	scorer    *Scorer
	threshold float64
}

// NewEvaluator checks the threshold and model width once so Evaluate
// never has to.
func NewEvaluator(scorer *Scorer, threshold Threshold) (*Evaluator, error) {
	value, ok := threshold.Value()
	if !ok {
		return nil, ErrThresholdNotLoaded
	}
	if scorer.InputWidth() != FeatureWidth {
		return nil, fmt.Errorf("%w: model input width %d, readings have %d features", ErrShapeMismatch, scorer.InputWidth(), FeatureWidth)
	}

	return &Evaluator{scorer: scorer, threshold: value}, nil
}

// Threshold returns the loaded threshold
func (e *Evaluator) Threshold() float64 {
	return e.threshold
}

// Evaluate scores the reading. An error equal to the threshold is Normal.
func (e *Evaluator) Evaluate(r models.Reading) (models.Verdict, float64, error) {
	rec, err := e.scorer.Score(FeatureVector{r.Temperature, r.Humidity})
	if err != nil {
		return models.VerdictNormal, 0, err
	}

	if rec.Error > e.threshold {
		return models.VerdictAnomaly, rec.Error, nil
	}
	return models.VerdictNormal, rec.Error, nil
}
