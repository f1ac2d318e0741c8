package anomaly

import (
	"errors"
	"fmt"
)

var ErrShapeMismatch = errors.New("feature vector shape mismatch")

// FeatureVector is the ordered model input. The order must match the
// order the model was calibrated on: temperature, then humidity.
type FeatureVector []float64

// Reconstruction is the model output for one feature vector
type Reconstruction struct {
	Reconstructed FeatureVector
	Error         float64
}

// Scorer runs the autoencoder forward pass. It is immutable after
// construction and safe for concurrent use.
type Scorer struct {
	input, hidden int
	encW, encB    []float64
	decW, decB    []float64
}

// NewScorer builds a scorer from validated model weights
func NewScorer(m *Model) (*Scorer, error) {
	if err := m.validateShape(); err != nil {
		return nil, err
	}
	if err := m.validateWeights(); err != nil {
		return nil, err
	}

	return &Scorer{
		input:  m.Input,
		hidden: m.Hidden,
		encW:   widen(m.EncoderW),
		encB:   widen(m.EncoderB),
		decW:   widen(m.DecoderW),
		decB:   widen(m.DecoderB),
	}, nil
}

func widen(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

// InputWidth is the declared model input width
func (s *Scorer) InputWidth() int {
	return s.input
}

// Score reconstructs vec and returns the mean squared reconstruction error
func (s *Scorer) Score(vec FeatureVector) (Reconstruction, error) {
	if len(vec) != s.input {
		return Reconstruction{}, fmt.Errorf("%w: got %d values, model expects %d", ErrShapeMismatch, len(vec), s.input)
	}

	hidden := make([]float64, s.hidden)
	for h := 0; h < s.hidden; h++ {
		sum := s.encB[h]
		for i := 0; i < s.input; i++ {
			sum += vec[i] * s.encW[i*s.hidden+h]
		}
		if sum > 0 {
			hidden[h] = sum
		}
	}

	out := make(FeatureVector, s.input)
	var sq float64
	for o := 0; o < s.input; o++ {
		sum := s.decB[o]
		for h := 0; h < s.hidden; h++ {
			sum += hidden[h] * s.decW[h*s.input+o]
		}
		out[o] = sum
		d := vec[o] - sum
		sq += d * d
	}

	return Reconstruction{
		Reconstructed: out,
		Error:         sq / float64(s.input),
	}, nil
}
