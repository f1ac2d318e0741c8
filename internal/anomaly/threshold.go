package anomaly

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/artifact"
)

var ErrThresholdNotLoaded = errors.New("anomaly threshold not loaded")

// Threshold holds the calibrated reconstruction error threshold. The zero
// value is empty and makes NewEvaluator fail.
type Threshold struct {
	value  float64
	loaded bool
}

// NewThreshold validates and wraps a calibrated value
func NewThreshold(v float64) (Threshold, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return Threshold{}, fmt.Errorf("threshold must be a finite non-negative number, got %v", v)
	}
	return Threshold{value: v, loaded: true}, nil
}

// ParseThreshold parses the plain-text threshold artifact
func ParseThreshold(text string) (Threshold, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold %q: %w", strings.TrimSpace(text), err)
	}
	return NewThreshold(v)
}

// LoadThreshold fetches and parses the threshold artifact
func LoadThreshold(ctx context.Context, fetcher artifact.Fetcher, uri string) (Threshold, error) {
	data, err := fetcher.Fetch(ctx, uri)
	if err != nil {
		return Threshold{}, fmt.Errorf("failed to load threshold: %w", err)
	}
	return ParseThreshold(string(data))
}

// Value returns the threshold and whether it was loaded
func (t Threshold) Value() (float64, bool) {
	return t.value, t.loaded
}
