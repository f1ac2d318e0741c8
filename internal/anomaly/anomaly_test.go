package anomaly

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/models"
)

type mapFetcher map[string][]byte

func (m mapFetcher) Fetch(_ context.Context, uri string) ([]byte, error) {
	data, ok := m[uri]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

// identityModel reconstructs positive inputs exactly, shifted by decBias.
func identityModel(decBias ...float32) *Model {
	b := []float32{0, 0}
	copy(b, decBias)
	return &Model{
		Input:    2,
		Hidden:   2,
		Output:   2,
		EncoderW: []float32{1, 0, 0, 1},
		EncoderB: []float32{0, 0},
		DecoderW: []float32{1, 0, 0, 1},
		DecoderB: b,
	}
}

func mustScorer(t *testing.T, m *Model) *Scorer {
	t.Helper()
	s, err := NewScorer(m)
	if err != nil {
		t.Fatalf("NewScorer() error = %v", err)
	}
	return s
}

func TestScorer_MeanSquaredError(t *testing.T) {
	tests := []struct {
		name    string
		model   *Model
		vec     FeatureVector
		wantErr float64
		wantOut FeatureVector
	}{
		{name: "exact reconstruction", model: identityModel(), vec: FeatureVector{23.2, 42.8}, wantErr: 0, wantOut: FeatureVector{23.2, 42.8}},
		{name: "bias shift is averaged not summed", model: identityModel(1, 0), vec: FeatureVector{23, 42}, wantErr: 0.5, wantOut: FeatureVector{24, 42}},
		{name: "relu clips negative activations", model: identityModel(), vec: FeatureVector{-2, 3}, wantErr: 2, wantOut: FeatureVector{0, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := mustScorer(t, tt.model).Score(tt.vec)
			if err != nil {
				t.Fatalf("Score() error = %v", err)
			}
			if math.Abs(rec.Error-tt.wantErr) > 1e-9 {
				t.Errorf("Error = %v, want %v", rec.Error, tt.wantErr)
			}
			for i := range tt.wantOut {
				if math.Abs(rec.Reconstructed[i]-tt.wantOut[i]) > 1e-9 {
					t.Errorf("Reconstructed[%d] = %v, want %v", i, rec.Reconstructed[i], tt.wantOut[i])
				}
			}
		})
	}
}

func TestScorer_ShapeMismatch(t *testing.T) {
	s := mustScorer(t, identityModel())
	for _, vec := range []FeatureVector{nil, {1}, {1, 2, 3}} {
		if _, err := s.Score(vec); !errors.Is(err, ErrShapeMismatch) {
			t.Errorf("Score(%v) error = %v, want ErrShapeMismatch", vec, err)
		}
	}
}

func TestScorer_DeterministicAndNonNegative(t *testing.T) {
	m := &Model{
		Input: 2, Hidden: 3, Output: 2,
		EncoderW: []float32{0.4, -0.2, 0.9, 0.1, 0.7, -0.5},
		EncoderB: []float32{0.01, -0.3, 0.2},
		DecoderW: []float32{1.1, -0.4, 0.3, 0.8, -0.6, 0.2},
		DecoderB: []float32{0.5, -1.5},
	}
	s := mustScorer(t, m)
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		vec := FeatureVector{rng.Float64()*80 - 20, rng.Float64() * 100}
		a, err := s.Score(vec)
		if err != nil {
			t.Fatalf("Score() error = %v", err)
		}
		b, _ := s.Score(vec)
		if a.Error != b.Error {
			t.Fatalf("non-deterministic score for %v: %v vs %v", vec, a.Error, b.Error)
		}
		if a.Error < 0 {
			t.Fatalf("negative error %v for %v", a.Error, vec)
		}
	}
}

func TestModel_BinaryRoundTripAndLoad(t *testing.T) {
	m := identityModel(0.25, -0.75)
	data, err := m.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}

	got, err := LoadModel(context.Background(), mapFetcher{"model.aenc": data}, "model.aenc")
	if err != nil {
		t.Fatalf("LoadModel() error = %v", err)
	}
	if got.Input != 2 || got.Hidden != 2 || got.Output != 2 || got.DecoderB[1] != -0.75 {
		t.Fatalf("unexpected model %+v", got)
	}

	if _, err := LoadModel(context.Background(), mapFetcher{}, "missing"); err == nil {
		t.Fatal("expected fetch error")
	}
}

func TestModel_UnmarshalRejectsCorruptArtifacts(t *testing.T) {
	good, err := identityModel().MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}

	badMagic := append([]byte("XXXX"), good[4:]...)
	badVersion := append([]byte{}, good...)
	badVersion[4] = 9
	mismatched := append([]byte{}, good...)
	mismatched[10] = 3 // output width

	tests := map[string][]byte{
		"empty":     nil,
		"magic":     badMagic,
		"version":   badVersion,
		"truncated": good[:len(good)-2],
		"trailing":  append(append([]byte{}, good...), 0),
		"widths":    mismatched,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			var m Model
			if err := m.UnmarshalBinary(data); !errors.Is(err, ErrInvalidModel) {
				t.Fatalf("UnmarshalBinary() error = %v, want ErrInvalidModel", err)
			}
		})
	}
}

func TestThreshold_Parse(t *testing.T) {
	th, err := ParseThreshold(" 0.0421\n")
	if err != nil {
		t.Fatalf("ParseThreshold() error = %v", err)
	}
	if v, ok := th.Value(); !ok || v != 0.0421 {
		t.Fatalf("Value() = %v, %v", v, ok)
	}

	for _, text := range []string{"", "abc", "-1", "NaN", "+Inf"} {
		if _, err := ParseThreshold(text); err == nil {
			t.Errorf("ParseThreshold(%q) expected error", text)
		}
	}

	if _, err := LoadThreshold(context.Background(), mapFetcher{"t.txt": []byte("0.5")}, "t.txt"); err != nil {
		t.Fatalf("LoadThreshold() error = %v", err)
	}
}

func TestEvaluator_RequiresThreshold(t *testing.T) {
	if _, err := NewEvaluator(mustScorer(t, identityModel()), Threshold{}); !errors.Is(err, ErrThresholdNotLoaded) {
		t.Fatalf("error = %v, want ErrThresholdNotLoaded", err)
	}
}

func TestEvaluator_RequiresTwoFeatureModel(t *testing.T) {
	m := &Model{
		Input: 3, Hidden: 1, Output: 3,
		EncoderW: []float32{1, 1, 1}, EncoderB: []float32{0},
		DecoderW: []float32{1, 1, 1}, DecoderB: []float32{0, 0, 0},
	}
	th, _ := NewThreshold(1)
	if _, err := NewEvaluator(mustScorer(t, m), th); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("error = %v, want ErrShapeMismatch", err)
	}
}

func TestEvaluator_StrictGreaterThan(t *testing.T) {
	// Every positive reading scores exactly 0.5 against this model.
	scorer := mustScorer(t, identityModel(1, 0))
	reading := models.Reading{Temperature: 23.2, Humidity: 42.8}

	tests := []struct {
		threshold float64
		want      models.Verdict
	}{
		{threshold: 0.5, want: models.VerdictNormal},
		{threshold: 0.75, want: models.VerdictNormal},
		{threshold: 0.4999, want: models.VerdictAnomaly},
		{threshold: 0, want: models.VerdictAnomaly},
	}

	for _, tt := range tests {
		th, err := NewThreshold(tt.threshold)
		if err != nil {
			t.Fatal(err)
		}
		e, err := NewEvaluator(scorer, th)
		if err != nil {
			t.Fatalf("NewEvaluator() error = %v", err)
		}
		verdict, score, err := e.Evaluate(reading)
		if err != nil {
			t.Fatalf("Evaluate() error = %v", err)
		}
		if score != 0.5 {
			t.Fatalf("score = %v, want 0.5", score)
		}
		if verdict != tt.want {
			t.Errorf("threshold %v: verdict = %v, want %v", tt.threshold, verdict, tt.want)
		}
	}
}
