package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/anomaly"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/models"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/publisher"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/sensor"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/testutil"
)

var sampledAt = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type step struct {
	reading models.Reading
	err     error
}

// scriptedSampler replays steps, then cancels the run context
type scriptedSampler struct {
	mu     sync.Mutex
	steps  []step
	cancel context.CancelFunc
	calls  int
}

func (s *scriptedSampler) Next(ctx context.Context) (models.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.steps) == 0 {
		s.cancel()
		return models.Reading{}, ctx.Err()
	}
	next := s.steps[0]
	s.steps = s.steps[1:]
	return next.reading, next.err
}

// newEvaluator scores with an identity autoencoder whose first decoder
// bias is shift, so the error is shift²/2 for every reading
func newEvaluator(t *testing.T, shift float32, threshold float64) *anomaly.Evaluator {
	t.Helper()
	scorer, err := anomaly.NewScorer(&anomaly.Model{
		Input:    2,
		Hidden:   2,
		Output:   2,
		EncoderW: []float32{1, 0, 0, 1},
		EncoderB: []float32{0, 0},
		DecoderW: []float32{1, 0, 0, 1},
		DecoderB: []float32{shift, 0},
	})
	if err != nil {
		t.Fatalf("NewScorer() error = %v", err)
	}
	th, err := anomaly.NewThreshold(threshold)
	if err != nil {
		t.Fatalf("NewThreshold() error = %v", err)
	}
	e, err := anomaly.NewEvaluator(scorer, th)
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}
	return e
}

func runScript(t *testing.T, steps []step, evaluator *anomaly.Evaluator, producer *testutil.FakeProducer) *scriptedSampler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sampler := &scriptedSampler{steps: steps, cancel: cancel}
	pub := publisher.NewPublisher(producer, "pi_data", "")

	done := make(chan struct{})
	go func() {
		defer close(done)
		run(ctx, sampler, evaluator, pub)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after the context was cancelled")
	}
	if ctx.Err() == nil {
		t.Fatal("run returned before the context was cancelled")
	}
	return sampler
}

func TestRun_SurvivesReadAndPublishFailures(t *testing.T) {
	producer := &testutil.FakeProducer{PublishError: errors.New("broker unavailable")}
	steps := []step{
		{err: fmt.Errorf("%w: 3 attempts failed", sensor.ErrSensorUnavailable)},
		{reading: models.Reading{Temperature: 23.4, Humidity: 41.2, Timestamp: sampledAt}},
		{err: errors.New("i2c bus busy")},
		{reading: models.Reading{Temperature: 23.6, Humidity: 41.0, Timestamp: sampledAt.Add(30 * time.Second)}},
	}

	sampler := runScript(t, steps, newEvaluator(t, 0, 0.5), producer)

	if got := producer.AttemptCount(); got != 2 {
		t.Fatalf("publish attempts = %d, want one per reading (2)", got)
	}
	if len(producer.Snapshot()) != 0 {
		t.Fatal("failed publishes were recorded as sent")
	}
	// Every scripted step plus the call that observed cancellation
	if sampler.calls != len(steps)+1 {
		t.Fatalf("sampler called %d times, want %d", sampler.calls, len(steps)+1)
	}
}

func TestRun_PublishesVerdicts(t *testing.T) {
	tests := []struct {
		name       string
		shift      float32
		wantStatus string
	}{
		{name: "within threshold", shift: 0, wantStatus: "Normal"},
		{name: "above threshold", shift: 2, wantStatus: "Anomaly"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			producer := &testutil.FakeProducer{}
			runScript(t, []step{
				{reading: models.Reading{Temperature: 24, Humidity: 40, Timestamp: sampledAt}},
			}, newEvaluator(t, tt.shift, 0.5), producer)

			msgs := producer.Snapshot()
			if len(msgs) != 1 {
				t.Fatalf("published %d messages, want 1", len(msgs))
			}
			var got map[string]interface{}
			if err := json.Unmarshal(msgs[0].Payload, &got); err != nil {
				t.Fatal(err)
			}
			if got["status"] != tt.wantStatus {
				t.Errorf("status = %v, want %s", got["status"], tt.wantStatus)
			}
			if _, ok := got["mse"]; !ok {
				t.Errorf("payload %s missing mse", msgs[0].Payload)
			}
		})
	}
}
