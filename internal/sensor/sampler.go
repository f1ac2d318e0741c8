// Package sensor produces readings on a fixed cadence, either simulated or
// from the DHT22/MQ-135 hardware.
package sensor

import (
	"context"
	"errors"
	"time"

	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/models"
)

var (
	// ErrNoReading is returned by a Probe on a transient hardware glitch
	ErrNoReading = errors.New("no sensor reading")
	// ErrSensorUnavailable is returned once the retry budget is spent
	ErrSensorUnavailable = errors.New("sensor unavailable")
)

// Sampler yields one reading per tick. Next blocks until the tick and
// returns ctx.Err() when cancelled.
type Sampler interface {
	Next(ctx context.Context) (models.Reading, error)
}

// Clock allows for deterministic testing
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ticker paces emissions at a fixed interval from the previous emission
type ticker struct {
	clock    Clock
	interval time.Duration
	last     time.Time
	started  bool
}

func (t *ticker) wait(ctx context.Context) error {
	if t.started {
		if wait := t.interval - t.clock.Now().Sub(t.last); wait > 0 {
			if err := t.clock.Sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	return ctx.Err()
}

func (t *ticker) mark() {
	t.last = t.clock.Now()
	t.started = true
}
