package sensor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/models"
)

// Probe reads the physical sensors. ReadClimate returns ErrNoReading on a
// transient glitch. ReadAirQuality reports the MQ-135 digital output level.
type Probe interface {
	ReadClimate(ctx context.Context) (temperature, humidity float64, err error)
	ReadAirQuality(ctx context.Context) (high bool, err error)
}

// HardwareConfig holds the parameters of the hardware sampler
type HardwareConfig struct {
	Interval   time.Duration
	RetryDelay time.Duration
	// MaxReadAttempts bounds consecutive failed reads per tick; 0 retries forever.
	MaxReadAttempts int
}

// Hardware samples a Probe, retrying failed reads after a fixed delay
type Hardware struct {
	cfg   HardwareConfig
	probe Probe
	clock Clock
	tick  ticker
}

func NewHardware(cfg HardwareConfig, probe Probe, clock Clock) *Hardware {
	return &Hardware{
		cfg:   cfg,
		probe: probe,
		clock: clock,
		tick:  ticker{clock: clock, interval: cfg.Interval},
	}
}

func (h *Hardware) Next(ctx context.Context) (models.Reading, error) {
	if err := h.tick.wait(ctx); err != nil {
		return models.Reading{}, err
	}

	for attempt := 1; ; attempt++ {
		reading, err := h.read(ctx)
		if err == nil {
			h.tick.mark()
			return reading, nil
		}
		if ctx.Err() != nil {
			return models.Reading{}, ctx.Err()
		}

		if h.cfg.MaxReadAttempts > 0 && attempt >= h.cfg.MaxReadAttempts {
			h.tick.mark()
			return models.Reading{}, fmt.Errorf("%w after %d attempts: %v", ErrSensorUnavailable, attempt, err)
		}

		log.Printf("Failed to read sensor data (attempt %d): %v. Retrying in %v...", attempt, err, h.cfg.RetryDelay)
		if err := h.clock.Sleep(ctx, h.cfg.RetryDelay); err != nil {
			return models.Reading{}, err
		}
	}
}

func (h *Hardware) read(ctx context.Context) (models.Reading, error) {
	temperature, humidity, err := h.probe.ReadClimate(ctx)
	if err != nil {
		return models.Reading{}, err
	}

	high, err := h.probe.ReadAirQuality(ctx)
	if err != nil {
		return models.Reading{}, fmt.Errorf("air quality: %w", err)
	}

	// The MQ-135 module pulls its digital output low above the pollution threshold
	airQuality := models.AirQualityHighPollution
	if high {
		airQuality = models.AirQualityNormal
	}

	return models.Reading{
		Temperature: temperature,
		Humidity:    humidity,
		AirQuality:  airQuality,
		Timestamp:   h.clock.Now(),
	}, nil
}
