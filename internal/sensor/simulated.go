package sensor

import (
	"context"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/models"
)

const (
	temperatureJitter = 0.2
	humidityJitter    = 0.5
)

// SimulatedConfig holds the parameters of the simulated sampler
type SimulatedConfig struct {
	Interval        time.Duration
	BaseTemperature float64
	BaseHumidity    float64
	SpikePeriod     time.Duration
}

// Simulated draws readings around fixed base values and injects a fault
// spike whenever whole elapsed seconds is a multiple of the spike period.
type Simulated struct {
	cfg   SimulatedConfig
	clock Clock
	rng   *rand.Rand
	start time.Time
	tick  ticker
}

// NewSimulated creates a simulated sampler. The spike clock starts now.
func NewSimulated(cfg SimulatedConfig, clock Clock, rng *rand.Rand) *Simulated {
	return &Simulated{
		cfg:   cfg,
		clock: clock,
		rng:   rng,
		start: clock.Now(),
		tick:  ticker{clock: clock, interval: cfg.Interval},
	}
}

func (s *Simulated) Next(ctx context.Context) (models.Reading, error) {
	if err := s.tick.wait(ctx); err != nil {
		return models.Reading{}, err
	}
	now := s.clock.Now()
	s.tick.mark()

	temperature := round1(s.cfg.BaseTemperature + s.uniform(-temperatureJitter, temperatureJitter))
	humidity := round1(s.cfg.BaseHumidity + s.uniform(-humidityJitter, humidityJitter))

	if s.spikeDue(now) {
		log.Println("Simulating anomaly spike")
		temperature += s.uniform(2.5, 4.0)
		humidity += s.uniform(5.0, 8.0)
	}

	return models.Reading{
		Temperature: temperature,
		Humidity:    humidity,
		AirQuality:  models.AirQualityNormal,
		Timestamp:   now,
	}, nil
}

func (s *Simulated) spikeDue(now time.Time) bool {
	period := int64(s.cfg.SpikePeriod / time.Second)
	if period <= 0 {
		return false
	}
	elapsed := int64(now.Sub(s.start) / time.Second)
	return elapsed%period == 0
}

func (s *Simulated) uniform(lo, hi float64) float64 {
	return lo + s.rng.Float64()*(hi-lo)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
