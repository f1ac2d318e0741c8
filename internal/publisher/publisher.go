package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/bus"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/metrics"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/models"
)

// Telemetry is the flat JSON object published for every reading
type Telemetry struct {
	Temperature Decimal  `json:"temperature"`
	Humidity    Decimal  `json:"humidity"`
	AirQuality  string   `json:"air_quality"`
	Timestamp   string   `json:"timestamp"`
	Status      string   `json:"status,omitempty"`
	MSE         *Decimal `json:"mse,omitempty"`
	Device      string   `json:"device,omitempty"`
}

// Decimal is a float that always encodes with a fractional part, so 23.0 is
// written as 23.0 and not 23. Consumers that type numbers by their literal
// form see a float on every message.
type Decimal float64

// MarshalJSON implements json.Marshaler
func (d Decimal) MarshalJSON() ([]byte, error) {
	v := float64(d)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("unsupported value %v", v)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return []byte(s), nil
}

// Publisher sends readings to a single bus topic
type Publisher struct {
	producer bus.Producer
	topic    string
	device   string
}

// NewPublisher creates a publisher for topic. device may be empty.
func NewPublisher(producer bus.Producer, topic, device string) *Publisher {
	return &Publisher{producer: producer, topic: topic, device: device}
}

// NewTelemetry builds the payload for a reading. verdict and mse are
// optional.
func NewTelemetry(r models.Reading, verdict *models.Verdict, mse *float64, device string) Telemetry {
	t := Telemetry{
		Temperature: Decimal(round2(r.Temperature)),
		Humidity:    Decimal(round2(r.Humidity)),
		AirQuality:  r.AirQuality.String(),
		Timestamp:   r.Timestamp.UTC().Format(time.RFC3339),
		Device:      device,
	}
	if verdict != nil {
		t.Status = verdict.String()
	}
	if mse != nil {
		v := Decimal(*mse)
		t.MSE = &v
	}
	return t
}

// Publish sends one message for the reading. Failures are logged and
// counted, never returned: publishing is best effort and must not stall
// sampling.
func (p *Publisher) Publish(ctx context.Context, r models.Reading, verdict *models.Verdict, mse *float64) {
	body, err := json.Marshal(NewTelemetry(r, verdict, mse, p.device))
	if err != nil {
		log.Printf("Error encoding telemetry: %v", err)
		metrics.PublishFailures.Inc()
		return
	}

	if err := p.producer.Publish(ctx, p.topic, body); err != nil {
		log.Printf("Error publishing to %s: %v", p.topic, err)
		metrics.PublishFailures.Inc()
		return
	}
	log.Printf("Published: %s", body)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
