package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/bus"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/metrics"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/models"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/payload"
)

// SinkWriter durably persists relayed points. Implementations must be safe
// for concurrent use.
type SinkWriter interface {
	Write(ctx context.Context, point models.SensorPoint) error
	Close() error
}

// AnomalyRecorder indexes payloads that carried an Anomaly verdict
type AnomalyRecorder interface {
	Record(ctx context.Context, rec models.AnomalyRecord) error
}

// Broadcaster fans written points out to live subscribers
type Broadcaster interface {
	BroadcastPoint(point models.SensorPoint)
}

// Config holds relay configuration
type Config struct {
	Topics      []string
	Measurement string
}

// Option customises a Relay
type Option func(*Relay)

// WithAnomalyRecorder indexes anomalous payloads in rec
func WithAnomalyRecorder(rec AnomalyRecorder) Option {
	return func(r *Relay) { r.anomalies = rec }
}

// WithBroadcaster sends every written point to b
func WithBroadcaster(b Broadcaster) Option {
	return func(r *Relay) { r.live = b }
}

// WithClock overrides the ingestion timestamp source
func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

// Relay subscribes to the bus and writes every decodable payload to the sink
type Relay struct {
	cfg       Config
	transport bus.Transport
	sink      SinkWriter
	anomalies AnomalyRecorder
	live      Broadcaster
	now       func() time.Time

	state     atomic.Int32
	mu        sync.RWMutex
	accepting bool
}

// NewRelay creates a new relay
func NewRelay(cfg Config, transport bus.Transport, sink SinkWriter, opts ...Option) *Relay {
	r := &Relay{
		cfg:       cfg,
		transport: transport,
		sink:      sink,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.setState(StateDisconnected)
	return r
}

// State returns the current relay state
func (r *Relay) State() State {
	return State(r.state.Load())
}

func (r *Relay) setState(s State) {
	r.state.Store(int32(s))
	metrics.RelayState.Set(float64(s))
}

// Start connects to the bus. Every (re)connect subscribes to the configured
// topics. Only the initial connect error is returned.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	r.accepting = true
	r.mu.Unlock()

	err := r.transport.Connect(ctx, bus.ConnectionEvents{
		OnConnect:        func() { r.onConnect(ctx) },
		OnConnectionLost: r.onConnectionLost,
	})
	if err != nil {
		log.Printf("Connection failed: %v", err)
		return fmt.Errorf("failed to connect to message bus: %w", err)
	}
	return nil
}

func (r *Relay) onConnect(ctx context.Context) {
	r.setState(StateConnected)
	log.Println("Connected to message bus successfully")

	if err := r.transport.Subscribe(ctx, r.cfg.Topics, r.HandleMessage); err != nil {
		log.Printf("Failed to subscribe to %v: %v", r.cfg.Topics, err)
		return
	}
	r.setState(StateSubscribed)
	log.Printf("Subscribed to %v", r.cfg.Topics)
}

func (r *Relay) onConnectionLost(err error) {
	log.Printf("Connection to message bus lost: %v", err)
	r.setState(StateDisconnected)
}

// markRelaying moves any live state to Relaying. A delivery means the
// subscription is live even if the transport never reported the reconnect.
func (r *Relay) markRelaying() {
	for {
		cur := r.state.Load()
		if cur == int32(StateRelaying) || cur == int32(StateStopped) {
			return
		}
		if r.state.CompareAndSwap(cur, int32(StateRelaying)) {
			metrics.RelayState.Set(float64(StateRelaying))
			return
		}
	}
}

// HandleMessage relays one message. It never panics and never returns an
// error: every failure is logged and the message dropped.
func (r *Relay) HandleMessage(ctx context.Context, msg bus.Message) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("Error processing message on %s: %v", msg.Topic, rec)
			metrics.MessagesDropped.WithLabelValues(msg.Topic, "panic").Inc()
		}
	}()

	if !r.accepting {
		return
	}
	r.markRelaying()
	metrics.MessagesReceived.WithLabelValues(msg.Topic).Inc()

	if !utf8.Valid(msg.Payload) {
		log.Printf("Error: Received non UTF-8 payload on %s (%d bytes)", msg.Topic, len(msg.Payload))
		metrics.MessagesDropped.WithLabelValues(msg.Topic, "encoding").Inc()
		return
	}
	log.Printf("Received message on %s: %s", msg.Topic, msg.Payload)

	doc, err := payload.Decode(msg.Payload)
	if err != nil {
		if errors.Is(err, payload.ErrMalformedJSON) {
			log.Printf("Error: Received invalid JSON format: %s", msg.Payload)
			metrics.MessagesDropped.WithLabelValues(msg.Topic, "malformed_json").Inc()
		} else {
			log.Printf("Error processing message: %v", err)
			metrics.MessagesDropped.WithLabelValues(msg.Topic, "decode").Inc()
		}
		return
	}

	point := r.project(msg.Topic, doc)

	if status, ok := doc.Text("status"); ok && status == models.VerdictAnomaly.String() {
		metrics.AnomaliesRelayed.WithLabelValues(msg.Topic).Inc()
		r.recordAnomaly(ctx, point, doc)
	}

	if len(point.Fields) == 0 {
		log.Printf("Skipping message on %s without numeric fields: %v", msg.Topic, doc.Interface())
		metrics.MessagesDropped.WithLabelValues(msg.Topic, "no_numeric_fields").Inc()
		return
	}

	start := time.Now()
	if err := r.sink.Write(ctx, point); err != nil {
		log.Printf("Error writing point for %s -> %v: %v", msg.Topic, doc.Interface(), err)
		metrics.WriteErrors.WithLabelValues(msg.Topic, strconv.FormatBool(isRetryable(err))).Inc()
		return
	}
	metrics.WriteLatency.Observe(time.Since(start).Seconds())
	metrics.PointsWritten.WithLabelValues(msg.Topic).Inc()
	log.Printf("Written to sink: %s -> %v", msg.Topic, point.Fields)

	if r.live != nil {
		r.live.BroadcastPoint(point)
	}
}

// project builds the time series point from the numeric subset of doc
func (r *Relay) project(topic string, doc payload.Document) models.SensorPoint {
	return models.SensorPoint{
		Measurement: r.cfg.Measurement,
		Tags:        map[string]string{models.TopicTag: topic},
		Fields:      doc.Numeric(),
		Time:        r.now(),
	}
}

func (r *Relay) recordAnomaly(ctx context.Context, point models.SensorPoint, doc payload.Document) {
	if r.anomalies == nil {
		return
	}
	rec := models.AnomalyRecord{
		Topic:      point.Topic(),
		ReceivedAt: point.Time,
		Fields:     point.Fields,
		Payload:    doc.Interface(),
	}
	if err := r.anomalies.Record(ctx, rec); err != nil {
		log.Printf("Error recording anomaly for %s: %v", rec.Topic, err)
	}
}

func isRetryable(err error) bool {
	var r interface{ IsRetryable() bool }
	return errors.As(err, &r) && r.IsRetryable()
}

// Shutdown stops accepting messages, drops the subscription, closes the
// sink and releases the bus connection. Every step runs even if an
// earlier one fails.
func (r *Relay) Shutdown() error {
	var errs []error

	log.Println("Disconnecting...")
	// Waits for the in-flight message, if any
	r.mu.Lock()
	r.accepting = false
	r.mu.Unlock()

	if err := r.transport.Unsubscribe(r.cfg.Topics...); err != nil {
		log.Printf("Error unsubscribing: %v", err)
		errs = append(errs, fmt.Errorf("unsubscribe: %w", err))
	}

	log.Println("Closing sink writer...")
	if err := r.sink.Close(); err != nil {
		log.Printf("Error closing sink writer: %v", err)
		errs = append(errs, fmt.Errorf("close sink: %w", err))
	}

	if err := r.transport.Close(); err != nil {
		log.Printf("Error closing bus connection: %v", err)
		errs = append(errs, fmt.Errorf("close transport: %w", err))
	}

	r.setState(StateStopped)
	return errors.Join(errs...)
}
