// Package testutil holds reusable fakes for the bus, sink and clock boundaries.
package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/bus"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/models"
)

// FakeClock advances only when Sleep is called and records every sleep
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	Sleeps []time.Duration
}

func NewFakeClock(start time.Time) *FakeClock { return &FakeClock{now: start} }

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Sleeps = append(c.Sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

// Advance moves the clock without recording a sleep
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// CapturingSink records written points and can fail selected writes
type CapturingSink struct {
	mu         sync.Mutex
	Points     []models.SensorPoint
	WriteError error
	CloseError error
	Closed     bool
	Attempts   int
}

func (s *CapturingSink) Write(_ context.Context, p models.SensorPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Attempts++
	if s.WriteError != nil {
		return s.WriteError
	}
	s.Points = append(s.Points, p)
	return nil
}

func (s *CapturingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return s.CloseError
}

func (s *CapturingSink) Snapshot() []models.SensorPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SensorPoint, len(s.Points))
	copy(out, s.Points)
	return out
}

// FakeTransport implements bus.Transport and records lifecycle calls in order
type FakeTransport struct {
	mu               sync.Mutex
	ConnectError     error
	SubscribeError   error
	UnsubscribeError error
	CloseError       error

	Events     bus.ConnectionEvents
	Handler    bus.Handler
	Subscribed [][]string
	Calls      []string
}

func (f *FakeTransport) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, call)
}

func (f *FakeTransport) Connect(_ context.Context, events bus.ConnectionEvents) error {
	f.record("connect")
	if f.ConnectError != nil {
		return f.ConnectError
	}
	f.Events = events
	if events.OnConnect != nil {
		events.OnConnect()
	}
	return nil
}

func (f *FakeTransport) Subscribe(_ context.Context, topics []string, handler bus.Handler) error {
	f.record("subscribe")
	if f.SubscribeError != nil {
		return f.SubscribeError
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Handler = handler
	f.Subscribed = append(f.Subscribed, topics)
	return nil
}

func (f *FakeTransport) Unsubscribe(topics ...string) error {
	f.record("unsubscribe")
	return f.UnsubscribeError
}

func (f *FakeTransport) Close() error {
	f.record("close")
	return f.CloseError
}

// Deliver pushes a message through the subscribed handler
func (f *FakeTransport) Deliver(ctx context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	h := f.Handler
	f.mu.Unlock()
	if h == nil {
		return errors.New("not subscribed")
	}
	h(ctx, bus.Message{Topic: topic, Payload: payload})
	return nil
}

// Published is one captured FakeProducer call
type Published struct {
	Topic   string
	Payload []byte
}

// FakeProducer implements bus.Producer
type FakeProducer struct {
	mu           sync.Mutex
	PublishError error
	Messages     []Published
	Closed       bool
	Attempts     int
}

func (p *FakeProducer) Publish(_ context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Attempts++
	if p.PublishError != nil {
		return p.PublishError
	}
	p.Messages = append(p.Messages, Published{Topic: topic, Payload: append([]byte(nil), payload...)})
	return nil
}

// Snapshot returns a copy of the published messages
func (p *FakeProducer) Snapshot() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Published, len(p.Messages))
	copy(out, p.Messages)
	return out
}

// AttemptCount returns how many times Publish was called
func (p *FakeProducer) AttemptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Attempts
}

func (p *FakeProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

// ProbeResult is one scripted FakeProbe climate read
type ProbeResult struct {
	Temperature float64
	Humidity    float64
	Err         error
}

// FakeProbe replays scripted climate reads and a fixed air quality level
type FakeProbe struct {
	mu             sync.Mutex
	Results        []ProbeResult
	AirQualityHigh bool
	Reads          int
}

func (p *FakeProbe) ReadClimate(context.Context) (float64, float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Reads++
	if len(p.Results) == 0 {
		return 0, 0, errors.New("probe script exhausted")
	}
	r := p.Results[0]
	p.Results = p.Results[1:]
	return r.Temperature, r.Humidity, r.Err
}

func (p *FakeProbe) ReadAirQuality(context.Context) (bool, error) {
	return p.AirQualityHigh, nil
}
