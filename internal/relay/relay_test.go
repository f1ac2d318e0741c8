package relay

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/models"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/publisher"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/testutil"
)

var ingestTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type capturingRecorder struct {
	mu      sync.Mutex
	records []models.AnomalyRecord
	err     error
}

func (c *capturingRecorder) Record(_ context.Context, rec models.AnomalyRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
	return c.err
}

type capturingBroadcaster struct {
	points []models.SensorPoint
}

func (c *capturingBroadcaster) BroadcastPoint(p models.SensorPoint) {
	c.points = append(c.points, p)
}

func newStartedRelay(t *testing.T, sink *testutil.CapturingSink, opts ...Option) (*Relay, *testutil.FakeTransport) {
	t.Helper()
	transport := &testutil.FakeTransport{}
	opts = append([]Option{WithClock(func() time.Time { return ingestTime })}, opts...)
	r := NewRelay(Config{Topics: []string{"pi_data", "esp32/dustsensor"}, Measurement: "sensor_data"}, transport, sink, opts...)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return r, transport
}

func TestRelay_RoundTrip(t *testing.T) {
	sink := &testutil.CapturingSink{}
	_, transport := newStartedRelay(t, sink)

	err := transport.Deliver(context.Background(), "pi_data", []byte(`{"temperature": 23.5, "humidity": 44.0, "air_quality": "Normal Air"}`))
	if err != nil {
		t.Fatal(err)
	}

	points := sink.Snapshot()
	if len(points) != 1 {
		t.Fatalf("wrote %d points, want 1", len(points))
	}
	want := models.SensorPoint{
		Measurement: "sensor_data",
		Tags:        map[string]string{"topic": "pi_data"},
		Fields:      map[string]interface{}{"temperature": 23.5, "humidity": 44.0},
		Time:        ingestTime,
	}
	if !reflect.DeepEqual(points[0], want) {
		t.Fatalf("point = %#v, want %#v", points[0], want)
	}
}

func TestRelay_MalformedThenValid(t *testing.T) {
	sink := &testutil.CapturingSink{}
	r, transport := newStartedRelay(t, sink)
	ctx := context.Background()

	_ = transport.Deliver(ctx, "pi_data", []byte("{not json"))
	_ = transport.Deliver(ctx, "pi_data", []byte(`{"temperature": 22.9, "humidity": 41.7}`))

	if sink.Attempts != 1 {
		t.Fatalf("sink attempts = %d, want 1 (malformed message must be dropped)", sink.Attempts)
	}
	if len(sink.Snapshot()) != 1 {
		t.Fatalf("points = %d, want 1", len(sink.Snapshot()))
	}
	if r.State() != StateRelaying {
		t.Fatalf("State() = %v, want relaying", r.State())
	}
}

func TestRelay_DropsUndecodableMessages(t *testing.T) {
	sink := &testutil.CapturingSink{}
	_, transport := newStartedRelay(t, sink)
	ctx := context.Background()

	inputs := [][]byte{
		{0xff, 0xfe, '{', '}'},
		[]byte(`[1, 2, 3]`),
		[]byte(`"just a string"`),
		[]byte(`{"air_quality": "Normal Air", "ok": true}`),
		[]byte(``),
	}
	for _, in := range inputs {
		_ = transport.Deliver(ctx, "esp32/dustsensor", in)
	}
	if sink.Attempts != 0 {
		t.Fatalf("sink attempts = %d, want 0", sink.Attempts)
	}

	_ = transport.Deliver(ctx, "esp32/dustsensor", []byte(`{"dust": 17}`))
	points := sink.Snapshot()
	if len(points) != 1 || points[0].Fields["dust"] != int64(17) || points[0].Topic() != "esp32/dustsensor" {
		t.Fatalf("unexpected points %#v", points)
	}
}

func TestRelay_WriteFailureDoesNotStopRelay(t *testing.T) {
	sink := &testutil.CapturingSink{WriteError: errors.New("influx unavailable")}
	live := &capturingBroadcaster{}
	_, transport := newStartedRelay(t, sink, WithBroadcaster(live))
	ctx := context.Background()

	_ = transport.Deliver(ctx, "pi_data", []byte(`{"temperature": 1}`))
	sink.WriteError = nil
	_ = transport.Deliver(ctx, "pi_data", []byte(`{"temperature": 2}`))

	if sink.Attempts != 2 {
		t.Fatalf("sink attempts = %d, want 2", sink.Attempts)
	}
	points := sink.Snapshot()
	if len(points) != 1 || points[0].Fields["temperature"] != int64(2) {
		t.Fatalf("unexpected points %#v", points)
	}
	if len(live.points) != 1 {
		t.Fatalf("broadcast %d points, want only the written one", len(live.points))
	}
}

func TestRelay_RecordsAnomalies(t *testing.T) {
	sink := &testutil.CapturingSink{}
	rec := &capturingRecorder{err: errors.New("redis down")}
	_, transport := newStartedRelay(t, sink, WithAnomalyRecorder(rec))
	ctx := context.Background()

	_ = transport.Deliver(ctx, "pi_data", []byte(`{"temperature": 27.1, "humidity": 49.3, "status": "Anomaly", "mse": 3.2}`))
	_ = transport.Deliver(ctx, "pi_data", []byte(`{"temperature": 23.1, "humidity": 42.9, "status": "Normal", "mse": 0.01}`))

	if len(rec.records) != 1 {
		t.Fatalf("recorded %d anomalies, want 1", len(rec.records))
	}
	got := rec.records[0]
	if got.Topic != "pi_data" || got.Payload["status"] != "Anomaly" || got.Fields["mse"] != 3.2 {
		t.Fatalf("unexpected record %#v", got)
	}
	if len(sink.Snapshot()) != 2 {
		t.Fatal("recorder failure must not block the sink write")
	}
}

func TestRelay_ResubscribesOnReconnect(t *testing.T) {
	sink := &testutil.CapturingSink{}
	r, transport := newStartedRelay(t, sink)

	if r.State() != StateSubscribed {
		t.Fatalf("State() = %v, want subscribed", r.State())
	}

	transport.Events.OnConnectionLost(errors.New("broker went away"))
	if r.State() != StateDisconnected {
		t.Fatalf("State() = %v, want disconnected", r.State())
	}

	transport.Events.OnConnect()
	if r.State() != StateSubscribed {
		t.Fatalf("State() = %v, want subscribed", r.State())
	}
	if len(transport.Subscribed) != 2 {
		t.Fatalf("subscribed %d times, want 2", len(transport.Subscribed))
	}
	if want := []string{"pi_data", "esp32/dustsensor"}; !reflect.DeepEqual(transport.Subscribed[1], want) {
		t.Fatalf("topics = %v, want %v", transport.Subscribed[1], want)
	}
}

func TestRelay_DeliveryAfterConnectionLoss(t *testing.T) {
	sink := &testutil.CapturingSink{}
	r, transport := newStartedRelay(t, sink)

	// Consumer groups recover without a fresh connect callback
	transport.Events.OnConnectionLost(errors.New("kafka: client has run out of available brokers to talk to"))
	if r.State() != StateDisconnected {
		t.Fatalf("State() = %v, want disconnected", r.State())
	}

	if err := transport.Deliver(context.Background(), "pi_data", []byte(`{"temperature": 23.4}`)); err != nil {
		t.Fatal(err)
	}
	if r.State() != StateRelaying {
		t.Fatalf("State() = %v, want relaying", r.State())
	}
	if len(sink.Snapshot()) != 1 {
		t.Fatalf("wrote %d points, want 1", len(sink.Snapshot()))
	}
}

func TestRelay_PublishedFieldTypesStable(t *testing.T) {
	sink := &testutil.CapturingSink{}
	_, transport := newStartedRelay(t, sink)
	producer := &testutil.FakeProducer{}
	pub := publisher.NewPublisher(producer, "pi_data", "")

	verdict := models.VerdictNormal
	readings := []struct {
		temperature, humidity, mse float64
	}{
		{23.1, 43.5, 0.0012},
		{23.0, 43.0, 0},
	}
	for _, rd := range readings {
		mse := rd.mse
		pub.Publish(context.Background(), models.Reading{
			Temperature: rd.temperature,
			Humidity:    rd.humidity,
			Timestamp:   ingestTime,
		}, &verdict, &mse)
	}

	for _, msg := range producer.Snapshot() {
		if err := transport.Deliver(context.Background(), msg.Topic, msg.Payload); err != nil {
			t.Fatal(err)
		}
	}

	points := sink.Snapshot()
	if len(points) != len(readings) {
		t.Fatalf("wrote %d points, want %d", len(points), len(readings))
	}
	for i, p := range points {
		for _, field := range []string{"temperature", "humidity", "mse"} {
			if _, ok := p.Fields[field].(float64); !ok {
				t.Errorf("point %d: %s = %#v (%T), want float64", i, field, p.Fields[field], p.Fields[field])
			}
		}
	}
	if got := points[1].Fields["temperature"]; got != 23.0 {
		t.Errorf("temperature = %v, want 23", got)
	}
}

func TestRelay_SubscribeFailureStaysConnected(t *testing.T) {
	transport := &testutil.FakeTransport{SubscribeError: errors.New("not authorized")}
	r := NewRelay(Config{Topics: []string{"pi_data"}, Measurement: "sensor_data"}, transport, &testutil.CapturingSink{})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if r.State() != StateConnected {
		t.Fatalf("State() = %v, want connected", r.State())
	}
}

func TestRelay_StartConnectError(t *testing.T) {
	transport := &testutil.FakeTransport{ConnectError: errors.New("connection refused")}
	r := NewRelay(Config{Topics: []string{"pi_data"}, Measurement: "sensor_data"}, transport, &testutil.CapturingSink{})
	if err := r.Start(context.Background()); err == nil {
		t.Fatal("expected connect error")
	}
	if r.State() != StateDisconnected {
		t.Fatalf("State() = %v, want disconnected", r.State())
	}
}

func TestRelay_ShutdownOrderAndErrors(t *testing.T) {
	sink := &testutil.CapturingSink{CloseError: errors.New("flush failed")}
	r, transport := newStartedRelay(t, sink)
	transport.UnsubscribeError = errors.New("not connected")

	err := r.Shutdown()
	if err == nil {
		t.Fatal("expected joined shutdown error")
	}
	for _, part := range []string{"unsubscribe", "close sink"} {
		if !strings.Contains(err.Error(), part) {
			t.Errorf("error %q missing %q", err, part)
		}
	}

	if want := []string{"connect", "subscribe", "unsubscribe", "close"}; !reflect.DeepEqual(transport.Calls, want) {
		t.Fatalf("calls = %v, want %v", transport.Calls, want)
	}
	if !sink.Closed {
		t.Fatal("sink was not closed")
	}
	if r.State() != StateStopped {
		t.Fatalf("State() = %v, want stopped", r.State())
	}

	_ = transport.Deliver(context.Background(), "pi_data", []byte(`{"temperature": 1}`))
	if sink.Attempts != 0 {
		t.Fatal("relay accepted a message after shutdown")
	}
}
