package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReadingsSampled counts readings produced by the edge sampler
	ReadingsSampled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edge_readings_sampled_total",
			Help: "Total number of sensor readings sampled",
		},
	)

	// SensorReadFailures counts failed hardware read attempts
	SensorReadFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edge_sensor_read_failures_total",
			Help: "Total number of sampling ticks that gave up without a reading",
		},
	)

	// Verdicts counts evaluated readings by verdict
	Verdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_verdicts_total",
			Help: "Total number of evaluated readings by verdict",
		},
		[]string{"verdict"},
	)

	// ReconstructionError observes the autoencoder reconstruction error
	ReconstructionError = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "edge_reconstruction_error",
			Help:    "Mean squared reconstruction error per reading",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 12),
		},
	)

	// PublishFailures counts best-effort publishes that failed
	PublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edge_publish_failures_total",
			Help: "Total number of telemetry publishes that failed",
		},
	)

	// MessagesReceived counts inbound relay messages
	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_received_total",
			Help: "Total number of messages received by the relay",
		},
		[]string{"topic"},
	)

	// MessagesDropped counts messages the relay could not decode
	MessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_dropped_total",
			Help: "Total number of messages dropped by the relay",
		},
		[]string{"topic", "reason"},
	)

	// PointsWritten counts points persisted to the sink
	PointsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_points_written_total",
			Help: "Total number of points written to the time series sink",
		},
		[]string{"topic"},
	)

	// WriteErrors counts failed sink writes
	WriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_write_errors_total",
			Help: "Total number of failed time series writes",
		},
		[]string{"topic", "retryable"},
	)

	// WriteLatency observes sink write latency
	WriteLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_write_latency_seconds",
			Help:    "Time series write latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// AnomaliesRelayed counts relayed payloads carrying an Anomaly verdict
	AnomaliesRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_anomalies_total",
			Help: "Total number of relayed payloads flagged as anomalies",
		},
		[]string{"topic"},
	)

	// RelayState exposes the relay connection state
	RelayState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_state",
			Help: "Relay state (0=disconnected, 1=connected, 2=subscribed, 3=relaying, 4=stopped)",
		},
	)

	// LiveClients tracks websocket feed subscribers
	LiveClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_live_clients",
			Help: "Number of connected live feed clients",
		},
	)
)
