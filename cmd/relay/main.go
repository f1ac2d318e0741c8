package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/api"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/bus"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/cache"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/config"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/influxdb"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/kafka"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/mqtt"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/relay"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/websocket"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.ValidateRelay(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		cancel()
		log.Fatalf("Startup failed: %v", err)
	}
	log.Println("Shutdown complete.")
}

// run relays until ctx is cancelled. Every resource opened before a
// startup failure is closed before the error is returned.
func run(ctx context.Context, cfg *config.Config) error {
	// Initialize InfluxDB client. Once the relay starts it owns the client
	// and closes it on shutdown.
	influxClient, err := influxdb.NewClient(ctx, cfg.InfluxDB)
	if err != nil {
		return fmt.Errorf("failed to create InfluxDB client: %w", err)
	}

	hub := websocket.NewHub()
	go hub.Run(ctx)

	opts := []relay.Option{relay.WithBroadcaster(hub)}

	var anomalies *cache.AnomalyIndex
	if cfg.Redis.Enabled {
		anomalies, err = cache.NewAnomalyIndex(ctx, cfg.Redis)
		if err != nil {
			closeSink(influxClient)
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer anomalies.Close()
		opts = append(opts, relay.WithAnomalyRecorder(anomalies))
	}

	transport := newTransport(cfg.Bus)
	r := relay.NewRelay(relay.Config{
		Topics:      cfg.Bus.Topics,
		Measurement: cfg.InfluxDB.Measurement,
	}, transport, influxClient, opts...)

	log.Printf("Starting %s relay for topics %v...", cfg.Bus.Transport, cfg.Bus.Topics)
	if err := r.Start(ctx); err != nil {
		closeSink(influxClient)
		return fmt.Errorf("failed to start relay: %w", err)
	}

	if cfg.Server.Addr != "" {
		checks := map[string]api.Check{
			"relay": func(context.Context) error {
				switch s := r.State(); s {
				case relay.StateSubscribed, relay.StateRelaying:
					return nil
				default:
					return fmt.Errorf("relay %s", s)
				}
			},
			"influxdb": influxClient.Health,
		}
		var lister api.AnomalyLister
		if anomalies != nil {
			checks["redis"] = anomalies.Ping
			lister = anomalies
		}
		router := api.NewRouter(api.NewHandler(checks, lister, hub))
		go func() {
			if err := api.Serve(ctx, cfg.Server.Addr, router); err != nil {
				log.Printf("Ops server error: %v", err)
			}
		}()
	}

	// Wait for termination signal
	<-ctx.Done()
	log.Println("Received termination signal. Shutting down...")

	if err := r.Shutdown(); err != nil {
		log.Printf("Shutdown completed with errors: %v", err)
	}
	return nil
}

func closeSink(c *influxdb.Client) {
	if err := c.Close(); err != nil {
		log.Printf("Error closing InfluxDB client: %v", err)
	}
}

func newTransport(cfg config.BusConfig) bus.Transport {
	if cfg.Transport == config.TransportKafka {
		return kafka.NewConsumer(cfg)
	}
	return mqtt.NewClient(cfg)
}
