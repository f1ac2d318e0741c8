package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math/rand"
	"os/signal"
	"syscall"
	"time"

	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/anomaly"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/api"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/artifact"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/bus"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/config"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/kafka"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/metrics"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/mqtt"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/publisher"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/sensor"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.ValidateEdge(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	evaluator, err := loadEvaluator(ctx, cfg.Model)
	if err != nil {
		log.Fatalf("Failed to load anomaly model: %v", err)
	}
	log.Printf("Loaded Threshold: %v", evaluator.Threshold())

	producer, err := newProducer(ctx, cfg.Bus)
	if err != nil {
		log.Fatalf("Failed to connect producer: %v", err)
	}
	defer producer.Close()

	if cfg.Server.Addr != "" {
		router := api.NewRouter(api.NewHandler(nil, nil, nil))
		go func() {
			if err := api.Serve(ctx, cfg.Server.Addr, router); err != nil {
				log.Printf("Ops server error: %v", err)
			}
		}()
	}

	sampler := newSampler(cfg.Sampler)
	pub := publisher.NewPublisher(producer, cfg.Bus.PublishTopic, cfg.Sampler.DeviceID)

	log.Printf("Sampling in %s mode, publishing to %s", cfg.Sampler.Mode, cfg.Bus.PublishTopic)
	run(ctx, sampler, evaluator, pub)
	log.Println("Shutdown complete.")
}

func loadEvaluator(ctx context.Context, cfg config.ModelConfig) (*anomaly.Evaluator, error) {
	store := artifact.NewStore(cfg.AWSRegion)

	model, err := anomaly.LoadModel(ctx, store, cfg.Path)
	if err != nil {
		return nil, err
	}
	threshold, err := anomaly.LoadThreshold(ctx, store, cfg.ThresholdPath)
	if err != nil {
		return nil, err
	}
	scorer, err := anomaly.NewScorer(model)
	if err != nil {
		return nil, err
	}
	return anomaly.NewEvaluator(scorer, threshold)
}

func newProducer(ctx context.Context, cfg config.BusConfig) (bus.Producer, error) {
	if cfg.Transport == config.TransportKafka {
		return kafka.NewProducer(cfg)
	}
	client := mqtt.NewClient(cfg)
	if err := client.Connect(ctx, bus.ConnectionEvents{
		OnConnect:        func() { log.Println("Connected to MQTT broker") },
		OnConnectionLost: func(err error) { log.Printf("Connection to MQTT broker lost: %v", err) },
	}); err != nil {
		return nil, err
	}
	return client, nil
}

func newSampler(cfg config.SamplerConfig) sensor.Sampler {
	if cfg.Mode == config.SamplerHardware {
		probe := sensor.NewIIOProbe(cfg.IIODevice, cfg.AirQualityGPIO)
		return sensor.NewHardware(sensor.HardwareConfig{
			Interval:        cfg.HardwareInterval,
			RetryDelay:      cfg.RetryDelay,
			MaxReadAttempts: cfg.MaxReadAttempts,
		}, probe, sensor.RealClock{})
	}
	return sensor.NewSimulated(sensor.SimulatedConfig{
		Interval:        cfg.Interval,
		BaseTemperature: cfg.BaseTemperature,
		BaseHumidity:    cfg.BaseHumidity,
		SpikePeriod:     cfg.SpikePeriod,
	}, sensor.RealClock{}, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// run samples, scores and publishes until ctx is cancelled
func run(ctx context.Context, sampler sensor.Sampler, evaluator *anomaly.Evaluator, pub *publisher.Publisher) {
	for {
		reading, err := sampler.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, sensor.ErrSensorUnavailable) {
				metrics.SensorReadFailures.Inc()
			}
			log.Printf("Error reading sensor: %v", err)
			continue
		}
		metrics.ReadingsSampled.Inc()

		verdict, mse, err := evaluator.Evaluate(reading)
		if err != nil {
			log.Printf("Error scoring reading: %v", err)
			pub.Publish(ctx, reading, nil, nil)
			continue
		}
		metrics.Verdicts.WithLabelValues(verdict.String()).Inc()
		metrics.ReconstructionError.Observe(mse)

		pub.Publish(ctx, reading, &verdict, &mse)
		log.Printf("Temperature: %.1f°C | Humidity: %.1f%% | Air: %s | MSE: %.6f | %s",
			reading.Temperature, reading.Humidity, reading.AirQuality, mse, verdict)
	}
}
