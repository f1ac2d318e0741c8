package kafka

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/config"

	"github.com/Shopify/sarama"
)

// Producer is a bus.Producer backed by a synchronous Kafka producer
type Producer struct {
	producer sarama.SyncProducer
}

// NewProducer connects a synchronous producer to the configured brokers
func NewProducer(cfg config.BusConfig) (*Producer, error) {
	saramaConfig := newSaramaConfig(cfg)
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Retry.Max = 3

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return &Producer{producer: producer}, nil
}

// NewProducerFrom wraps an existing sarama producer
func NewProducerFrom(p sarama.SyncProducer) *Producer {
	return &Producer{producer: p}
}

// Publish sends payload to topic and waits for the broker acknowledgement
func (p *Producer) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Close flushes and closes the producer
func (p *Producer) Close() error {
	return p.producer.Close()
}

// newSaramaConfig applies the connection settings shared by both sides
func newSaramaConfig(cfg config.BusConfig) *sarama.Config {
	saramaConfig := sarama.NewConfig()
	if cfg.ClientID != "" {
		saramaConfig.ClientID = cfg.ClientID
	}
	if cfg.ConnectTimeout > 0 {
		saramaConfig.Net.DialTimeout = cfg.ConnectTimeout
	}
	if cfg.Username != "" {
		saramaConfig.Net.SASL.Enable = true
		saramaConfig.Net.SASL.User = cfg.Username
		saramaConfig.Net.SASL.Password = cfg.Password
	}
	if cfg.TLS {
		saramaConfig.Net.TLS.Enable = true
		saramaConfig.Net.TLS.Config = &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify} //nolint:gosec
	}
	return saramaConfig
}
