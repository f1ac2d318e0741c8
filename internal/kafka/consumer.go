package kafka

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/bus"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/config"

	"github.com/Shopify/sarama"
)

// Consumer is a bus.Transport backed by a Kafka consumer group
type Consumer struct {
	id     string
	config config.BusConfig
	sarama *sarama.Config

	newGroup func(brokers []string, groupID string, cfg *sarama.Config) (sarama.ConsumerGroup, error)

	mu       sync.Mutex
	group    sarama.ConsumerGroup
	cancel   context.CancelFunc
	done     chan struct{}
	handleMu sync.Mutex
}

// NewConsumer creates a new Kafka consumer. Nothing is dialled until Connect.
func NewConsumer(cfg config.BusConfig) *Consumer {
	saramaConfig := newSaramaConfig(cfg)
	saramaConfig.Consumer.Return.Errors = true
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin

	// Telemetry messages are small and latency matters more than throughput
	saramaConfig.Consumer.Fetch.Min = 1
	saramaConfig.Consumer.Fetch.Default = 64 * 1024
	saramaConfig.Consumer.MaxWaitTime = 250 * time.Millisecond

	return &Consumer{
		id:       cfg.ClientID,
		config:   cfg,
		sarama:   saramaConfig,
		newGroup: sarama.NewConsumerGroup,
	}
}

// Connect joins the consumer group and reports the connection through events
func (c *Consumer) Connect(ctx context.Context, events bus.ConnectionEvents) error {
	group, err := c.newGroup(c.config.Brokers, c.config.GroupID, c.sarama)
	if err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.mu.Lock()
	c.group = group
	c.mu.Unlock()

	go func() {
		for err := range group.Errors() {
			log.Printf("Consumer %s error: %v", c.id, err)
			if events.OnConnectionLost != nil && errors.Is(err, sarama.ErrOutOfBrokers) {
				events.OnConnectionLost(err)
			}
		}
	}()

	if events.OnConnect != nil {
		events.OnConnect()
	}
	return nil
}

// Subscribe starts consuming topics. A previous subscription is replaced.
func (c *Consumer) Subscribe(ctx context.Context, topics []string, handler bus.Handler) error {
	c.mu.Lock()
	group := c.group
	c.mu.Unlock()
	if group == nil {
		return errors.New("kafka consumer is not connected")
	}

	if err := c.Unsubscribe(); err != nil {
		return err
	}

	consumeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	h := &consumerGroupHandler{consumer: c, handler: handler}
	go func() {
		defer close(done)
		for {
			// Consume returns on every rebalance and must be called again
			if err := group.Consume(consumeCtx, topics, h); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) || consumeCtx.Err() != nil {
					return
				}
				log.Printf("Consumer %s error: %v", c.id, err)
				select {
				case <-consumeCtx.Done():
					return
				case <-time.After(time.Second):
				}
			}
			if consumeCtx.Err() != nil {
				return
			}
		}
	}()
	return nil
}

// Unsubscribe stops the consume loop and waits for it to exit. Consumer
// groups subscribe to all topics at once, so topics is ignored.
func (c *Consumer) Unsubscribe(_ ...string) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Close leaves the consumer group
func (c *Consumer) Close() error {
	_ = c.Unsubscribe()

	c.mu.Lock()
	group := c.group
	c.group = nil
	c.mu.Unlock()

	if group == nil {
		return nil
	}
	if err := group.Close(); err != nil {
		return fmt.Errorf("failed to close consumer group: %w", err)
	}
	return nil
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	handler  bus.Handler
}

func (h *consumerGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		if session.Context().Err() != nil {
			return nil
		}

		// Claims run concurrently, one per partition; the relay sees one
		// message at a time
		h.consumer.handleMu.Lock()
		h.handler(session.Context(), bus.Message{Topic: message.Topic, Payload: message.Value})
		h.consumer.handleMu.Unlock()

		session.MarkMessage(message, "")
	}
	return nil
}
