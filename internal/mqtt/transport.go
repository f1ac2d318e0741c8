// Package mqtt implements the bus boundary on an MQTT broker using the
// Eclipse Paho client.
package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/bus"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/config"
)

const (
	defaultTimeout = 10 * time.Second
	quiesceMillis  = 250
)

// ErrTimeout is returned when the broker does not acknowledge in time
var ErrTimeout = errors.New("mqtt operation timed out")

// Client wraps a paho client. It serves as both bus.Transport and
// bus.Producer.
type Client struct {
	config  config.BusConfig
	timeout time.Duration

	newClient func(*paho.ClientOptions) paho.Client

	mu     sync.Mutex
	client paho.Client
}

// NewClient prepares an MQTT client. Nothing is dialled until Connect.
func NewClient(cfg config.BusConfig) *Client {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "sensor-" + uuid.NewString()
	}
	return &Client{
		config:    cfg,
		timeout:   timeout,
		newClient: paho.NewClient,
	}
}

func (c *Client) options(events bus.ConnectionEvents) *paho.ClientOptions {
	opts := paho.NewClientOptions()
	for _, broker := range c.config.Brokers {
		opts.AddBroker(broker)
	}
	opts.SetClientID(c.config.ClientID)
	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}
	if c.config.TLS {
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: c.config.InsecureSkipVerify}) //nolint:gosec
	}
	opts.SetConnectTimeout(c.timeout)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(true)
	opts.SetCleanSession(true)

	opts.SetOnConnectHandler(func(paho.Client) {
		if events.OnConnect != nil {
			events.OnConnect()
		}
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		if events.OnConnectionLost != nil {
			events.OnConnectionLost(err)
		}
	})
	return opts
}

// Connect dials the broker. The client reconnects on its own afterwards and
// calls events.OnConnect each time.
func (c *Client) Connect(ctx context.Context, events bus.ConnectionEvents) error {
	client := c.newClient(c.options(events))

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	if err := c.wait(ctx, client.Connect()); err != nil {
		return fmt.Errorf("failed to connect to %v: %w", c.config.Brokers, err)
	}
	return nil
}

// Subscribe registers handler for every topic at the configured QoS
func (c *Client) Subscribe(ctx context.Context, topics []string, handler bus.Handler) error {
	client, err := c.current()
	if err != nil {
		return err
	}

	filters := make(map[string]byte, len(topics))
	for _, topic := range topics {
		filters[topic] = byte(c.config.QoS)
	}
	callback := func(_ paho.Client, msg paho.Message) {
		handler(context.WithoutCancel(ctx), bus.Message{Topic: msg.Topic(), Payload: msg.Payload()})
	}
	return c.wait(ctx, client.SubscribeMultiple(filters, callback))
}

// Unsubscribe drops the subscription for topics
func (c *Client) Unsubscribe(topics ...string) error {
	client, err := c.current()
	if err != nil {
		return err
	}
	if !client.IsConnectionOpen() {
		return errors.New("mqtt client is not connected")
	}
	return c.wait(context.Background(), client.Unsubscribe(topics...))
}

// Publish sends payload to topic at the configured QoS, not retained
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	client, err := c.current()
	if err != nil {
		return err
	}
	return c.wait(ctx, client.Publish(topic, byte(c.config.QoS), false, payload))
}

// Close disconnects from the broker
func (c *Client) Close() error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client == nil {
		return nil
	}
	client.Disconnect(quiesceMillis)
	log.Println("Disconnected from MQTT broker")
	return nil
}

func (c *Client) current() (paho.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, errors.New("mqtt client is not connected")
	}
	return c.client, nil
}

func (c *Client) wait(ctx context.Context, token paho.Token) error {
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTimeout
	}
}
