// Package bus defines the message bus boundary shared by the MQTT and Kafka
// transports.
package bus

import (
	"context"
)

// Message is one inbound payload and the topic it arrived on
type Message struct {
	Topic   string
	Payload []byte
}

// Handler processes one message. Transports call it for one message at a
// time per subscription.
type Handler func(ctx context.Context, msg Message)

// ConnectionEvents are invoked by a transport on every (re)connect and on
// connection loss. Either field may be nil.
type ConnectionEvents struct {
	OnConnect        func()
	OnConnectionLost func(err error)
}

// Transport is the subscribing side of the bus. Reconnection after the
// initial Connect is the transport's own responsibility.
type Transport interface {
	Connect(ctx context.Context, events ConnectionEvents) error
	Subscribe(ctx context.Context, topics []string, handler Handler) error
	Unsubscribe(topics ...string) error
	Close() error
}

// Producer is the publishing side of the bus
type Producer interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}
