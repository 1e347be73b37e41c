package mqtt

import (
	"context"
)

// MessageHandler processes one inbound message. It runs on its own goroutine.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// Client is the node's link to its server. The paho client implements it
// natively; the nats and websocket packages map topics onto their transports.
type Client interface {
	// Start begins connecting and returns at once. Use AwaitConnection to wait.
	Start(ctx context.Context) error

	Disconnect(ctx context.Context)

	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error

	// Subscribe registers handler for a topic filter. Subscriptions survive
	// reconnects; a subscription made while offline is sent once connected.
	Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error

	Unsubscribe(ctx context.Context, topic string) error

	// AwaitConnection blocks until the link is up or ctx is done.
	AwaitConnection(ctx context.Context) error

	IsConnected() bool
}
