// Package nats adapts a NATS connection to the topic-based client used by the
// node hub, so a node can talk to a NATS server instead of an MQTT broker.
package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/autopeer-io/sensornode/pkg/log"
	"github.com/autopeer-io/sensornode/pkg/mqtt"
)

// Config holds the NATS connection settings.
type Config struct {
	URL           string
	Name          string
	CredsFile     string
	ReconnectWait time.Duration
}

type natsClient struct {
	cfg *Config

	mu   sync.Mutex
	nc   *nats.Conn
	subs map[string]*nats.Subscription
}

var _ mqtt.Client = (*natsClient)(nil)

// NewClient returns a client that speaks NATS behind the mqtt.Client interface.
// Topics are translated to subjects: "/" -> ".", "+" -> "*", "#" -> ">".
func NewClient(cfg *Config) (mqtt.Client, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, errors.New("nats url is required")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	return &natsClient{cfg: cfg, subs: make(map[string]*nats.Subscription)}, nil
}

// Subject converts a topic or topic filter to a NATS subject.
func Subject(topic string) string {
	parts := strings.Split(topic, "/")
	for i, p := range parts {
		switch p {
		case "+":
			parts[i] = "*"
		case "#":
			parts[i] = ">"
		}
	}
	return strings.Join(parts, ".")
}

// Topic converts a NATS subject back to the slash form handlers expect.
func Topic(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}

func (c *natsClient) Start(ctx context.Context) error {
	opts := []nats.Option{
		nats.Name(c.cfg.Name),
		nats.ReconnectWait(c.cfg.ReconnectWait),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("Disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("Reconnected to NATS", "url", nc.ConnectedUrl())
		}),
	}
	if c.cfg.CredsFile != "" {
		opts = append(opts, nats.UserCredentials(c.cfg.CredsFile))
	}

	log.Info("Starting NATS Client", "url", c.cfg.URL, "name", c.cfg.Name)
	nc, err := nats.Connect(c.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to nats: %w", err)
	}

	c.mu.Lock()
	c.nc = nc
	c.mu.Unlock()
	return nil
}

func (c *natsClient) conn() (*nats.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nc == nil {
		return nil, fmt.Errorf("client not started")
	}
	return c.nc, nil
}

func (c *natsClient) Disconnect(ctx context.Context) {
	nc, err := c.conn()
	if err != nil {
		return
	}
	if err := nc.Drain(); err != nil {
		nc.Close()
	}
	log.Info("NATS Client disconnected")
}

// Publish ignores qos and retain; NATS core has neither.
func (c *natsClient) Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error {
	nc, err := c.conn()
	if err != nil {
		return err
	}
	return nc.Publish(Subject(topic), payload)
}

func (c *natsClient) Subscribe(ctx context.Context, topic string, qos int, handler mqtt.MessageHandler) error {
	nc, err := c.conn()
	if err != nil {
		return err
	}

	sub, err := nc.Subscribe(Subject(topic), func(m *nats.Msg) {
		handler(context.Background(), Topic(m.Subject), m.Data)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	c.mu.Lock()
	c.subs[topic] = sub
	c.mu.Unlock()

	log.Info("Subscribed to subject", "subject", sub.Subject)
	return nil
}

func (c *natsClient) Unsubscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	sub, ok := c.subs[topic]
	delete(c.subs, topic)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return sub.Unsubscribe()
}

func (c *natsClient) AwaitConnection(ctx context.Context) error {
	nc, err := c.conn()
	if err != nil {
		return err
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for !nc.IsConnected() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (c *natsClient) IsConnected() bool {
	nc, err := c.conn()
	if err != nil {
		return false
	}
	return nc.IsConnected()
}
