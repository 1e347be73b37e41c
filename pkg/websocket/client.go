// Package websocket adapts a single WebSocket connection to the topic-based
// client used by the node hub. A WebSocket link carries no topics: every
// inbound text frame is handed to all subscribed handlers, and outbound
// payloads are written as text frames with their topic dropped. Messages are
// told apart by their "type" field.
package websocket

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/autopeer-io/sensornode/pkg/log"
	"github.com/autopeer-io/sensornode/pkg/mqtt"
)

// Config holds the WebSocket connection settings.
type Config struct {
	URL               string
	Token             string
	RootCAs           *x509.CertPool
	HandshakeTimeout  time.Duration
	ReconnectInterval time.Duration
}

type wsClient struct {
	cfg    *Config
	dialer *websocket.Dialer

	writeMu sync.Mutex
	connMu  sync.Mutex
	conn    *websocket.Conn

	handlers  sync.Map // topic -> mqtt.MessageHandler
	connected atomic.Bool
	up        chan struct{}
	upOnce    sync.Once
	cancel    context.CancelFunc
}

var _ mqtt.Client = (*wsClient)(nil)

// NewClient returns a client backed by a reconnecting WebSocket.
func NewClient(cfg *Config) (mqtt.Client, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, errors.New("websocket url is required")
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}

	return &wsClient{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
			TLSClientConfig:  &tls.Config{RootCAs: cfg.RootCAs},
		},
		up: make(chan struct{}),
	}, nil
}

func (c *wsClient) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	log.Info("Starting WebSocket Client", "url", c.cfg.URL)
	go c.run(ctx)
	return nil
}

// run dials, reads until the link breaks and dials again.
func (c *wsClient) run(ctx context.Context) {
	for {
		if err := c.dial(ctx); err != nil {
			log.Error(err, "WebSocket connection failed, retrying...")
		} else {
			c.readLoop(ctx)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectInterval):
		}
	}
}

func (c *wsClient) dial(ctx context.Context) error {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return err
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.connected.Store(true)
	c.upOnce.Do(func() { close(c.up) })

	log.Info("WebSocket Connection established", "url", c.cfg.URL)
	return nil
}

func (c *wsClient) readLoop(ctx context.Context) {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()

	defer func() {
		c.connected.Store(false)
		_ = conn.Close()
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("WebSocket read failed", "error", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			log.Debug("Ignoring non-text frame", "length", len(data))
			continue
		}

		c.handlers.Range(func(key, value any) bool {
			go value.(mqtt.MessageHandler)(context.Background(), key.(string), data)
			return true
		})
	}
}

func (c *wsClient) Disconnect(ctx context.Context) {
	if c.cancel != nil {
		c.cancel()
	}

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return
	}

	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	_ = conn.Close()
	c.connected.Store(false)
	log.Info("WebSocket Client disconnected")
}

func (c *wsClient) Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error {
	if !c.connected.Load() {
		return fmt.Errorf("websocket not connected")
	}

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsClient) Subscribe(ctx context.Context, topic string, qos int, handler mqtt.MessageHandler) error {
	c.handlers.Store(topic, handler)
	return nil
}

func (c *wsClient) Unsubscribe(ctx context.Context, topic string) error {
	c.handlers.Delete(topic)
	return nil
}

func (c *wsClient) AwaitConnection(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.up:
		return nil
	}
}

func (c *wsClient) IsConnected() bool {
	return c.connected.Load()
}
