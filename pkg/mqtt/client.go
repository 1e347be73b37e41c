package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/autopeer-io/sensornode/pkg/log"
)

var errNotStarted = errors.New("mqtt client not started")

type pahoClient struct {
	cfg *ClientConfig
	cm  *autopaho.ConnectionManager

	mu   sync.RWMutex
	subs map[string]subscription // keyed by the filter as given to Subscribe

	connected atomic.Bool
}

type subscription struct {
	filter  string
	match   string // filter without a $share/<group>/ prefix
	qos     byte
	handler MessageHandler
}

// NewClient validates cfg, fills in defaults and returns an unstarted client.
func NewClient(cfg *ClientConfig) (Client, error) {
	if cfg == nil {
		return nil, errors.New("mqtt config is required")
	}
	setDefaultConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mqtt config: %w", err)
	}
	return &pahoClient{cfg: cfg, subs: make(map[string]subscription)}, nil
}

func (c *pahoClient) Start(ctx context.Context) error {
	broker, err := url.Parse(c.cfg.BrokerURL)
	if err != nil {
		return err
	}

	log.Info("Connecting to MQTT broker", "broker", c.cfg.BrokerURL, "clientID", c.cfg.ClientID)

	cm, err := autopaho.NewConnection(ctx, autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{broker},
		KeepAlive:                     c.cfg.KeepAlive,
		CleanStartOnInitialConnection: c.cfg.CleanStart,
		SessionExpiryInterval:         c.cfg.SessionExpiry,
		ReconnectBackoff:              autopaho.NewConstantBackoff(c.cfg.ReconnectInterval),
		ConnectTimeout:                c.cfg.ConnectTimeout,
		ConnectUsername:               c.cfg.Username,
		ConnectPassword:               []byte(c.cfg.Password),
		TlsCfg: &tls.Config{
			InsecureSkipVerify: c.cfg.InsecureSkipVerify,
			RootCAs:            c.cfg.RootCAs,
		},
		WillMessage:    c.will(),
		OnConnectionUp: c.onConnectionUp,
		OnConnectError: c.onConnectError,
		ClientConfig: paho.ClientConfig{
			ClientID:           c.cfg.ClientID,
			OnClientError:      c.onClientError,
			OnServerDisconnect: c.onServerDisconnect,
			OnPublishReceived:  []func(paho.PublishReceived) (bool, error){c.dispatch},
		},
	})
	if err != nil {
		return err
	}
	c.cm = cm
	return nil
}

func (c *pahoClient) Disconnect(ctx context.Context) {
	if c.cm == nil {
		return
	}
	c.connected.Store(false)
	if err := c.cm.Disconnect(ctx); err != nil {
		log.Warn("MQTT disconnect was not clean", "err", err)
		return
	}
	log.Info("MQTT client disconnected")
}

func (c *pahoClient) Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error {
	if c.cm == nil {
		return errNotStarted
	}
	_, err := c.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     byte(qos),
		Retain:  retain,
		Payload: payload,
	})
	return err
}

func (c *pahoClient) Subscribe(ctx context.Context, filter string, qos int, handler MessageHandler) error {
	if c.cm == nil {
		return errNotStarted
	}

	s := subscription{filter: filter, match: stripShare(filter), qos: byte(qos), handler: handler}
	c.mu.Lock()
	c.subs[filter] = s
	c.mu.Unlock()

	// onConnectionUp sends it later
	if !c.connected.Load() {
		log.Debug("Deferring subscription until connected", "topic", filter)
		return nil
	}

	if _, err := c.cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: filter, QoS: s.qos}},
	}); err != nil {
		return fmt.Errorf("subscribe %s: %w", filter, err)
	}
	log.Info("Subscribed", "topic", filter)
	return nil
}

func (c *pahoClient) Unsubscribe(ctx context.Context, filter string) error {
	if c.cm == nil {
		return errNotStarted
	}
	c.mu.Lock()
	delete(c.subs, filter)
	c.mu.Unlock()

	_, err := c.cm.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{filter}})
	return err
}

func (c *pahoClient) AwaitConnection(ctx context.Context) error {
	if c.cm == nil {
		return errNotStarted
	}
	return c.cm.AwaitConnection(ctx)
}

// IsConnected reports the link state last seen by the connection hooks.
func (c *pahoClient) IsConnected() bool {
	return c.connected.Load()
}

// options returns the current subscriptions in a stable order.
func (c *pahoClient) options() []paho.SubscribeOptions {
	c.mu.RLock()
	defer c.mu.RUnlock()

	opts := make([]paho.SubscribeOptions, 0, len(c.subs))
	for _, s := range c.subs {
		opts = append(opts, paho.SubscribeOptions{Topic: s.filter, QoS: s.qos})
	}
	sort.Slice(opts, func(i, j int) bool { return opts[i].Topic < opts[j].Topic })
	return opts
}

func (c *pahoClient) onConnectionUp(cm *autopaho.ConnectionManager, _ *paho.Connack) {
	c.connected.Store(true)

	opts := c.options()
	log.Info("MQTT connection up", "subscriptions", len(opts))
	if len(opts) == 0 {
		return
	}
	if _, err := cm.Subscribe(context.Background(), &paho.Subscribe{Subscriptions: opts}); err != nil {
		log.Error(err, "Failed to restore subscriptions")
	}
}

func (c *pahoClient) onConnectError(err error) {
	c.connected.Store(false)
	log.Error(err, "MQTT connection attempt failed", "retryIn", c.cfg.ReconnectInterval)
}

func (c *pahoClient) onClientError(err error) {
	c.connected.Store(false)
	log.Error(err, "MQTT client error")
}

func (c *pahoClient) onServerDisconnect(d *paho.Disconnect) {
	c.connected.Store(false)
	reason := ""
	if d.Properties != nil {
		reason = d.Properties.ReasonString
	}
	log.Warn("MQTT broker closed the session", "code", d.ReasonCode, "reason", reason)
}

// dispatch hands an inbound message to every matching handler. Handlers run on
// their own goroutine so the paho reader never blocks.
func (c *pahoClient) dispatch(p paho.PublishReceived) (bool, error) {
	topic := p.Packet.Topic

	c.mu.RLock()
	var handlers []MessageHandler
	for _, s := range c.subs {
		if TopicsMatch(s.match, topic) {
			handlers = append(handlers, s.handler)
		}
	}
	c.mu.RUnlock()

	if len(handlers) == 0 {
		log.Debug("Dropping message on unhandled topic", "topic", topic)
		return true, nil
	}
	for _, h := range handlers {
		go h(context.Background(), topic, p.Packet.Payload)
	}
	return true, nil
}

func (c *pahoClient) will() *paho.WillMessage {
	if c.cfg.WillTopic == "" {
		return nil
	}
	return &paho.WillMessage{
		Topic:   c.cfg.WillTopic,
		Payload: c.cfg.WillPayload,
		QoS:     c.cfg.WillQoS,
		Retain:  c.cfg.WillRetain,
	}
}
