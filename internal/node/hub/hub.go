package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/autopeer-io/sensornode/internal/node/core"
	"github.com/autopeer-io/sensornode/pkg/log"
	"github.com/autopeer-io/sensornode/pkg/mqtt"
	mqtttopic "github.com/autopeer-io/sensornode/pkg/mqtt/topic"
)

// Hub maps node events onto topics of the server link. Any mqtt.Client
// implementation works as the link.
type Hub struct {
	nodeID  string
	rootCAs string

	mc     mqtt.Client
	topics *mqtttopic.Builder

	mu     sync.Mutex
	routes map[string]core.HandlerFunc
}

var (
	_ core.Sender   = (*Hub)(nil)
	_ core.Server   = (*Hub)(nil)
	_ core.Services = (*Hub)(nil)
)

// New returns a hub for nodeID. rootCAs is the PEM bundle handed out for
// HTTPS downloads.
func New(nodeID string, client mqtt.Client, topicbuilder *mqtttopic.Builder, rootCAs string) *Hub {
	return &Hub{
		nodeID:  nodeID,
		rootCAs: rootCAs,
		mc:      client,
		topics:  topicbuilder,
		routes:  make(map[string]core.HandlerFunc),
	}
}

func (b *Hub) Send(ctx context.Context, event core.EventType, payload []byte) error {
	segment, ok := events[event]
	if !ok {
		return fmt.Errorf("unmapped event: %s", event)
	}
	fullTopic := b.topics.Build(segment, b.nodeID)
	return b.mc.Publish(ctx, fullTopic, 1, retained[event], payload)
}

func (b *Hub) SendProto(ctx context.Context, event core.EventType, msg proto.Message) error {
	payload, err := protojson.Marshal(msg)
	if err != nil {
		return err
	}
	return b.Send(ctx, event, payload)
}

func (b *Hub) IsConnected() bool {
	return b.mc.IsConnected()
}

// RootCertificates implements core.Server.
func (b *Hub) RootCertificates() string {
	return b.rootCAs
}

// SendResult implements core.Server.
func (b *Hub) SendResult(ctx context.Context, msg proto.Message) error {
	return b.SendProto(ctx, core.EventUpdateResult, msg)
}

// Server implements core.Services. There is no server while the link is down.
func (b *Hub) Server() core.Server {
	if !b.mc.IsConnected() {
		return nil
	}
	return b
}

// Start connects the link and subscribes every registered route. It does not
// wait for the link to come up.
func (b *Hub) Start(ctx context.Context) error {
	if err := b.mc.Start(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, handler := range b.routes {
		err := b.mc.Subscribe(ctx, topic, 1, func(c context.Context, t string, p []byte) {
			if handleErr := handler(c, p); handleErr != nil {
				log.Error(handleErr, "Handler execution failed", "topic", t)
			}
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// AwaitConnection blocks until the link is up or ctx is done.
func (b *Hub) AwaitConnection(ctx context.Context) error {
	return b.mc.AwaitConnection(ctx)
}

func (b *Hub) Stop() {
	log.Info("Disconnecting server link...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b.mc.Disconnect(ctx)
}
