package hub

import (
	"fmt"

	"github.com/autopeer-io/sensornode/internal/node/core"
	"github.com/autopeer-io/sensornode/internal/pkg/mqtt/paths"
)

var (
	events   = make(map[core.EventType]string)
	retained = make(map[core.EventType]bool)
)

// Register routes the topic of an inbound event to handler. It must be
// called before Start.
func (b *Hub) Register(event core.EventType, handler core.HandlerFunc) error {
	segment, ok := events[event]
	if !ok {
		return fmt.Errorf("unmapped event: %s", event)
	}
	fullTopic := b.topics.Build(segment, b.nodeID)

	b.mu.Lock()
	b.routes[fullTopic] = handler
	b.mu.Unlock()
	return nil
}

// Topic returns the full topic of event for this node.
func (b *Hub) Topic(event core.EventType) (string, error) {
	segment, ok := events[event]
	if !ok {
		return "", fmt.Errorf("unmapped event: %s", event)
	}
	return b.topics.Build(segment, b.nodeID), nil
}

func init() {
	events[core.EventUpdateCommand] = paths.Command
	events[core.EventUpdateResult] = paths.Result
	events[core.EventRegister] = paths.Register
	events[core.EventTelemetry] = paths.Telemetry
	events[core.EventOnline] = paths.Online

	// presence and identity outlive the connection
	retained[core.EventRegister] = true
	retained[core.EventOnline] = true
}
