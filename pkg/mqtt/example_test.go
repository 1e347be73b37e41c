package mqtt_test

import (
	"context"
	"fmt"
	"time"

	"github.com/autopeer-io/sensornode/pkg/log"
	"github.com/autopeer-io/sensornode/pkg/mqtt"
	"github.com/autopeer-io/sensornode/pkg/mqtt/topic"
)

// ExampleClient shows how a node wires the MQTT client: start, subscribe to
// its command topic, wait for the link and publish a result.
func ExampleClient() {
	topics := topic.NewBuilder("node/v1")

	cfg := &mqtt.ClientConfig{
		BrokerURL:      "tcp://localhost:1883",
		ClientID:       "sensornode-n-01",
		KeepAlive:      60,
		ConnectTimeout: 5 * time.Second,
		// Retained offline marker, published by the broker if the node vanishes.
		WillTopic:   topics.Build("online", "n-01"),
		WillPayload: []byte(`{"online":false}`),
		WillQoS:     1,
		WillRetain:  true,
	}

	client, err := mqtt.NewClient(cfg)
	if err != nil {
		log.Error(err, "Failed to create MQTT client")
		return
	}

	// Start returns immediately; autopaho keeps reconnecting in the background.
	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		log.Error(err, "Failed to start MQTT client")
		return
	}

	// Handlers run on their own goroutine and must not block for long.
	onCommand := func(ctx context.Context, topic string, payload []byte) {
		fmt.Printf("command on %s: %s\n", topic, string(payload))
	}

	if err := client.Subscribe(ctx, topics.Build("command", "n-01"), 1, onCommand); err != nil {
		log.Error(err, "Failed to subscribe")
	}

	if err := client.AwaitConnection(ctx); err != nil {
		log.Error(err, "Connection timed out")
		return
	}

	payload := []byte(`{"type":"result","update":{"status":"start"}}`)
	if err := client.Publish(ctx, topics.Build("result", "n-01"), 1, false, payload); err != nil {
		log.Error(err, "Failed to publish result")
	}

	client.Disconnect(ctx)
}
