package node

import (
	"crypto/x509"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/sensornode/internal/node/connectivity"
	"github.com/autopeer-io/sensornode/internal/node/core"
	"github.com/autopeer-io/sensornode/internal/node/flash"
	"github.com/autopeer-io/sensornode/internal/node/hal"
	"github.com/autopeer-io/sensornode/internal/node/hub"
	"github.com/autopeer-io/sensornode/internal/node/ota"
	"github.com/autopeer-io/sensornode/internal/node/scheduler"
	"github.com/autopeer-io/sensornode/internal/node/sensor"
	"github.com/autopeer-io/sensornode/internal/node/server"
	"github.com/autopeer-io/sensornode/internal/pkg/mqtt/paths"
	"github.com/autopeer-io/sensornode/pkg/mqtt"
	mqtttopic "github.com/autopeer-io/sensornode/pkg/mqtt/topic"
	"github.com/autopeer-io/sensornode/pkg/nats"
	"github.com/autopeer-io/sensornode/pkg/options"
	"github.com/autopeer-io/sensornode/pkg/websocket"
)

type Config struct {
	MqttOptions         *options.MqttOptions
	TransportOptions    *options.TransportOptions
	HttpOptions         *options.HttpOptions
	OTAOptions          *options.OTAOptions
	FlashOptions        *options.FlashOptions
	SensorOptions       *options.SensorOptions
	ConnectivityOptions *options.ConnectivityOptions
	PlatformOptions     *options.PlatformOptions
}

func (cfg *Config) NewAgent() (*Agent, error) {
	clk := clock.RealClock{}

	platform, err := hal.New(cfg.PlatformOptions.Kind, cfg.PlatformOptions.DeviceID, cfg.PlatformOptions.FirmwareVersion, clk)
	if err != nil {
		return nil, err
	}
	nodeID := platform.DeviceID()
	if nodeID == "" {
		return nil, fmt.Errorf("FATAL: unable to determine the device id")
	}

	rootPEM, rootPool, err := hub.LoadRootCAs(cfg.TransportOptions.RootCAFile)
	if err != nil {
		return nil, err
	}

	topics := mqtttopic.NewBuilder(cfg.MqttOptions.TopicRoot)
	link, err := cfg.newLink(nodeID, topics, rootPool)
	if err != nil {
		return nil, fmt.Errorf("failed to init server link: %w", err)
	}

	specs, err := sensor.LoadFile(cfg.SensorOptions.PeripheralsFile)
	if err != nil {
		return nil, err
	}
	peripherals, err := sensor.DefaultRegistry().CreateAll(specs)
	if err != nil {
		return nil, err
	}

	otaOpts := cfg.OTAOptions
	updater := ota.NewUpdater(
		ota.Config{
			BufferSize:    otaOpts.BufferSize,
			TickInterval:  otaOpts.TickInterval,
			ProgressStep:  otaOpts.ProgressStep,
			RestartGrace:  otaOpts.RestartGrace,
			ResultTimeout: otaOpts.ResultTimeout,
		},
		flash.NewOS(cfg.FlashOptions.Dir, cfg.FlashOptions.ImageName),
		func() ota.Client { return ota.NewHTTPClient(otaOpts.ConnectTimeout, otaOpts.BufferSize) },
	)

	h := hub.New(nodeID, link, topics, rootPEM)
	poller := sensor.NewPoller(cfg.SensorOptions.PollInterval, peripherals)
	monitor := connectivity.NewMonitor(connectivity.Config{
		Interval:     cfg.ConnectivityOptions.CheckInterval,
		RestartAfter: cfg.ConnectivityOptions.RestartAfter,
	}, clk)

	return NewAgent(
		platform,
		h,
		scheduler.New(clk, 0),
		server.NewServer(cfg.HttpOptions, readiness(h)),
		poller.Names(),
		monitor,
		poller,
		updater,
	), nil
}

func (cfg *Config) newLink(nodeID string, topics *mqtttopic.Builder, rootCAs *x509.CertPool) (mqtt.Client, error) {
	switch cfg.TransportOptions.Kind {
	case options.TransportNATS:
		return nats.NewClient(cfg.TransportOptions.ToNatsConfig("sensornode-" + nodeID))
	case options.TransportWebSocket:
		wsConfig := cfg.TransportOptions.ToWebSocketConfig()
		wsConfig.RootCAs = rootCAs
		return websocket.NewClient(wsConfig)
	}

	mqttConfig := cfg.MqttOptions.ToClientConfig()
	if mqttConfig.ClientID == "" {
		mqttConfig.ClientID = fmt.Sprintf("sensornode-%s", nodeID)
	}
	mqttConfig.RootCAs = rootCAs

	// Broker reception time dates the will; the payload carries no timestamp.
	offline, err := onlineStatus(false, "UnexpectedDisconnect")
	if err != nil {
		return nil, err
	}
	mqttConfig.WillTopic = topics.Build(paths.Online, nodeID)
	mqttConfig.WillPayload = offline
	mqttConfig.WillQoS = 1
	mqttConfig.WillRetain = true

	return mqtt.NewClient(mqttConfig)
}

func onlineStatus(online bool, reason string) ([]byte, error) {
	fields := map[string]any{"online": online}
	if reason != "" {
		fields["reason"] = reason
	}
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	return protojson.Marshal(msg)
}

func readiness(s core.Sender) server.ReadyFunc {
	return func() error {
		if !s.IsConnected() {
			return fmt.Errorf("server link down")
		}
		return nil
	}
}
