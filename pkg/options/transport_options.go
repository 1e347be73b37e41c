package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/autopeer-io/sensornode/pkg/nats"
	"github.com/autopeer-io/sensornode/pkg/websocket"
)

// Supported values for TransportOptions.Kind.
const (
	TransportMQTT      = "mqtt"
	TransportNATS      = "nats"
	TransportWebSocket = "websocket"
)

var _ IOptions = (*TransportOptions)(nil)

// TransportOptions selects the link between the node and its server and
// carries the settings of the non-MQTT links.
type TransportOptions struct {
	Kind string `json:"kind" mapstructure:"kind"`

	// RootCAFile is a PEM bundle used for the server link and handed to
	// HTTPS firmware downloads.
	RootCAFile string `json:"root-ca-file" mapstructure:"root-ca-file"`

	NatsURL       string `json:"nats-url" mapstructure:"nats-url"`
	NatsCredsFile string `json:"nats-creds-file" mapstructure:"nats-creds-file"`

	WebSocketURL   string        `json:"websocket-url" mapstructure:"websocket-url"`
	WebSocketToken string        `json:"websocket-token" mapstructure:"websocket-token"`
	ReconnectWait  time.Duration `json:"reconnect-wait" mapstructure:"reconnect-wait"`
}

func NewTransportOptions() *TransportOptions {
	return &TransportOptions{
		Kind:          TransportMQTT,
		NatsURL:       "nats://localhost:4222",
		ReconnectWait: 5 * time.Second,
	}
}

func (o *TransportOptions) Validate() []error {
	var errs []error
	switch o.Kind {
	case TransportMQTT:
	case TransportNATS:
		if o.NatsURL == "" {
			errs = append(errs, fmt.Errorf("transport.nats-url is required for the nats transport"))
		}
	case TransportWebSocket:
		if o.WebSocketURL == "" {
			errs = append(errs, fmt.Errorf("transport.websocket-url is required for the websocket transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", o.Kind))
	}
	return errs
}

func (o *TransportOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Kind, "transport.kind", o.Kind, "Server link: 'mqtt', 'nats' or 'websocket'.")
	fs.StringVar(&o.RootCAFile, "transport.root-ca-file", o.RootCAFile, "PEM bundle of root certificates for TLS links and HTTPS downloads.")
	fs.StringVar(&o.NatsURL, "transport.nats-url", o.NatsURL, "NATS server URL.")
	fs.StringVar(&o.NatsCredsFile, "transport.nats-creds-file", o.NatsCredsFile, "NATS user credentials file.")
	fs.StringVar(&o.WebSocketURL, "transport.websocket-url", o.WebSocketURL, "WebSocket endpoint of the server.")
	fs.StringVar(&o.WebSocketToken, "transport.websocket-token", o.WebSocketToken, "Bearer token for the WebSocket endpoint.")
	fs.DurationVar(&o.ReconnectWait, "transport.reconnect-wait", o.ReconnectWait, "Delay between reconnection attempts for nats and websocket.")
}

func (o *TransportOptions) ToNatsConfig(name string) *nats.Config {
	return &nats.Config{
		URL:           o.NatsURL,
		Name:          name,
		CredsFile:     o.NatsCredsFile,
		ReconnectWait: o.ReconnectWait,
	}
}

func (o *TransportOptions) ToWebSocketConfig() *websocket.Config {
	return &websocket.Config{
		URL:               o.WebSocketURL,
		Token:             o.WebSocketToken,
		ReconnectInterval: o.ReconnectWait,
	}
}
