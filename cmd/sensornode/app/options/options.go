package options

import (
	"fmt"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/sensornode/internal/node"
	"github.com/autopeer-io/sensornode/pkg/log"
	"github.com/autopeer-io/sensornode/pkg/options"
)

// NodeOptions configures `sensornode run`.
type NodeOptions struct {
	MqttOptions         *options.MqttOptions         `json:"mqtt" mapstructure:"mqtt"`
	TransportOptions    *options.TransportOptions    `json:"transport" mapstructure:"transport"`
	HttpOptions         *options.HttpOptions         `json:"http" mapstructure:"http"`
	OTAOptions          *options.OTAOptions          `json:"ota" mapstructure:"ota"`
	FlashOptions        *options.FlashOptions        `json:"flash" mapstructure:"flash"`
	SensorOptions       *options.SensorOptions       `json:"sensor" mapstructure:"sensor"`
	ConnectivityOptions *options.ConnectivityOptions `json:"connectivity" mapstructure:"connectivity"`
	PlatformOptions     *options.PlatformOptions     `json:"platform" mapstructure:"platform"`
	Log                 *log.Options                 `json:"log" mapstructure:"log"`
}

func NewNodeOptions() *NodeOptions {
	return &NodeOptions{
		MqttOptions:         options.NewMqttOptions(),
		TransportOptions:    options.NewTransportOptions(),
		HttpOptions:         options.NewHttpOptions(),
		OTAOptions:          options.NewOTAOptions(),
		FlashOptions:        options.NewFlashOptions(),
		SensorOptions:       options.NewSensorOptions(),
		ConnectivityOptions: options.NewConnectivityOptions(),
		PlatformOptions:     options.NewPlatformOptions(),
		Log:                 log.NewOptions(),
	}
}

func (o *NodeOptions) Flags() (fss cliflag.NamedFlagSets) {
	o.TransportOptions.AddFlags(fss.FlagSet("Transport"))
	o.MqttOptions.AddFlags(fss.FlagSet("MQTT"))
	o.OTAOptions.AddFlags(fss.FlagSet("OTA"))
	o.FlashOptions.AddFlags(fss.FlagSet("Flash"))
	o.SensorOptions.AddFlags(fss.FlagSet("Sensor"))
	o.ConnectivityOptions.AddFlags(fss.FlagSet("Connectivity"))
	o.PlatformOptions.AddFlags(fss.FlagSet("Platform"))
	o.HttpOptions.AddFlags(fss.FlagSet("HTTP"))
	o.Log.AddFlags(fss.FlagSet("Log"))
	return fss
}

func (o *NodeOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.TransportOptions.Validate()...)
	if o.TransportOptions.Kind == options.TransportMQTT {
		errs = append(errs, o.MqttOptions.Validate()...)
	}
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.OTAOptions.Validate()...)
	errs = append(errs, o.FlashOptions.Validate()...)
	errs = append(errs, o.SensorOptions.Validate()...)
	errs = append(errs, o.ConnectivityOptions.Validate()...)
	errs = append(errs, o.PlatformOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *NodeOptions) Config() (*node.Config, error) {
	return &node.Config{
		MqttOptions:         o.MqttOptions,
		TransportOptions:    o.TransportOptions,
		HttpOptions:         o.HttpOptions,
		OTAOptions:          o.OTAOptions,
		FlashOptions:        o.FlashOptions,
		SensorOptions:       o.SensorOptions,
		ConnectivityOptions: o.ConnectivityOptions,
		PlatformOptions:     o.PlatformOptions,
	}, nil
}

// ReleaseOptions configures `sensornode release`.
type ReleaseOptions struct {
	S3Options        *options.S3Options        `json:"s3" mapstructure:"s3"`
	MqttOptions      *options.MqttOptions      `json:"mqtt" mapstructure:"mqtt"`
	TransportOptions *options.TransportOptions `json:"transport" mapstructure:"transport"`
	Log              *log.Options              `json:"log" mapstructure:"log"`

	Image   string   `json:"image" mapstructure:"image"`
	Key     string   `json:"key" mapstructure:"key"`
	Restart bool     `json:"restart" mapstructure:"restart"`
	Nodes   []string `json:"nodes" mapstructure:"nodes"`
	// PublishTimeout bounds connecting to the broker and publishing.
	PublishTimeout time.Duration `json:"publish-timeout" mapstructure:"publish-timeout"`
}

func NewReleaseOptions() *ReleaseOptions {
	return &ReleaseOptions{
		S3Options:        options.NewS3Options(),
		MqttOptions:      options.NewMqttOptions(),
		TransportOptions: options.NewTransportOptions(),
		Log:              log.NewOptions(),
		Restart:          true,
		PublishTimeout:   30 * time.Second,
	}
}

func (o *ReleaseOptions) Flags() (fss cliflag.NamedFlagSets) {
	fs := fss.FlagSet("Release")
	fs.StringVar(&o.Image, "image", o.Image, "Path of the firmware image to release.")
	fs.StringVar(&o.Key, "key", o.Key, "Object key of the image. Defaults to the file name.")
	fs.BoolVar(&o.Restart, "restart", o.Restart, "Ask the nodes to restart after a successful update.")
	fs.StringSliceVar(&o.Nodes, "nodes", o.Nodes, "Node ids to send the update command to. Empty prints the command only.")
	fs.DurationVar(&o.PublishTimeout, "publish-timeout", o.PublishTimeout, "Timeout for connecting to the server link and publishing.")

	o.S3Options.AddFlags(fss.FlagSet("S3"))
	o.TransportOptions.AddFlags(fss.FlagSet("Transport"))
	o.MqttOptions.AddFlags(fss.FlagSet("MQTT"))
	o.Log.AddFlags(fss.FlagSet("Log"))
	return fss
}

func (o *ReleaseOptions) Validate() error {
	errs := []error{}
	if o.Image == "" {
		errs = append(errs, fmt.Errorf("--image is required"))
	}
	errs = append(errs, o.S3Options.Validate()...)
	if len(o.Nodes) > 0 {
		switch o.TransportOptions.Kind {
		case options.TransportMQTT:
			errs = append(errs, o.MqttOptions.Validate()...)
		case options.TransportNATS:
			errs = append(errs, o.TransportOptions.Validate()...)
		default:
			errs = append(errs, fmt.Errorf("publishing is not supported over the %s transport", o.TransportOptions.Kind))
		}
	}
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}
