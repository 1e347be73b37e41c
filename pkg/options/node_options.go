package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var (
	_ IOptions = (*OTAOptions)(nil)
	_ IOptions = (*FlashOptions)(nil)
	_ IOptions = (*SensorOptions)(nil)
	_ IOptions = (*ConnectivityOptions)(nil)
	_ IOptions = (*PlatformOptions)(nil)
)

// OTAOptions tunes the firmware updater.
type OTAOptions struct {
	BufferSize     int           `json:"buffer-size" mapstructure:"buffer-size"`
	TickInterval   time.Duration `json:"tick-interval" mapstructure:"tick-interval"`
	ProgressStep   int           `json:"progress-step" mapstructure:"progress-step"`
	RestartGrace   time.Duration `json:"restart-grace" mapstructure:"restart-grace"`
	ConnectTimeout time.Duration `json:"connect-timeout" mapstructure:"connect-timeout"`
	ResultTimeout  time.Duration `json:"result-timeout" mapstructure:"result-timeout"`
}

func NewOTAOptions() *OTAOptions {
	return &OTAOptions{
		BufferSize:     4096,
		TickInterval:   50 * time.Millisecond,
		ProgressStep:   10,
		RestartGrace:   1500 * time.Millisecond,
		ConnectTimeout: 10 * time.Second,
		ResultTimeout:  2 * time.Second,
	}
}

func (o *OTAOptions) Validate() []error {
	var errs []error
	if o.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("ota.buffer-size must be positive"))
	}
	if o.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("ota.tick-interval must be positive"))
	}
	if o.ProgressStep <= 0 || o.ProgressStep > 100 {
		errs = append(errs, fmt.Errorf("ota.progress-step must be between 1 and 100"))
	}
	if o.RestartGrace < 0 {
		errs = append(errs, fmt.Errorf("ota.restart-grace must not be negative"))
	}
	if o.ResultTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ota.result-timeout must be positive"))
	}
	return errs
}

func (o *OTAOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.IntVar(&o.BufferSize, "ota.buffer-size", o.BufferSize, "Maximum bytes read from the download stream per tick.")
	fs.DurationVar(&o.TickInterval, "ota.tick-interval", o.TickInterval, "Interval of the download step.")
	fs.IntVar(&o.ProgressStep, "ota.progress-step", o.ProgressStep, "Minimum percent increase between progress reports.")
	fs.DurationVar(&o.RestartGrace, "ota.restart-grace", o.RestartGrace, "Delay before restarting after a finished update.")
	fs.DurationVar(&o.ConnectTimeout, "ota.connect-timeout", o.ConnectTimeout, "Timeout for the firmware server to answer the request.")
	fs.DurationVar(&o.ResultTimeout, "ota.result-timeout", o.ResultTimeout, "Time a single update result may take to publish before it is dropped.")
}

// FlashOptions points the flasher at its storage.
type FlashOptions struct {
	Dir       string `json:"dir" mapstructure:"dir"`
	ImageName string `json:"image-name" mapstructure:"image-name"`
}

func NewFlashOptions() *FlashOptions {
	return &FlashOptions{
		Dir:       "/var/lib/sensornode/firmware",
		ImageName: "firmware.bin",
	}
}

func (o *FlashOptions) Validate() []error {
	var errs []error
	if o.Dir == "" {
		errs = append(errs, fmt.Errorf("flash.dir is required"))
	}
	if o.ImageName == "" {
		errs = append(errs, fmt.Errorf("flash.image-name is required"))
	}
	return errs
}

func (o *FlashOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Dir, "flash.dir", o.Dir, "Directory receiving the firmware image.")
	fs.StringVar(&o.ImageName, "flash.image-name", o.ImageName, "File name of the committed firmware image.")
}

// SensorOptions configures peripheral polling.
type SensorOptions struct {
	PeripheralsFile string        `json:"peripherals-file" mapstructure:"peripherals-file"`
	PollInterval    time.Duration `json:"poll-interval" mapstructure:"poll-interval"`
}

func NewSensorOptions() *SensorOptions {
	return &SensorOptions{
		PollInterval: time.Second,
	}
}

func (o *SensorOptions) Validate() []error {
	var errs []error
	if o.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("sensor.poll-interval must be positive"))
	}
	return errs
}

func (o *SensorOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.PeripheralsFile, "sensor.peripherals-file", o.PeripheralsFile, "YAML file describing the attached peripherals.")
	fs.DurationVar(&o.PollInterval, "sensor.poll-interval", o.PollInterval, "Interval between two sensor readings.")
}

// ConnectivityOptions configures the link watchdog.
type ConnectivityOptions struct {
	CheckInterval time.Duration `json:"check-interval" mapstructure:"check-interval"`
	// RestartAfter restarts the node once the link has been down that long. Zero disables it.
	RestartAfter time.Duration `json:"restart-after" mapstructure:"restart-after"`
}

func NewConnectivityOptions() *ConnectivityOptions {
	return &ConnectivityOptions{
		CheckInterval: 100 * time.Millisecond,
		RestartAfter:  0,
	}
}

func (o *ConnectivityOptions) Validate() []error {
	var errs []error
	if o.CheckInterval <= 0 {
		errs = append(errs, fmt.Errorf("connectivity.check-interval must be positive"))
	}
	if o.RestartAfter < 0 {
		errs = append(errs, fmt.Errorf("connectivity.restart-after must not be negative"))
	}
	return errs
}

func (o *ConnectivityOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.CheckInterval, "connectivity.check-interval", o.CheckInterval, "Interval of the link check.")
	fs.DurationVar(&o.RestartAfter, "connectivity.restart-after", o.RestartAfter, "Restart the node after the link has been down this long (0 disables).")
}

// Supported values for PlatformOptions.Kind.
const (
	PlatformExec   = "exec"
	PlatformReboot = "reboot"
	PlatformNone   = "none"
)

// PlatformOptions selects how the node identifies and restarts itself.
type PlatformOptions struct {
	Kind            string `json:"kind" mapstructure:"kind"`
	DeviceID        string `json:"device-id" mapstructure:"device-id"`
	FirmwareVersion string `json:"firmware-version" mapstructure:"firmware-version"`
}

func NewPlatformOptions() *PlatformOptions {
	return &PlatformOptions{
		Kind:            PlatformExec,
		FirmwareVersion: "0.0.0-dev",
	}
}

func (o *PlatformOptions) Validate() []error {
	var errs []error
	switch o.Kind {
	case PlatformExec, PlatformReboot, PlatformNone:
	default:
		errs = append(errs, fmt.Errorf("unknown platform %q", o.Kind))
	}
	return errs
}

func (o *PlatformOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Kind, "platform.kind", o.Kind, "Restart strategy: 'exec', 'reboot' or 'none'. With 'none' a finished update with restart requested leaves the updater refusing further commands until the process is restarted.")
	fs.StringVar(&o.DeviceID, "platform.device-id", o.DeviceID, "Node identity. Derived from the hostname when empty.")
	fs.StringVar(&o.FirmwareVersion, "platform.firmware-version", o.FirmwareVersion, "Reported firmware version.")
}
