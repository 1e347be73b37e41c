package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*HttpOptions)(nil)

// HttpOptions configures the node's local health and metrics endpoint.
type HttpOptions struct {
	// Network is tcp, tcp4 or tcp6.
	Network string `json:"network" mapstructure:"network"`

	// Addr is the listen address. Empty disables the endpoint.
	Addr string `json:"addr" mapstructure:"addr"`

	// Timeout bounds reads, writes and graceful shutdown.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

func NewHttpOptions() *HttpOptions {
	return &HttpOptions{
		Network: "tcp",
		Addr:    "0.0.0.0:9090",
		Timeout: 10 * time.Second,
	}
}

// Validate skips everything when the endpoint is disabled.
func (o *HttpOptions) Validate() []error {
	if o == nil || o.Addr == "" {
		return nil
	}

	var errs []error
	switch o.Network {
	case "tcp", "tcp4", "tcp6":
	default:
		errs = append(errs, fmt.Errorf("http.network must be tcp, tcp4 or tcp6, got %q", o.Network))
	}
	if err := ValidateAddress(o.Addr); err != nil {
		errs = append(errs, err)
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("http.timeout must be positive"))
	}
	return errs
}

func (o *HttpOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Addr, "http.addr", o.Addr, "Listen address of the /healthz, /readyz and /metrics endpoint. Empty disables it.")
	fs.StringVar(&o.Network, "http.network", o.Network, "Listen network: tcp, tcp4 or tcp6.")
	fs.DurationVar(&o.Timeout, "http.timeout", o.Timeout, "Read, write and shutdown timeout of the endpoint.")
}
