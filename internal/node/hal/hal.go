// Package hal is the node's view of the machine it runs on: identity,
// firmware version and restart.
package hal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/sensornode/internal/node/core"
	"github.com/autopeer-io/sensornode/pkg/log"
)

// Restart strategies.
const (
	KindExec   = "exec"
	KindReboot = "reboot"
	KindNone   = "none"
)

// EnvDeviceID overrides every other identity source.
const EnvDeviceID = "SENSORNODE_DEVICE_ID"

// ErrRestartDisabled is returned by the none platform. The node keeps running
// the old image until it is restarted by other means.
var ErrRestartDisabled = errors.New("restart disabled on this platform")

var deviceIDFiles = []string{"/etc/sensornode/device-id", "/etc/machine-id"}

type Platform struct {
	kind     string
	deviceID string
	version  string
	clock    clock.Clock
	restart  func() error
}

var _ core.Platform = (*Platform)(nil)

// New returns the platform for kind. An empty deviceID is discovered.
func New(kind, deviceID, version string, clk clock.Clock) (*Platform, error) {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if deviceID == "" {
		deviceID = DiscoverDeviceID()
	}

	p := &Platform{kind: kind, deviceID: deviceID, version: version, clock: clk}
	switch kind {
	case KindExec:
		p.restart = reexec
	case KindReboot:
		p.restart = reboot
	case KindNone:
		p.restart = func() error { return ErrRestartDisabled }
	default:
		return nil, fmt.Errorf("unknown platform kind %q", kind)
	}
	return p, nil
}

func (p *Platform) DeviceID() string        { return p.deviceID }
func (p *Platform) FirmwareVersion() string { return p.version }
func (p *Platform) Kind() string            { return p.kind }

// Restart waits for grace so queued messages can leave, then restarts.
func (p *Platform) Restart(ctx context.Context, grace time.Duration) error {
	log.Warn(">>> RESTART REQUESTED <<<", "kind", p.kind, "grace", grace)

	if grace > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.clock.After(grace):
		}
	}
	return p.restart()
}

// DiscoverDeviceID looks at the environment, then well-known files, then
// the hostname. As a last resort a random id is generated.
func DiscoverDeviceID() string {
	if envID := os.Getenv(EnvDeviceID); envID != "" {
		log.Info("DeviceID detected from env", "id", envID)
		return envID
	}

	for _, path := range deviceIDFiles {
		if content, err := os.ReadFile(path); err == nil {
			if id := strings.TrimSpace(string(content)); id != "" {
				log.Info("DeviceID detected from file", "id", id, "path", path)
				return id
			}
		}
	}

	if host, err := os.Hostname(); err == nil && host != "" && host != "localhost" {
		return host
	}

	id := "node-" + uuid.NewString()[:8]
	log.Warn("No stable DeviceID found, using a random one", "id", id)
	return id
}
