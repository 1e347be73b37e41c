package core

import (
	"context"
	"time"
)

// Platform abstracts the machine the node runs on.
type Platform interface {
	DeviceID() string
	FirmwareVersion() string

	// Restart waits for grace, then restarts the node. It does not return on success.
	Restart(ctx context.Context, grace time.Duration) error
}
