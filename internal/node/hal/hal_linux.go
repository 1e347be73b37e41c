//go:build linux

package hal

import (
	"fmt"
	"os"
	"syscall"

	"github.com/autopeer-io/sensornode/pkg/log"
)

func reboot() error {
	log.Info("System is rebooting NOW...")
	syscall.Sync()
	return syscall.Reboot(syscall.LINUX_REBOOT_CMD_RESTART)
}

// reexec replaces the process with the binary on disk, so a swapped binary
// takes over with the same arguments.
func reexec() error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	log.Info("Re-executing node binary", "path", executable)
	return syscall.Exec(executable, os.Args, os.Environ())
}
