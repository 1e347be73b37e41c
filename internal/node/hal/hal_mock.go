//go:build !linux

package hal

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/autopeer-io/sensornode/pkg/log"
)

func reboot() error {
	return errors.New("reboot is only supported on linux")
}

// reexec starts a fresh copy of the binary and exits this one.
func reexec() error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	cmd := exec.Command(executable, os.Args[1:]...)
	cmd.Stdout, cmd.Stderr, cmd.Env = os.Stdout, os.Stderr, os.Environ()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start new process: %w", err)
	}
	log.Info("[HAL-Mock] Started replacement process, exiting", "pid", cmd.Process.Pid)
	os.Exit(0)
	return nil
}
