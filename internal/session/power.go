// internal/session/power.go
package session

import (
	"fmt"
	"os/exec"
)

// Power shuts down or restarts the host.
type Power interface {
	Shutdown(force bool) error
	Restart(force bool) error
}

// SystemPower drives the host's shutdown command.
type SystemPower struct{}

func (SystemPower) Shutdown(force bool) error {
	args := []string{"-h", "now"}
	if force {
		args = []string{"-h", "now", "-f"}
	}
	if out, err := exec.Command("shutdown", args...).CombinedOutput(); err != nil {
		return fmt.Errorf("shutdown: %w: %s", err, out)
	}
	return nil
}

func (SystemPower) Restart(force bool) error {
	args := []string{"-r", "now"}
	if force {
		args = []string{"-r", "now", "-f"}
	}
	if out, err := exec.Command("shutdown", args...).CombinedOutput(); err != nil {
		return fmt.Errorf("restart: %w: %s", err, out)
	}
	return nil
}
