// internal/inputlock/grab.go
package inputlock

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/user/hallmonitor/internal/types"
)

// grabStrategy locks a device class by launching one exclusive-grab
// subprocess per device. Each subprocess opens the device with EVIOCGRAB
// semantics and consumes every event, so nothing reaches the rest of the
// system. Handles are held in memory; unlock terminates the process
// groups directly instead of going through any on-disk bookkeeping.
type grabStrategy struct {
	directory *Directory
	// grabCommand builds the interceptor command for one device path.
	// Overridable in tests.
	grabCommand func(path string) *exec.Cmd
}

func newGrabStrategy(directory *Directory) *grabStrategy {
	return &grabStrategy{
		directory: directory,
		grabCommand: func(path string) *exec.Cmd {
			return exec.Command("evtest", "--grab", path)
		},
	}
}

func (g *grabStrategy) name() StrategyName { return StrategyGrabInterceptor }

// interceptor is one supervised grab subprocess.
type interceptor struct {
	device types.DeviceDescriptor
	cmd    *exec.Cmd
	done   chan struct{}
}

func (g *grabStrategy) lock(class types.DeviceClass) (*hold, error) {
	devices, err := g.directory.ByClass(class)
	if err != nil {
		return nil, fmt.Errorf("enumerate %s devices: %w", class, err)
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoDevices, class)
	}

	var procs []*interceptor
	cleanup := func() {
		for _, p := range procs {
			terminateGroup(p)
		}
	}

	for _, dev := range devices {
		cmd := g.grabCommand(dev.Path)
		// Own process group so the whole interceptor tree can be
		// signalled at once.
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		if err := cmd.Start(); err != nil {
			cleanup()
			return nil, classifySpawnError(dev, err)
		}

		p := &interceptor{device: dev, cmd: cmd, done: make(chan struct{})}
		go func() {
			cmd.Wait()
			close(p.done)
		}()
		procs = append(procs, p)
		slog.Info("grab interceptor started", "device", dev.Path, "name", dev.DisplayName, "pid", cmd.Process.Pid)
	}

	// Give the interceptors a moment to take the grab; an immediate exit
	// means the grab failed (missing binary privileges, busy device).
	time.Sleep(200 * time.Millisecond)
	for _, p := range procs {
		select {
		case <-p.done:
			cleanup()
			return nil, fmt.Errorf("interceptor for %s exited immediately: %w", p.device.Path, ErrPermissionDenied)
		default:
		}
	}

	return &hold{
		devices: devices,
		release: func() error {
			var firstErr error
			for _, p := range procs {
				if err := terminateGroup(p); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			return firstErr
		},
	}, nil
}

// sweep kills any grab interceptor still running, recorded or not.
// pkill exits 1 when nothing matched; that is not a failure here.
func (g *grabStrategy) sweep(types.DeviceClass) error {
	err := exec.Command("pkill", "-f", "evtest --grab").Run()
	var exitErr *exec.ExitError
	if err != nil && !(errors.As(err, &exitErr) && exitErr.ExitCode() == 1) {
		return fmt.Errorf("sweep interceptors: %w", err)
	}
	return nil
}

// terminateGroup signals the interceptor's process group with SIGTERM,
// escalating to SIGKILL if it does not exit promptly, and waits for the
// supervisor goroutine to observe the exit.
func terminateGroup(p *interceptor) error {
	if p.cmd.Process == nil {
		return nil
	}
	pgid := p.cmd.Process.Pid

	select {
	case <-p.done:
		return nil // already exited
	default:
	}

	if err := unix.Kill(-pgid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("terminate interceptor group %d: %w", pgid, err)
	}

	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		unix.Kill(-pgid, unix.SIGKILL)
		<-p.done
	}
	slog.Info("grab interceptor stopped", "device", p.device.Path, "pid", pgid)
	return nil
}

func classifySpawnError(dev types.DeviceDescriptor, err error) error {
	switch {
	case errors.Is(err, exec.ErrNotFound):
		return fmt.Errorf("%w: evtest not installed", ErrStrategyUnavailable)
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		return fmt.Errorf("%w: cannot grab %s", ErrPermissionDenied, dev.Path)
	default:
		return fmt.Errorf("start interceptor for %s: %w", dev.Path, err)
	}
}
