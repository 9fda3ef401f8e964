// internal/inputlock/xinput.go
package inputlock

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/user/hallmonitor/internal/types"
)

// runner executes a display-server utility and returns its stdout.
// Indirection over exec so the parsing and bookkeeping are testable.
type runner func(args ...string) (string, error)

func xinputRun(args ...string) (string, error) {
	out, err := exec.Command("xinput", args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("xinput %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("%w: xinput not installed", ErrStrategyUnavailable)
		}
		return "", err
	}
	return string(out), nil
}

// xinputStrategy locks a device class by disabling the matching devices
// in the display server's device registry. Unlock re-enables exactly the
// ids this strategy disabled, never devices it did not touch.
type xinputStrategy struct {
	run runner
}

func newXinputStrategy() *xinputStrategy {
	return &xinputStrategy{run: xinputRun}
}

func (x *xinputStrategy) name() StrategyName { return StrategyDeviceDisable }

// parseDeviceIDs extracts the ids of listed devices whose line matches
// the class keywords. xinput list lines look like:
//
//	⎜   ↳ Logitech USB Optical Mouse    id=10   [slave pointer (2)]
func parseDeviceIDs(listing string, class types.DeviceClass) []string {
	keywords := mouseKeywords
	if class == types.ClassKeyboard {
		keywords = keyboardKeywords
	}

	var ids []string
	for _, line := range strings.Split(listing, "\n") {
		lower := strings.ToLower(line)
		if !strings.Contains(lower, "id=") {
			continue
		}
		matched := false
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		rest := line[strings.Index(lower, "id=")+len("id="):]
		fields := strings.Fields(rest)
		if len(fields) > 0 {
			ids = append(ids, fields[0])
		}
	}
	return ids
}

// sweep re-enables every listed device matching the class, whether or
// not this manager disabled it. Only the emergency path uses this; the
// normal unlock touches exactly the recorded ids.
func (x *xinputStrategy) sweep(class types.DeviceClass) error {
	listing, err := x.run("list")
	if err != nil {
		return err
	}
	var firstErr error
	for _, id := range parseDeviceIDs(listing, class) {
		if _, err := x.run("enable", id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (x *xinputStrategy) lock(class types.DeviceClass) (*hold, error) {
	listing, err := x.run("list")
	if err != nil {
		return nil, err
	}

	ids := parseDeviceIDs(listing, class)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoDevices, class)
	}

	var disabled []string
	var devices []types.DeviceDescriptor
	for _, id := range ids {
		if _, err := x.run("disable", id); err != nil {
			slog.Warn("xinput disable failed", "id", id, "error", err)
			continue
		}
		disabled = append(disabled, id)
		devices = append(devices, types.DeviceDescriptor{
			Path:        "xinput:" + id,
			DisplayName: "xinput device " + id,
			Class:       class,
		})
		slog.Info("device disabled", "class", class, "id", id)
	}

	if len(disabled) == 0 {
		return nil, fmt.Errorf("%w: could not disable any %s device", ErrPermissionDenied, class)
	}

	run := x.run
	return &hold{
		devices: devices,
		release: func() error {
			var firstErr error
			for _, id := range disabled {
				if _, err := run("enable", id); err != nil {
					slog.Warn("xinput enable failed", "id", id, "error", err)
					if firstErr == nil {
						firstErr = err
					}
					continue
				}
				slog.Info("device re-enabled", "id", id)
			}
			return firstErr
		},
	}, nil
}
