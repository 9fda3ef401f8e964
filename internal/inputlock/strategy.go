// internal/inputlock/strategy.go
package inputlock

import (
	"os"

	"github.com/user/hallmonitor/internal/types"
)

// StrategyName identifies which locking mechanism a manager uses.
type StrategyName string

const (
	// StrategyGrabInterceptor locks by spawning exclusive-grab
	// subprocesses that consume raw input events. Used on
	// compositor-driven (Wayland) sessions.
	StrategyGrabInterceptor StrategyName = "grab_interceptor"
	// StrategyDeviceDisable locks by disabling devices through the
	// display server's device registry. Used on classic X11 sessions.
	StrategyDeviceDisable StrategyName = "device_disable"
)

// hold is the live result of a successful lock: the devices taken and
// the release function that undoes exactly what the lock did.
type hold struct {
	devices []types.DeviceDescriptor
	release func() error
}

// strategy is one way of locking a device class. Lock must either take
// every enumerated device of the class and return a hold, or fail
// cleanly leaving nothing behind.
type strategy interface {
	name() StrategyName
	lock(class types.DeviceClass) (*hold, error)
	// sweep undoes any residual locking for the class without
	// consulting bookkeeping: stray interceptor processes are killed,
	// disabled devices re-enabled. Used by the emergency unlock path
	// when recorded state may be stale.
	sweep(class types.DeviceClass) error
}

// CompositorSession reports whether the process runs under a
// compositor-driven display session. Probed once at startup; the chosen
// strategy is fixed for the process lifetime.
func CompositorSession() bool {
	return os.Getenv("XDG_SESSION_TYPE") == "wayland" || os.Getenv("WAYLAND_DISPLAY") != ""
}
