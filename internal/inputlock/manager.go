// internal/inputlock/manager.go
package inputlock

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/user/hallmonitor/internal/types"
)

// OpResult is the outcome of a lock or unlock operation, in the shape
// handlers report to the coordinator.
type OpResult struct {
	Success bool     `json:"success"`
	Message string   `json:"message,omitempty"`
	Method  string   `json:"method,omitempty"`
	Devices []string `json:"devices,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Status is the current lock state of both device classes.
type Status struct {
	KeyboardLocked bool `json:"keyboard_locked"`
	MouseLocked    bool `json:"mouse_locked"`
}

// Diagnosis is a pure read of the input environment: every enumerated
// device with its classification, plus the fixed strategy choice.
type Diagnosis struct {
	CompositorSession bool         `json:"compositor_session"`
	Strategy          StrategyName `json:"strategy"`
	Devices           struct {
		Keyboards []types.DeviceDescriptor `json:"keyboards"`
		Mice      []types.DeviceDescriptor `json:"mice"`
		Unknown   []types.DeviceDescriptor `json:"unknown"`
	} `json:"devices"`
}

// classState tracks one device class. Every transition for a class is
// serialized behind its own mutex: lock and unlock commands can arrive
// concurrently with an in-flight emergency unlock, and the transitions
// must never interleave.
type classState struct {
	mu     sync.Mutex
	locked bool
	hold   *hold
}

// Manager owns the lock state machines for both device classes and the
// subprocess/device handles they create. No other component may touch
// or terminate those handles.
type Manager struct {
	directory *Directory
	strat     strategy
	classes   map[types.DeviceClass]*classState
}

// NewManager creates a Manager with the strategy chosen from the display
// session environment. The probe happens once; the choice is fixed for
// the process lifetime.
func NewManager(directory *Directory) *Manager {
	var strat strategy
	if CompositorSession() {
		strat = newGrabStrategy(directory)
	} else {
		strat = newXinputStrategy()
	}
	slog.Info("input lock manager initialized", "strategy", string(strat.name()))
	return newManagerWithStrategy(directory, strat)
}

func newManagerWithStrategy(directory *Directory, strat strategy) *Manager {
	return &Manager{
		directory: directory,
		strat:     strat,
		classes: map[types.DeviceClass]*classState{
			types.ClassKeyboard: {},
			types.ClassMouse:    {},
		},
	}
}

func (m *Manager) class(class types.DeviceClass) (*classState, error) {
	st, ok := m.classes[class]
	if !ok {
		return nil, fmt.Errorf("unknown device class %q", class)
	}
	return st, nil
}

// Lock takes every device of the class using the fixed strategy.
// Idempotent: locking an already-locked class succeeds without
// re-locking. A failed attempt leaves the class unlocked with no
// orphaned subprocess or disabled device behind.
func (m *Manager) Lock(class types.DeviceClass) (*OpResult, error) {
	st, err := m.class(class)
	if err != nil {
		return &OpResult{Success: false, Error: err.Error()}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.locked {
		return &OpResult{Success: true, Message: fmt.Sprintf("%s already locked", class)}, nil
	}

	h, err := m.strat.lock(class)
	if err != nil {
		slog.Error("lock failed", "class", class, "error", err)
		return &OpResult{Success: false, Error: err.Error()}, err
	}

	st.locked = true
	st.hold = h

	paths := make([]string, len(h.devices))
	for i, dev := range h.devices {
		paths[i] = dev.Path
	}
	slog.Info("class locked", "class", class, "method", string(m.strat.name()), "devices", len(paths))
	return &OpResult{
		Success: true,
		Message: fmt.Sprintf("%s locked", class),
		Method:  string(m.strat.name()),
		Devices: paths,
	}, nil
}

// Unlock releases exactly what Lock took. Idempotent: unlocking an
// already-unlocked class succeeds without side effects.
func (m *Manager) Unlock(class types.DeviceClass) (*OpResult, error) {
	st, err := m.class(class)
	if err != nil {
		return &OpResult{Success: false, Error: err.Error()}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.locked {
		return &OpResult{Success: true, Message: fmt.Sprintf("%s already unlocked", class)}, nil
	}

	var releaseErr error
	if st.hold != nil {
		releaseErr = st.hold.release()
	}
	st.locked = false
	st.hold = nil

	if releaseErr != nil {
		slog.Error("unlock incomplete", "class", class, "error", releaseErr)
		return &OpResult{Success: false, Error: releaseErr.Error()}, releaseErr
	}
	slog.Info("class unlocked", "class", class)
	return &OpResult{Success: true, Message: fmt.Sprintf("%s unlocked", class)}, nil
}

// Locked reports whether the class is currently locked.
func (m *Manager) Locked(class types.DeviceClass) bool {
	st, err := m.class(class)
	if err != nil {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.locked
}

// Status returns the lock state of both classes.
func (m *Manager) Status() Status {
	return Status{
		KeyboardLocked: m.Locked(types.ClassKeyboard),
		MouseLocked:    m.Locked(types.ClassMouse),
	}
}

// ActiveDevices returns the devices recorded under the class's current
// hold, or nil when unlocked.
func (m *Manager) ActiveDevices(class types.DeviceClass) []types.DeviceDescriptor {
	st, err := m.class(class)
	if err != nil {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.hold == nil {
		return nil
	}
	out := make([]types.DeviceDescriptor, len(st.hold.devices))
	copy(out, st.hold.devices)
	return out
}

// EmergencyUnlockAll is the panic-button path: it attempts the unlock
// path for both classes regardless of recorded state, swallowing
// individual failures, and reports a per-class result map. Used when
// normal bookkeeping may be stale or lost.
func (m *Manager) EmergencyUnlockAll() map[string]OpResult {
	slog.Warn("emergency unlock requested")
	results := make(map[string]OpResult, len(m.classes))
	for _, class := range []types.DeviceClass{types.ClassKeyboard, types.ClassMouse} {
		res, err := m.emergencyUnlock(class)
		if err != nil {
			// Swallow: report per class, keep going.
			results[string(class)] = OpResult{Success: false, Error: err.Error()}
			continue
		}
		results[string(class)] = *res
	}
	return results
}

// emergencyUnlock releases the class's hold and sweeps for interceptors
// the bookkeeping no longer knows about, both under the class mutex. A
// Lock arriving mid-emergency must wait for the sweep to finish, or the
// sweep would tear down the hold it just took.
func (m *Manager) emergencyUnlock(class types.DeviceClass) (*OpResult, error) {
	st, err := m.class(class)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	var releaseErr error
	if st.hold != nil {
		releaseErr = st.hold.release()
	}
	st.locked = false
	st.hold = nil

	// Sweep regardless of what the bookkeeping said: a crash may have
	// left interceptors or disabled devices the state no longer knows
	// about.
	if sweepErr := m.strat.sweep(class); sweepErr != nil && releaseErr == nil {
		releaseErr = sweepErr
	}
	if releaseErr != nil {
		slog.Error("emergency unlock incomplete", "class", class, "error", releaseErr)
		return nil, releaseErr
	}
	slog.Info("class unlocked", "class", class, "emergency", true)
	return &OpResult{Success: true, Message: fmt.Sprintf("%s unlocked", class)}, nil
}

// ReleaseAll unlocks both classes, logging failures. Used on shutdown
// and transport teardown so no subprocess or disabled device outlives
// the agent's bookkeeping.
func (m *Manager) ReleaseAll() {
	for _, class := range []types.DeviceClass{types.ClassKeyboard, types.ClassMouse} {
		if _, err := m.Unlock(class); err != nil {
			slog.Error("release on shutdown failed", "class", class, "error", err)
		}
	}
}

// Diagnose re-enumerates and classifies all devices without touching any
// lock state.
func (m *Manager) Diagnose() (*Diagnosis, error) {
	devices, err := m.directory.Enumerate()
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}

	diag := &Diagnosis{
		CompositorSession: CompositorSession(),
		Strategy:          m.strat.name(),
	}
	for _, dev := range devices {
		switch dev.Class {
		case types.ClassKeyboard:
			diag.Devices.Keyboards = append(diag.Devices.Keyboards, dev)
		case types.ClassMouse:
			diag.Devices.Mice = append(diag.Devices.Mice, dev)
		default:
			diag.Devices.Unknown = append(diag.Devices.Unknown, dev)
		}
	}
	return diag, nil
}
