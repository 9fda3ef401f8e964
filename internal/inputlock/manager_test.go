package inputlock

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/user/hallmonitor/internal/types"
)

// fakeStrategy records lock/release/sweep activity and can be primed to
// fail.
type fakeStrategy struct {
	mu       sync.Mutex
	lockErr  error
	devices  map[types.DeviceClass][]types.DeviceDescriptor
	locks    int
	releases int
	sweeps   int

	sweepStarted chan struct{} // when non-nil, signaled on sweep entry
	sweepGate    chan struct{} // when non-nil, sweep blocks until closed
}

func newFakeStrategy() *fakeStrategy {
	return &fakeStrategy{
		devices: map[types.DeviceClass][]types.DeviceDescriptor{
			types.ClassKeyboard: {{Path: "/dev/input/event3", DisplayName: "AT Translated Set 2 keyboard", Class: types.ClassKeyboard}},
			types.ClassMouse:    {{Path: "/dev/input/event5", DisplayName: "USB Optical Mouse", Class: types.ClassMouse}},
		},
	}
}

func (f *fakeStrategy) name() StrategyName { return "fake" }

func (f *fakeStrategy) lock(class types.DeviceClass) (*hold, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lockErr != nil {
		return nil, f.lockErr
	}
	devices := f.devices[class]
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoDevices, class)
	}
	f.locks++
	return &hold{
		devices: devices,
		release: func() error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.releases++
			return nil
		},
	}, nil
}

func (f *fakeStrategy) sweep(types.DeviceClass) error {
	if f.sweepStarted != nil {
		f.sweepStarted <- struct{}{}
	}
	if f.sweepGate != nil {
		<-f.sweepGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return nil
}

func newTestManager(strat strategy) *Manager {
	return newManagerWithStrategy(NewDirectoryAt("/nonexistent", "/nonexistent"), strat)
}

func TestLockIdempotent(t *testing.T) {
	strat := newFakeStrategy()
	mgr := newTestManager(strat)

	res, err := mgr.Lock(types.ClassKeyboard)
	if err != nil || !res.Success {
		t.Fatalf("first lock failed: %v %+v", err, res)
	}
	res, err = mgr.Lock(types.ClassKeyboard)
	if err != nil || !res.Success {
		t.Fatalf("second lock failed: %v %+v", err, res)
	}
	if strat.locks != 1 {
		t.Errorf("expected exactly 1 strategy lock, got %d", strat.locks)
	}
}

func TestUnlockIdempotent(t *testing.T) {
	strat := newFakeStrategy()
	mgr := newTestManager(strat)

	res, err := mgr.Unlock(types.ClassMouse)
	if err != nil || !res.Success {
		t.Fatalf("unlock of unlocked class should succeed: %v %+v", err, res)
	}
	if strat.releases != 0 {
		t.Errorf("unlock of unlocked class must have no side effects, saw %d releases", strat.releases)
	}
}

func TestUnlockAfterLock(t *testing.T) {
	strat := newFakeStrategy()
	mgr := newTestManager(strat)

	if _, err := mgr.Lock(types.ClassKeyboard); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Lock(types.ClassMouse); err != nil {
		t.Fatal(err)
	}

	if _, err := mgr.Unlock(types.ClassKeyboard); err != nil {
		t.Fatal(err)
	}

	if mgr.Locked(types.ClassKeyboard) {
		t.Error("keyboard still reported locked")
	}
	if devices := mgr.ActiveDevices(types.ClassKeyboard); len(devices) != 0 {
		t.Errorf("expected empty active devices, got %d", len(devices))
	}
	// The other class is untouched.
	if !mgr.Locked(types.ClassMouse) {
		t.Error("mouse lock must not be affected by keyboard unlock")
	}
	if strat.releases != 1 {
		t.Errorf("expected 1 release, got %d", strat.releases)
	}
}

func TestLockFailureLeavesUnlocked(t *testing.T) {
	strat := newFakeStrategy()
	strat.devices[types.ClassKeyboard] = nil // sim: zero enumerated keyboards
	mgr := newTestManager(strat)

	res, err := mgr.Lock(types.ClassKeyboard)
	if err == nil || res.Success {
		t.Fatalf("expected failure, got %+v", res)
	}
	if !errors.Is(err, ErrNoDevices) {
		t.Errorf("expected ErrNoDevices, got %v", err)
	}
	if res.Error == "" {
		t.Error("expected error string in result")
	}
	if mgr.Locked(types.ClassKeyboard) {
		t.Error("failed lock must leave class unlocked")
	}
}

func TestStatus(t *testing.T) {
	strat := newFakeStrategy()
	mgr := newTestManager(strat)

	if st := mgr.Status(); st.KeyboardLocked || st.MouseLocked {
		t.Errorf("expected both unlocked initially: %+v", st)
	}

	mgr.Lock(types.ClassMouse)
	st := mgr.Status()
	if st.KeyboardLocked || !st.MouseLocked {
		t.Errorf("expected only mouse locked: %+v", st)
	}
}

func TestEmergencyUnlockAllNoop(t *testing.T) {
	strat := newFakeStrategy()
	mgr := newTestManager(strat)

	results := mgr.EmergencyUnlockAll()
	for class, res := range results {
		if !res.Success {
			t.Errorf("class %s: expected success, got %+v", class, res)
		}
	}
	if strat.releases != 0 {
		t.Errorf("expected no releases with both classes unlocked, saw %d", strat.releases)
	}
	if strat.sweeps != 2 {
		t.Errorf("emergency path must sweep both classes, saw %d", strat.sweeps)
	}
}

func TestEmergencyUnlockAllReleasesHolds(t *testing.T) {
	strat := newFakeStrategy()
	mgr := newTestManager(strat)

	mgr.Lock(types.ClassKeyboard)
	mgr.Lock(types.ClassMouse)

	results := mgr.EmergencyUnlockAll()
	if len(results) != 2 {
		t.Fatalf("expected results for both classes, got %d", len(results))
	}
	if strat.releases != 2 {
		t.Errorf("expected both holds released, saw %d", strat.releases)
	}
	if mgr.Locked(types.ClassKeyboard) || mgr.Locked(types.ClassMouse) {
		t.Error("classes still locked after emergency unlock")
	}
}

func TestLockWaitsForEmergencySweep(t *testing.T) {
	strat := newFakeStrategy()
	strat.sweepStarted = make(chan struct{}, 2)
	strat.sweepGate = make(chan struct{})
	mgr := newTestManager(strat)

	mgr.Lock(types.ClassKeyboard)

	emergencyDone := make(chan struct{})
	go func() {
		mgr.EmergencyUnlockAll()
		close(emergencyDone)
	}()
	<-strat.sweepStarted // keyboard sweep is in flight, class mutex held

	lockDone := make(chan struct{})
	go func() {
		mgr.Lock(types.ClassKeyboard)
		close(lockDone)
	}()

	// If the lock gets in before the sweep finishes, the sweep tears
	// down the hold it just took.
	select {
	case <-lockDone:
		t.Fatal("lock completed while the emergency sweep for its class was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(strat.sweepGate)
	<-emergencyDone
	<-lockDone

	if !mgr.Locked(types.ClassKeyboard) {
		t.Error("keyboard should end locked once the emergency unlock has finished")
	}
	if devices := mgr.ActiveDevices(types.ClassKeyboard); len(devices) == 0 {
		t.Error("locked class must have a live hold")
	}
}

func TestConcurrentTransitionsSerialized(t *testing.T) {
	strat := newFakeStrategy()
	mgr := newTestManager(strat)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			mgr.Lock(types.ClassKeyboard)
		}()
		go func() {
			defer wg.Done()
			mgr.Unlock(types.ClassKeyboard)
		}()
	}
	wg.Wait()

	// Whatever interleaving happened, bookkeeping must balance: every
	// successful strategy lock is matched by at most one release, and a
	// final unlock drains the rest.
	mgr.Unlock(types.ClassKeyboard)
	strat.mu.Lock()
	defer strat.mu.Unlock()
	if strat.releases > strat.locks {
		t.Errorf("more releases (%d) than locks (%d)", strat.releases, strat.locks)
	}
	if mgr.Locked(types.ClassKeyboard) {
		t.Error("expected unlocked after final unlock")
	}
}
