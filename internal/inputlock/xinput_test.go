package inputlock

import (
	"errors"
	"strings"
	"testing"

	"github.com/user/hallmonitor/internal/types"
)

const sampleListing = `⎡ Virtual core pointer                    	id=2	[master pointer  (3)]
⎜   ↳ Virtual core XTEST pointer              	id=4	[slave  pointer  (2)]
⎜   ↳ Logitech USB Optical Mouse              	id=10	[slave  pointer  (2)]
⎜   ↳ SynPS/2 Synaptics TouchPad              	id=12	[slave  pointer  (2)]
⎣ Virtual core keyboard                   	id=3	[master keyboard (2)]
    ↳ Virtual core XTEST keyboard             	id=5	[slave  keyboard (3)]
    ↳ AT Translated Set 2 keyboard            	id=11	[slave  keyboard (3)]
    ↳ Power Button                            	id=6	[slave  keyboard (3)]
`

func TestParseDeviceIDs(t *testing.T) {
	keyboards := parseDeviceIDs(sampleListing, types.ClassKeyboard)
	// Every line containing "keyboard" matches, including the virtual
	// core entries; disabling a virtual core id is a no-op for xinput.
	want := map[string]bool{"3": true, "5": true, "11": true, "6": true}
	for _, id := range keyboards {
		if !want[id] {
			t.Errorf("unexpected keyboard id %s", id)
		}
	}
	if len(keyboards) != 4 {
		t.Errorf("expected 4 keyboard ids, got %v", keyboards)
	}

	mice := parseDeviceIDs(sampleListing, types.ClassMouse)
	if len(mice) != 4 {
		t.Errorf("expected 4 pointer ids, got %v", mice)
	}
}

// fakeRunner scripts xinput responses and records invocations.
type fakeRunner struct {
	listing string
	failIDs map[string]bool
	calls   []string
}

func (f *fakeRunner) run(args ...string) (string, error) {
	call := strings.Join(args, " ")
	f.calls = append(f.calls, call)
	switch args[0] {
	case "list":
		return f.listing, nil
	case "disable", "enable":
		if f.failIDs[args[1]] {
			return "", errors.New("unable to modify device")
		}
		return "", nil
	}
	return "", errors.New("unknown command")
}

func TestXinputLockUnlockRoundTrip(t *testing.T) {
	runner := &fakeRunner{listing: sampleListing}
	strat := &xinputStrategy{run: runner.run}

	h, err := strat.lock(types.ClassMouse)
	if err != nil {
		t.Fatal(err)
	}
	if len(h.devices) != 4 {
		t.Fatalf("expected 4 disabled pointer devices, got %d", len(h.devices))
	}

	if err := h.release(); err != nil {
		t.Fatal(err)
	}

	// Release re-enables exactly the ids that were disabled.
	var disabled, enabled []string
	for _, call := range runner.calls {
		if strings.HasPrefix(call, "disable ") {
			disabled = append(disabled, strings.TrimPrefix(call, "disable "))
		}
		if strings.HasPrefix(call, "enable ") {
			enabled = append(enabled, strings.TrimPrefix(call, "enable "))
		}
	}
	if len(disabled) != len(enabled) {
		t.Fatalf("disabled %v but enabled %v", disabled, enabled)
	}
	for i := range disabled {
		if disabled[i] != enabled[i] {
			t.Errorf("mismatched id: disabled %s, enabled %s", disabled[i], enabled[i])
		}
	}
}

func TestXinputLockPartialDisable(t *testing.T) {
	runner := &fakeRunner{listing: sampleListing, failIDs: map[string]bool{"10": true}}
	strat := &xinputStrategy{run: runner.run}

	h, err := strat.lock(types.ClassMouse)
	if err != nil {
		t.Fatal(err)
	}
	// The failed id is not recorded, so release never touches it.
	if err := h.release(); err != nil {
		t.Fatal(err)
	}
	for _, call := range runner.calls {
		if call == "enable 10" {
			t.Error("released a device that was never disabled")
		}
	}
}

func TestXinputLockNoDevices(t *testing.T) {
	runner := &fakeRunner{listing: "⎡ Virtual something id=2\n"}
	strat := &xinputStrategy{run: runner.run}

	_, err := strat.lock(types.ClassKeyboard)
	if !errors.Is(err, ErrNoDevices) {
		t.Errorf("expected ErrNoDevices, got %v", err)
	}
}

func TestXinputSweepEnablesAll(t *testing.T) {
	runner := &fakeRunner{listing: sampleListing}
	strat := &xinputStrategy{run: runner.run}

	if err := strat.sweep(types.ClassKeyboard); err != nil {
		t.Fatal(err)
	}
	enables := 0
	for _, call := range runner.calls {
		if strings.HasPrefix(call, "enable ") {
			enables++
		}
	}
	if enables != 4 {
		t.Errorf("expected sweep to enable all 4 keyboard ids, got %d", enables)
	}
}
