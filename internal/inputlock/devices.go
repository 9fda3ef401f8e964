// internal/inputlock/devices.go
package inputlock

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/user/hallmonitor/internal/types"
)

var keyboardKeywords = []string{"keyboard", "kbd", "translated set"}
var mouseKeywords = []string{"mouse", "optical", "touchpad", "pointer"}

// Directory enumerates local input devices and classifies them by name.
// There is no cache: devices may appear and disappear between lock
// requests, so every call re-reads the device tree.
type Directory struct {
	devRoot string
	sysRoot string
}

// NewDirectory creates a Directory reading the real device tree.
func NewDirectory() *Directory {
	return &Directory{devRoot: "/dev/input", sysRoot: "/sys/class/input"}
}

// NewDirectoryAt creates a Directory rooted at alternate paths, for tests.
func NewDirectoryAt(devRoot, sysRoot string) *Directory {
	return &Directory{devRoot: devRoot, sysRoot: sysRoot}
}

// Classify maps a device display name to its class by keyword heuristics.
// Keyboard keywords win over mouse keywords when both match ("keyboard
// mouse combo" receivers report as keyboards).
func Classify(displayName string) types.DeviceClass {
	name := strings.ToLower(displayName)
	for _, kw := range keyboardKeywords {
		if strings.Contains(name, kw) {
			return types.ClassKeyboard
		}
	}
	for _, kw := range mouseKeywords {
		if strings.Contains(name, kw) {
			return types.ClassMouse
		}
	}
	return types.ClassUnknown
}

// Enumerate lists every event device with its classification.
func (d *Directory) Enumerate() ([]types.DeviceDescriptor, error) {
	eventPaths, err := filepath.Glob(filepath.Join(d.devRoot, "event*"))
	if err != nil {
		return nil, err
	}

	var devices []types.DeviceDescriptor
	for _, path := range eventPaths {
		namePath := filepath.Join(d.sysRoot, filepath.Base(path), "device", "name")
		raw, err := os.ReadFile(namePath)
		if err != nil {
			// Device vanished or sysfs entry is unreadable; skip it.
			continue
		}
		name := strings.TrimSpace(string(raw))
		devices = append(devices, types.DeviceDescriptor{
			Path:        path,
			DisplayName: name,
			Class:       Classify(name),
		})
	}
	return devices, nil
}

// ByClass enumerates fresh and returns only devices of the given class.
func (d *Directory) ByClass(class types.DeviceClass) ([]types.DeviceDescriptor, error) {
	all, err := d.Enumerate()
	if err != nil {
		return nil, err
	}
	var out []types.DeviceDescriptor
	for _, dev := range all {
		if dev.Class == class {
			out = append(out, dev)
		}
	}
	return out, nil
}
