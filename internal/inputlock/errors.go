// internal/inputlock/errors.go
package inputlock

import "errors"

// The distinct reportable failure kinds for lock operations. None of
// these are retried automatically; the coordinator re-issues the command.
var (
	// ErrNoDevices means enumeration found no device of the requested class.
	ErrNoDevices = errors.New("no devices found")
	// ErrPermissionDenied means the process lacks the privilege to grab
	// or disable a device.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrStrategyUnavailable means a required platform utility is missing.
	ErrStrategyUnavailable = errors.New("strategy unavailable")
)
