// internal/types/models.go
package types

import (
	"encoding/json"
	"time"
)

// Envelope is one named event crossing the transport in either direction.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// DeviceClass partitions input devices into the two independently
// lockable categories.
type DeviceClass string

const (
	ClassKeyboard DeviceClass = "keyboard"
	ClassMouse    DeviceClass = "mouse"
	ClassUnknown  DeviceClass = "unknown"
)

// DeviceDescriptor identifies one local input device. Descriptors are
// enumerated fresh on every lock request; devices come and go.
type DeviceDescriptor struct {
	Path        string      `json:"path"`
	DisplayName string      `json:"display_name"`
	Class       DeviceClass `json:"class"`
}

// MessageKind classifies chat messages.
type MessageKind string

const (
	KindText      MessageKind = "text"
	KindFile      MessageKind = "file"
	KindSystem    MessageKind = "system"
	KindBroadcast MessageKind = "broadcast"
)

// ChatMessage is one stored chat entry. Immutable except for Read.
type ChatMessage struct {
	ID        MessageID   `json:"id"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	Body      string      `json:"message"`
	Kind      MessageKind `json:"type"`
	CreatedAt time.Time   `json:"timestamp"`
	Read      bool        `json:"read"`
}

// PingResult is the outcome of a single echo probe.
type PingResult struct {
	Sequence  int      `json:"sequence"`
	LatencyMS *float64 `json:"time,omitempty"`
	Success   bool     `json:"success"`
	Error     string   `json:"error,omitempty"`
}

// PingStatistics aggregates a ping test run.
type PingStatistics struct {
	PacketsSent     int     `json:"packets_sent"`
	PacketsReceived int     `json:"packets_received"`
	PacketLossPct   float64 `json:"packet_loss"`
	AvgTimeMS       float64 `json:"avg_time"`
}
