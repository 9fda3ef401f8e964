// internal/types/interfaces.go
package types

import "context"

// Emitter sends one named event to the coordinator. Implemented by the
// transport; handlers depend on this instead of the concrete connection.
type Emitter interface {
	Emit(event string, payload any) error
}

// Transport is the bidirectional event connection the session controller
// runs on. Reconnection is the transport's own responsibility; the
// controller only observes connect/disconnect edges.
type Transport interface {
	Emitter
	// OnEvent registers the callback invoked for every inbound envelope.
	OnEvent(fn func(event string, data []byte))
	// OnConnect registers a callback fired after each successful
	// (re)connection, before any inbound events are delivered.
	OnConnect(fn func())
	// OnDisconnect registers a callback fired when the connection drops.
	OnDisconnect(fn func())
	// Run maintains the connection until ctx is cancelled.
	Run(ctx context.Context) error
}
