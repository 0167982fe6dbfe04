package core

import "pkt.systems/fleetcon/schema"

// Sink is a text surface that understands ANSI escape sequences.
type Sink interface {
	// Write appends raw text to the visible surface.
	Write(text string)
	// Clear resets the visible surface.
	Clear()
	// Resize recomputes geometry from the container. It fails with
	// schema.ErrSinkDetached while the surface is not attached.
	Resize() (schema.Geometry, error)
	// Dispose releases the surface. Calling it more than once is a no-op.
	Dispose()
}
