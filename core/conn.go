package core

import (
	"context"

	"pkt.systems/fleetcon/schema"
)

// ConnHandler receives stream connection events. Calls arrive sequentially
// from a single goroutine in the order the transport delivered them.
type ConnHandler interface {
	OnOpen(ctx context.Context)
	OnInbound(ctx context.Context, msg schema.Inbound)
	// OnClose is called exactly once. err is nil for a normal closure.
	OnClose(err error)
}

// Conn is one stream connection multiplexing every key of a run.
type Conn interface {
	Send(ctx context.Context, text string) error
	State() schema.ConnState
	// Close is idempotent and may be called during the handshake.
	Close() error
}

// Dialer opens stream connections. Dial returns without waiting for the
// handshake; progress is reported through the handler, possibly before Dial
// has returned. Controller holds its lock across Dial so callbacks observe
// the stored connection, so handler methods must be called from another
// goroutine: calling them synchronously inside Dial deadlocks.
type Dialer interface {
	Dial(ctx context.Context, token schema.ExecutionToken, handler ConnHandler) (Conn, error)
}

// GeometryReporter forwards the visible terminal size to the backend so
// output can be wrapped server side.
type GeometryReporter interface {
	ReportGeometry(ctx context.Context, token schema.ExecutionToken, geom schema.Geometry) error
}
