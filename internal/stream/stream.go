package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"pkt.systems/fleetcon/core"
	"pkt.systems/fleetcon/internal/logx"
	"pkt.systems/fleetcon/schema"
	"pkt.systems/pslog"
)

const (
	defaultHandshakeTimeout = 15 * time.Second
	defaultReadLimit        = 4 << 20
	defaultWriteTimeout     = 5 * time.Second
)

// ErrNotOpen is returned by Send before the handshake completed or after close.
var ErrNotOpen = errors.New("stream not open")

// Dialer opens WebSocket subscriptions for execution runs.
type Dialer struct {
	Endpoint         Endpoint
	HTTPClient       *http.Client
	Header           http.Header
	HandshakeTimeout time.Duration
	ReadLimit        int64
	Logger           pslog.Logger
}

var _ core.Dialer = (*Dialer)(nil)

// Dial starts the handshake in the background and returns a connection in
// the connecting state.
func (d *Dialer) Dial(ctx context.Context, token schema.ExecutionToken, handler core.ConnHandler) (core.Conn, error) {
	target, err := SubscribeURL(d.Endpoint, token)
	if err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, errors.New("stream handler is required")
	}
	logger := d.Logger
	if logger == nil {
		logger = pslog.Ctx(ctx)
	}
	connCtx, cancel := context.WithCancel(ctx)
	c := &Conn{
		state:  schema.ConnConnecting,
		cancel: cancel,
		done:   make(chan struct{}),
		log:    logx.WithToken(logger, token),
	}
	go c.run(connCtx, d, target, handler)
	return c, nil
}

// Conn is one WebSocket subscription. Inbound messages are decoded and
// delivered to the handler in order from a single goroutine.
type Conn struct {
	mu        sync.Mutex
	ws        *websocket.Conn
	state     schema.ConnState
	closing   bool
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
	log       pslog.Logger
}

var _ core.Conn = (*Conn)(nil)

// Send writes one text message.
func (c *Conn) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	ws := c.ws
	state := c.state
	c.mu.Unlock()
	if ws == nil || state != schema.ConnOpen {
		return ErrNotOpen
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultWriteTimeout)
		defer cancel()
	}
	if err := ws.Write(ctx, websocket.MessageText, []byte(text)); err != nil {
		return fmt.Errorf("stream send: %w", err)
	}
	return nil
}

// State returns the connection state.
func (c *Conn) State() schema.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close terminates the subscription without waiting for the close handshake.
// It cancels an in-flight handshake and is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closing = true
		ws := c.ws
		c.mu.Unlock()
		if ws == nil {
			c.cancel()
			return
		}
		go func() {
			if err := ws.Close(websocket.StatusNormalClosure, "console closed"); !isNormalClose(err) {
				c.log.Debug("stream close handshake", "err", err)
			}
			c.cancel()
		}()
	})
	return nil
}

// Done is closed once the read loop exited and the handler saw OnClose.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) run(ctx context.Context, d *Dialer, target string, handler core.ConnHandler) {
	defer close(c.done)
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	c.log.Debug("stream dial", "url", redact(target, d.Endpoint))
	dialCtx, dialCancel := context.WithTimeout(ctx, timeout)
	ws, resp, err := websocket.Dial(dialCtx, target, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: d.Header,
	})
	dialCancel()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.finish(handler, c.classify(fmt.Errorf("stream dial: %w", err)))
		return
	}
	limit := d.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	ws.SetReadLimit(limit)

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		_ = ws.Close(websocket.StatusNormalClosure, "console closed")
		c.finish(handler, nil)
		return
	}
	c.ws = ws
	c.state = schema.ConnOpen
	c.mu.Unlock()

	c.log.Info("stream connected")
	handler.OnOpen(ctx)
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			c.finish(handler, c.classify(err))
			return
		}
		msg := schema.DecodeInbound(data)
		c.log.Trace("stream message", "kind", msg.Kind, "bytes", len(data))
		handler.OnInbound(ctx, msg)
	}
}

// classify maps a terminal transport error to the handler's close reason.
// Normal closures and client disposal are reported as nil.
func (c *Conn) classify(err error) error {
	c.mu.Lock()
	closing := c.closing
	c.mu.Unlock()
	if closing || isNormalClose(err) {
		return nil
	}
	return err
}

func (c *Conn) finish(handler core.ConnHandler, err error) {
	c.mu.Lock()
	c.state = schema.ConnClosed
	c.mu.Unlock()
	c.cancel()
	if err != nil {
		c.log.Debug("stream finished", "err", err)
	} else {
		c.log.Debug("stream finished")
	}
	handler.OnClose(err)
}

func isNormalClose(err error) bool {
	if err == nil {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}

func redact(target string, ep Endpoint) string {
	if ep.AuthToken == "" {
		return target
	}
	return strings.ReplaceAll(target, ep.AuthToken, "REDACTED")
}
