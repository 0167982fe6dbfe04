package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"pkt.systems/fleetcon/internal/logx"
	"pkt.systems/fleetcon/schema"
	"pkt.systems/pslog"
)

// ControllerConfig wires the collaborators of a Controller.
type ControllerConfig struct {
	Sink   Sink
	Dialer Dialer
	// Geometry is optional; when set the sink size is reported after open
	// and on every resize that changes it.
	Geometry GeometryReporter
	Events   EventSink
	Logger   pslog.Logger
}

// OpenRequest describes the run a console attaches to.
type OpenRequest struct {
	Token      schema.ExecutionToken
	Keys       []schema.StreamKey
	Titles     map[schema.StreamKey]string
	DefaultKey schema.StreamKey
}

type lifecycle int

const (
	lifecycleIdle lifecycle = iota
	lifecycleOpen
	lifecycleClosed
)

// Controller routes frames from one stream connection into the registry and
// renders the active key into the sink. A Controller serves a single console
// view: it is opened once and closed once.
type Controller struct {
	mu        sync.Mutex
	sink      Sink
	dialer    Dialer
	geometry  GeometryReporter
	events    EventSink
	log       pslog.Logger
	registry  *Registry
	token     schema.ExecutionToken
	active    schema.StreamKey
	conn      Conn
	lifecycle lifecycle
	connState schema.ConnState
	geom      schema.Geometry
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	doneOnce  sync.Once
}

// NewController constructs a Controller.
func NewController(cfg ControllerConfig) *Controller {
	events := cfg.Events
	if events == nil {
		events = nopEventSink{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Controller{
		sink:      cfg.Sink,
		dialer:    cfg.Dialer,
		geometry:  cfg.Geometry,
		events:    events,
		log:       logger,
		registry:  NewRegistry(),
		connState: schema.ConnConnecting,
		done:      make(chan struct{}),
	}
}

// Open initializes the registry, selects the active key, measures the sink
// and starts the stream connection. It does not wait for the handshake.
func (c *Controller) Open(ctx context.Context, req OpenRequest) error {
	if req.Token == "" {
		return schema.ErrInvalidToken
	}
	if c.sink == nil || c.dialer == nil {
		return errors.New("controller requires a sink and a dialer")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.lifecycle {
	case lifecycleOpen:
		return schema.ErrConsoleOpen
	case lifecycleClosed:
		return schema.ErrConsoleClosed
	}
	if err := c.registry.Initialize(req.Keys, req.Titles); err != nil {
		return err
	}
	c.token = req.Token
	c.log = logx.WithToken(c.log, req.Token)
	c.active = req.Keys[0]
	if req.DefaultKey != "" && c.registry.Has(req.DefaultKey) {
		c.active = req.DefaultKey
	}
	c.resizeLocked()
	c.sink.Write(connectingNotice())

	c.ctx, c.cancel = context.WithCancel(ctx)
	conn, err := c.dialer.Dial(c.ctx, req.Token, c)
	if err != nil {
		c.cancel()
		c.registry.Reset()
		return fmt.Errorf("dial stream: %w", err)
	}
	c.conn = conn
	c.connState = schema.ConnConnecting
	c.lifecycle = lifecycleOpen
	c.log.Info("console open", "keys", c.registry.Len(), "active", c.active)
	return nil
}

// SwitchActive renders key in the sink, replacing the previous key's output.
func (c *Controller) SwitchActive(key schema.StreamKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lifecycle == lifecycleClosed {
		return schema.ErrConsoleClosed
	}
	rec, err := c.registry.Select(key)
	if err != nil {
		return err
	}
	c.active = key
	c.sink.Clear()
	if rec.Data != "" {
		c.sink.Write(rec.Data)
	}
	c.log.Debug("console switch", "key", key, "bytes", len(rec.Data))
	return nil
}

// Resize re-measures the sink. Measurement failures are expected while the
// sink is not attached and are ignored.
func (c *Controller) Resize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lifecycle != lifecycleOpen {
		return
	}
	before := c.geom
	c.resizeLocked()
	if c.geom != before && c.connState == schema.ConnOpen {
		c.reportGeometryLocked()
	}
}

// Close closes the connection, disposes the sink and discards the registry.
// It is safe to call more than once and while the connection is still
// handshaking.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.lifecycle == lifecycleClosed {
		c.mu.Unlock()
		return nil
	}
	wasOpen := c.lifecycle == lifecycleOpen
	c.lifecycle = lifecycleClosed
	conn := c.conn
	c.conn = nil
	if c.cancel != nil {
		c.cancel()
	}
	c.registry.Reset()
	if c.sink != nil {
		c.sink.Dispose()
	}
	emit := wasOpen && c.connState != schema.ConnClosed
	c.connState = schema.ConnClosed
	token := c.token
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.finish()
	if emit {
		c.events.OnConnState(schema.ConnEvent{Token: token, State: schema.ConnClosed})
	}
	c.log.Info("console closed")
	return err
}

// Done is closed once the connection reached its terminal state.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// ActiveKey returns the key rendered in the sink.
func (c *Controller) ActiveKey() schema.StreamKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Token returns the execution token of the open run.
func (c *Controller) Token() schema.ExecutionToken {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// State returns the connection state.
func (c *Controller) State() schema.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connState
}

// Select returns the record for key.
func (c *Controller) Select(key schema.StreamKey) (schema.RecordSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Select(key)
}

// Keys returns the stream keys in display order.
func (c *Controller) Keys() []schema.StreamKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Keys()
}

// Snapshots returns every record in display order.
func (c *Controller) Snapshots() []schema.RecordSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Snapshots()
}

// Counter returns the status summary.
func (c *Controller) Counter() schema.Counter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Counter()
}

// OnOpen implements ConnHandler.
func (c *Controller) OnOpen(ctx context.Context) {
	c.mu.Lock()
	if c.lifecycle != lifecycleOpen {
		c.mu.Unlock()
		return
	}
	c.connState = schema.ConnOpen
	text := pendingNotice()
	c.registry.Broadcast(text)
	c.sink.Write(text)
	if err := c.conn.Send(ctx, schema.HandshakeMessage); err != nil {
		c.log.Warn("stream handshake send failed", "err", err)
	}
	c.reportGeometryLocked()
	token := c.token
	c.mu.Unlock()

	c.log.Info("stream open")
	c.events.OnConnState(schema.ConnEvent{Token: token, State: schema.ConnOpen})
}

// OnInbound implements ConnHandler.
func (c *Controller) OnInbound(ctx context.Context, msg schema.Inbound) {
	c.mu.Lock()
	if c.lifecycle != lifecycleOpen {
		c.mu.Unlock()
		return
	}
	switch msg.Kind {
	case schema.InboundKeepalive:
		if err := c.conn.Send(ctx, schema.KeepaliveReply); err != nil {
			c.log.Warn("stream keepalive reply failed", "err", err)
		}
		c.mu.Unlock()
		c.log.Trace("stream keepalive")
	case schema.InboundFrame:
		event, changed := c.routeLocked(msg.Frame)
		c.mu.Unlock()
		if changed {
			c.events.OnRecord(event)
		}
	default:
		c.sink.Write(malformedNotice(msg.Err))
		c.mu.Unlock()
		c.log.Warn("stream frame malformed", "err", msg.Err, "bytes", len(msg.Raw))
	}
}

func (c *Controller) routeLocked(frame schema.Frame) (schema.RecordEvent, bool) {
	var status *schema.RecordStatus
	if st, ok := frame.RecordStatus(); ok {
		status = &st
	}
	fragment := frame.Fragment()
	rec, changed, err := c.registry.AppendFrame(frame.Key, fragment, status)
	if err != nil {
		c.log.Warn("stream frame dropped", "key", frame.Key, "err", err)
		return schema.RecordEvent{}, false
	}
	if frame.Key == c.active && fragment != "" {
		c.sink.Write(fragment)
	}
	if !changed {
		return schema.RecordEvent{}, false
	}
	logx.WithKey(c.log, frame.Key).Debug("record status", "status", rec.Status)
	return schema.RecordEvent{
		Token:   c.token,
		Key:     rec.Key,
		Status:  rec.Status,
		Counter: c.registry.Counter(),
	}, true
}

// OnClose implements ConnHandler.
func (c *Controller) OnClose(err error) {
	c.mu.Lock()
	if c.lifecycle != lifecycleOpen {
		c.mu.Unlock()
		return
	}
	c.connState = schema.ConnClosed
	failed := c.registry.ForceFailAllPending()
	text := closedNotice()
	if err != nil {
		text = errorNotice(err)
	}
	c.registry.Broadcast(text)
	c.sink.Write(text)
	events := make([]schema.RecordEvent, 0, len(failed))
	counter := c.registry.Counter()
	for _, key := range failed {
		events = append(events, schema.RecordEvent{Token: c.token, Key: key, Status: schema.StatusFailed, Counter: counter})
	}
	token := c.token
	c.mu.Unlock()

	if err != nil {
		c.log.Warn("stream closed with error", "err", err, "failed", len(failed))
	} else {
		c.log.Info("stream closed", "failed", len(failed))
	}
	for _, event := range events {
		c.events.OnRecord(event)
	}
	c.events.OnConnState(schema.ConnEvent{Token: token, State: schema.ConnClosed, Err: err})
	c.finish()
}

func (c *Controller) resizeLocked() {
	geom, err := c.sink.Resize()
	if err != nil {
		c.log.Debug("sink resize skipped", "err", err)
		return
	}
	c.geom = geom
}

func (c *Controller) reportGeometryLocked() {
	if c.geometry == nil || !c.geom.Valid() {
		return
	}
	ctx, token, geom, reporter, log := c.ctx, c.token, c.geom, c.geometry, c.log
	go func() {
		if err := reporter.ReportGeometry(ctx, token, geom); err != nil && ctx.Err() == nil {
			log.Warn("geometry report failed", "err", err, "cols", geom.Cols, "rows", geom.Rows)
		}
	}()
}

func (c *Controller) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}
