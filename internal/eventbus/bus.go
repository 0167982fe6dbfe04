package eventbus

import (
	"context"
	"sync"

	"pkt.systems/fleetcon/core"
	"pkt.systems/fleetcon/internal/logx"
	"pkt.systems/fleetcon/schema"
	"pkt.systems/pslog"
)

// EventType identifies the event payload.
type EventType string

const (
	// EventRecord carries a record status change.
	EventRecord EventType = "record"
	// EventConn carries a stream connection state change.
	EventConn EventType = "conn"
)

// AnyToken subscribes to events of every run.
const AnyToken schema.ExecutionToken = ""

// Event is a status event emitted by a console controller.
type Event struct {
	Type   EventType
	Record schema.RecordEvent
	Conn   schema.ConnEvent
}

// Token returns the run the event belongs to.
func (e Event) Token() schema.ExecutionToken {
	if e.Type == EventConn {
		return e.Conn.Token
	}
	return e.Record.Token
}

// Bus fans out events to per-run subscribers.
type Bus struct {
	mu    sync.Mutex
	subs  map[schema.ExecutionToken]map[chan Event]struct{}
	log   pslog.Logger
	depth int
}

var _ core.EventSink = (*Bus)(nil)

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[schema.ExecutionToken]map[chan Event]struct{}),
		log:   logger,
		depth: 256,
	}
}

// Subscribe registers a subscriber for the run and returns a channel + cancel.
// AnyToken receives the events of every run.
func (b *Bus) Subscribe(token schema.ExecutionToken) (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	runSubs := b.subs[token]
	if runSubs == nil {
		runSubs = make(map[chan Event]struct{})
		b.subs[token] = runSubs
	}
	runSubs[ch] = struct{}{}
	count := len(runSubs)
	b.mu.Unlock()
	logx.WithToken(b.log, token).Debug("eventbus subscribe", "subs", count)
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if subs := b.subs[token]; subs != nil {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(b.subs, token)
				}
			}
			b.mu.Unlock()
			close(ch)
			logx.WithToken(b.log, token).Debug("eventbus unsubscribe")
		})
	}
}

// OnRecord publishes a record event.
func (b *Bus) OnRecord(event schema.RecordEvent) {
	b.publish(Event{Type: EventRecord, Record: event})
}

// OnConnState publishes a connection event.
func (b *Bus) OnConnState(event schema.ConnEvent) {
	b.publish(Event{Type: EventConn, Conn: event})
}

func (b *Bus) publish(event Event) {
	if b == nil {
		return
	}
	token := event.Token()
	b.mu.Lock()
	subs := make([]chan Event, 0, len(b.subs[token])+len(b.subs[AnyToken]))
	for sub := range b.subs[token] {
		subs = append(subs, sub)
	}
	if token != AnyToken {
		for sub := range b.subs[AnyToken] {
			subs = append(subs, sub)
		}
	}
	// Sends happen under the lock so cancel cannot close a channel mid-send.
	dropped := 0
	for _, sub := range subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	b.mu.Unlock()
	if dropped > 0 {
		logx.WithToken(b.log, token).Trace("eventbus dropped", "count", dropped)
	}
}
