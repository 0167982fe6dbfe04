package httpapi

import (
	"context"
	"errors"
	"sync"
	"time"

	"pkt.systems/fleetcon/internal/logx"
	"pkt.systems/fleetcon/schema"
)

// ErrRunFinished is returned when publishing into a finished run.
var ErrRunFinished = errors.New("run finished")

// RunInfo describes a run held by the hub.
type RunInfo struct {
	Token      schema.ExecutionToken
	Keys       []schema.StreamKey
	Titles     map[schema.StreamKey]string
	Playbook   string
	TemplateID int
	HostIDs    []int
	CreatedAt  time.Time
}

// Subscription is a live view of one run: the frames published before the
// subscriber attached, then every later frame on C. C is closed when the run
// finishes or the subscriber falls too far behind.
type Subscription struct {
	Backlog [][]byte
	C       <-chan []byte
	cancel  func()
}

// Cancel detaches the subscriber.
func (s *Subscription) Cancel() {
	if s != nil && s.cancel != nil {
		s.cancel()
	}
}

// Hub keeps the frame history of recent runs and fans frames out to
// WebSocket subscribers.
type Hub struct {
	mu          sync.Mutex
	runs        map[schema.ExecutionToken]*runHub
	order       []schema.ExecutionToken
	historySize int
	resultTTL   time.Duration
	depth       int
	now         func() time.Time
}

// NewHub constructs a hub keeping historySize runs for resultTTL.
func NewHub(historySize int, resultTTL time.Duration) *Hub {
	if historySize <= 0 {
		historySize = 50
	}
	if resultTTL <= 0 {
		resultTTL = time.Hour
	}
	return &Hub{
		runs:        make(map[schema.ExecutionToken]*runHub),
		historySize: historySize,
		resultTTL:   resultTTL,
		depth:       1024,
		now:         time.Now,
	}
}

// Create registers a new run.
func (h *Hub) Create(info RunInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if info.CreatedAt.IsZero() {
		info.CreatedAt = h.now()
	}
	h.runs[info.Token] = &runHub{
		info:   info,
		status: schema.WireRunning,
		subs:   make(map[chan []byte]struct{}),
		geom:   schema.Geometry{},
	}
	h.order = append(h.order, info.Token)
	if len(h.order) > h.historySize {
		for _, token := range h.order[:len(h.order)-h.historySize] {
			delete(h.runs, token)
		}
		h.order = append([]schema.ExecutionToken(nil), h.order[len(h.order)-h.historySize:]...)
	}
	logx.WithRun(context.Background(), info.Token).Info("hub run created", "keys", len(info.Keys))
}

// Publish appends a frame to the run history, mirrors its data into the
// aggregated result output and forwards it to subscribers.
func (h *Hub) Publish(token schema.ExecutionToken, frame schema.Frame) error {
	data, err := schema.EncodeFrame(frame)
	if err != nil {
		return err
	}
	h.mu.Lock()
	rh := h.runs[token]
	if rh == nil {
		h.mu.Unlock()
		return schema.ErrRunNotFound
	}
	if rh.finished {
		h.mu.Unlock()
		return ErrRunFinished
	}
	rh.seq++
	rh.history = append(rh.history, data)
	if frame.Key == schema.AggregateKey && frame.Data != nil {
		rh.output += *frame.Data
	}
	dropped := 0
	for sub := range rh.subs {
		select {
		case sub <- data:
		default:
			delete(rh.subs, sub)
			close(sub)
			dropped++
		}
	}
	seq := rh.seq
	h.mu.Unlock()

	log := logx.WithRunKey(context.Background(), token, frame.Key)
	log.Trace("hub frame", "seq", seq, "bytes", len(data))
	if dropped > 0 {
		log.Warn("hub subscriber dropped", "reason", "slow consumer", "dropped", dropped)
	}
	return nil
}

// Finish marks the run done with its final result code and closes every
// subscriber.
func (h *Hub) Finish(token schema.ExecutionToken, status int) {
	h.mu.Lock()
	rh := h.runs[token]
	if rh == nil || rh.finished {
		h.mu.Unlock()
		return
	}
	rh.finished = true
	rh.status = status
	rh.finishedAt = h.now()
	subs := len(rh.subs)
	for sub := range rh.subs {
		delete(rh.subs, sub)
		close(sub)
	}
	h.mu.Unlock()
	logx.WithRun(context.Background(), token).Info("hub run finished", "status", status, "subs", subs)
}

// Subscribe attaches to a run. The backlog and the live channel are taken
// atomically so no frame is missed or duplicated.
func (h *Hub) Subscribe(token schema.ExecutionToken) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rh := h.runs[token]
	if rh == nil || h.expiredLocked(rh) {
		return nil, schema.ErrRunNotFound
	}
	backlog := append([][]byte(nil), rh.history...)
	ch := make(chan []byte, h.depth)
	if rh.finished {
		close(ch)
	} else {
		rh.subs[ch] = struct{}{}
	}
	log := logx.WithRun(context.Background(), token)
	log.Info("hub subscribe", "subs", len(rh.subs), "backlog", len(backlog))
	var once sync.Once
	return &Subscription{
		Backlog: backlog,
		C:       ch,
		cancel: func() {
			once.Do(func() {
				h.mu.Lock()
				if _, ok := rh.subs[ch]; ok {
					delete(rh.subs, ch)
					close(ch)
				}
				remaining := len(rh.subs)
				h.mu.Unlock()
				log.Info("hub unsubscribe", "subs", remaining)
			})
		},
	}, nil
}

// Result returns the aggregated output and result code of a run.
func (h *Hub) Result(token schema.ExecutionToken) (string, int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rh := h.runs[token]
	if rh == nil || h.expiredLocked(rh) {
		return "", 0, schema.ErrRunNotFound
	}
	return rh.output, rh.status, nil
}

// SetGeometry records the console size reported for a run.
func (h *Hub) SetGeometry(token schema.ExecutionToken, geom schema.Geometry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	rh := h.runs[token]
	if rh == nil {
		return schema.ErrRunNotFound
	}
	rh.geom = geom
	return nil
}

// Geometry returns the last console size reported for a run.
func (h *Hub) Geometry(token schema.ExecutionToken) (schema.Geometry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rh := h.runs[token]
	if rh == nil || !rh.geom.Valid() {
		return schema.Geometry{}, false
	}
	return rh.geom, true
}

// History returns the known runs, newest first.
func (h *Hub) History() []RunInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]RunInfo, 0, len(h.order))
	for i := len(h.order) - 1; i >= 0; i-- {
		if rh := h.runs[h.order[i]]; rh != nil {
			out = append(out, rh.info)
		}
	}
	return out
}

func (h *Hub) expiredLocked(rh *runHub) bool {
	return rh.finished && h.now().Sub(rh.finishedAt) > h.resultTTL
}

type runHub struct {
	info       RunInfo
	seq        uint64
	history    [][]byte
	output     string
	status     int
	finished   bool
	finishedAt time.Time
	geom       schema.Geometry
	subs       map[chan []byte]struct{}
}
