package core

import (
	"fmt"
	"strings"

	"pkt.systems/fleetcon/schema"
)

// record is the mutable state behind one stream key.
type record struct {
	key    schema.StreamKey
	title  string
	data   strings.Builder
	status schema.RecordStatus
}

func (r *record) snapshot() schema.RecordSnapshot {
	return schema.RecordSnapshot{
		Key:    r.key,
		Title:  r.title,
		Data:   r.data.String(),
		Status: r.status,
	}
}

// Registry holds one output record per stream key in insertion order.
// It is not safe for concurrent use; the Controller serializes access.
type Registry struct {
	order   []schema.StreamKey
	records map[schema.StreamKey]*record
	counter schema.Counter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[schema.StreamKey]*record)}
}

// Initialize creates one pending record per key. Titles default to the key.
func (r *Registry) Initialize(keys []schema.StreamKey, titles map[schema.StreamKey]string) error {
	if len(keys) == 0 {
		return schema.ErrNoKeys
	}
	seen := make(map[schema.StreamKey]struct{}, len(keys))
	for _, key := range keys {
		if key == "" {
			return fmt.Errorf("%w: empty key", schema.ErrUnknownKey)
		}
		if _, ok := seen[key]; ok {
			return fmt.Errorf("%w: %s", schema.ErrDuplicateKey, key)
		}
		seen[key] = struct{}{}
	}
	r.Reset()
	for _, key := range keys {
		title := titles[key]
		if title == "" {
			title = string(key)
		}
		r.order = append(r.order, key)
		r.records[key] = &record{key: key, title: title, status: schema.StatusPending}
	}
	r.recount()
	return nil
}

// AppendFrame appends a fragment to the record for key and applies status when
// non-nil. Statuses only move forward; a regression is ignored. The returned
// bool reports whether the status changed.
func (r *Registry) AppendFrame(key schema.StreamKey, fragment string, status *schema.RecordStatus) (schema.RecordSnapshot, bool, error) {
	rec := r.records[key]
	if rec == nil {
		return schema.RecordSnapshot{}, false, fmt.Errorf("%w: %s", schema.ErrUnknownKey, key)
	}
	if fragment != "" {
		rec.data.WriteString(fragment)
	}
	changed := false
	if status != nil && *status != rec.status && advances(rec.status, *status) {
		rec.status = *status
		changed = true
		r.recount()
	}
	return rec.snapshot(), changed, nil
}

// advances reports whether moving from current to next respects the lifecycle.
// The first terminal status wins.
func advances(current, next schema.RecordStatus) bool {
	if current.Terminal() {
		return false
	}
	return next.Rank() >= current.Rank()
}

// Broadcast appends text to every record.
func (r *Registry) Broadcast(text string) {
	if text == "" {
		return
	}
	for _, key := range r.order {
		r.records[key].data.WriteString(text)
	}
}

// ForceFailAllPending marks every pending or running record as failed and
// returns the keys that changed.
func (r *Registry) ForceFailAllPending() []schema.StreamKey {
	var changed []schema.StreamKey
	for _, key := range r.order {
		rec := r.records[key]
		if rec.status.Terminal() {
			continue
		}
		rec.status = schema.StatusFailed
		changed = append(changed, key)
	}
	if len(changed) > 0 {
		r.recount()
	}
	return changed
}

// Select returns a snapshot of the record for key.
func (r *Registry) Select(key schema.StreamKey) (schema.RecordSnapshot, error) {
	rec := r.records[key]
	if rec == nil {
		return schema.RecordSnapshot{}, fmt.Errorf("%w: %s", schema.ErrUnknownKey, key)
	}
	return rec.snapshot(), nil
}

// Has reports whether key is registered.
func (r *Registry) Has(key schema.StreamKey) bool {
	_, ok := r.records[key]
	return ok
}

// Keys returns the keys in display order.
func (r *Registry) Keys() []schema.StreamKey {
	return append([]schema.StreamKey(nil), r.order...)
}

// Snapshots returns every record in display order.
func (r *Registry) Snapshots() []schema.RecordSnapshot {
	out := make([]schema.RecordSnapshot, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.records[key].snapshot())
	}
	return out
}

// Counter returns the status summary.
func (r *Registry) Counter() schema.Counter {
	return r.counter
}

// Len returns the number of records.
func (r *Registry) Len() int {
	return len(r.order)
}

// Reset discards every record.
func (r *Registry) Reset() {
	r.order = nil
	r.records = make(map[schema.StreamKey]*record)
	r.counter = schema.Counter{}
}

func (r *Registry) recount() {
	var c schema.Counter
	for _, rec := range r.records {
		switch rec.status {
		case schema.StatusSuccess:
			c.Success++
		case schema.StatusFailed:
			c.Failed++
		default:
			c.Pending++
		}
	}
	r.counter = c
}
