package core

import (
	"errors"
	"strings"
	"testing"

	"pkt.systems/fleetcon/schema"
)

func statusPtr(s schema.RecordStatus) *schema.RecordStatus {
	return &s
}

func newTestRegistry(t *testing.T, keys ...schema.StreamKey) *Registry {
	t.Helper()
	r := NewRegistry()
	if err := r.Initialize(keys, nil); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return r
}

func TestRegistryScenario(t *testing.T) {
	r := NewRegistry()
	titles := map[schema.StreamKey]string{"h1": "Host1", "h2": "Host2"}
	if err := r.Initialize([]schema.StreamKey{"h1", "h2"}, titles); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	steps := []struct {
		key    schema.StreamKey
		data   string
		status schema.RecordStatus
	}{
		{key: "h1", data: "line1\n", status: schema.StatusFromWire(-2)},
		{key: "h2", data: "lineA\n", status: schema.StatusFromWire(-2)},
		{key: "h1", data: "line2\n", status: schema.StatusFromWire(0)},
	}
	for _, step := range steps {
		if _, _, err := r.AppendFrame(step.key, step.data, statusPtr(step.status)); err != nil {
			t.Fatalf("append %s: %v", step.key, err)
		}
	}
	h1, err := r.Select("h1")
	if err != nil {
		t.Fatalf("select h1: %v", err)
	}
	if h1.Data != "line1\nline2\n" || h1.Status != schema.StatusSuccess {
		t.Fatalf("unexpected h1 record: %+v", h1)
	}
	if h1.Title != "Host1" {
		t.Fatalf("unexpected h1 title %q", h1.Title)
	}
	h2, err := r.Select("h2")
	if err != nil {
		t.Fatalf("select h2: %v", err)
	}
	if h2.Data != "lineA\n" || h2.Status != schema.StatusRunning {
		t.Fatalf("unexpected h2 record: %+v", h2)
	}
	counter := r.Counter()
	if counter.Success != 1 || counter.Pending != 1 || counter.Failed != 0 {
		t.Fatalf("unexpected counter: %+v", counter)
	}
}

func TestRegistryAppendPreservesOrder(t *testing.T) {
	r := newTestRegistry(t, "h1")
	fragments := []string{"a", "\x1b[32mb\x1b[0m", "", "c\r\n", "d"}
	for _, fragment := range fragments {
		if _, _, err := r.AppendFrame("h1", fragment, nil); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	rec, _ := r.Select("h1")
	if rec.Data != strings.Join(fragments, "") {
		t.Fatalf("unexpected data %q", rec.Data)
	}
	if rec.Status != schema.StatusPending {
		t.Fatalf("data-only frames must not change status, got %s", rec.Status)
	}
}

func TestRegistryUnknownKeyIsNoop(t *testing.T) {
	r := newTestRegistry(t, "h1")
	_, _, err := r.AppendFrame("ghost", "boo", statusPtr(schema.StatusFailed))
	if !errors.Is(err, schema.ErrUnknownKey) {
		t.Fatalf("expected ErrUnknownKey, got %v", err)
	}
	if r.Has("ghost") || r.Len() != 1 {
		t.Fatalf("unknown key must not create a record")
	}
	if r.Counter().Failed != 0 {
		t.Fatalf("counter changed: %+v", r.Counter())
	}
}

func TestRegistryInitializeValidates(t *testing.T) {
	r := NewRegistry()
	if err := r.Initialize(nil, nil); !errors.Is(err, schema.ErrNoKeys) {
		t.Fatalf("expected ErrNoKeys, got %v", err)
	}
	if err := r.Initialize([]schema.StreamKey{"a", "a"}, nil); !errors.Is(err, schema.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	if err := r.Initialize([]schema.StreamKey{"b", "a", "c"}, nil); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	keys := r.Keys()
	if len(keys) != 3 || keys[0] != "b" || keys[1] != "a" || keys[2] != "c" {
		t.Fatalf("expected insertion order, got %v", keys)
	}
	rec, _ := r.Select("a")
	if rec.Title != "a" {
		t.Fatalf("expected title to default to key, got %q", rec.Title)
	}
}

func TestRegistryStatusNeverRegresses(t *testing.T) {
	r := newTestRegistry(t, "h1")
	if _, changed, _ := r.AppendFrame("h1", "", statusPtr(schema.StatusSuccess)); !changed {
		t.Fatalf("expected status change to success")
	}
	if _, changed, _ := r.AppendFrame("h1", "late\n", statusPtr(schema.StatusRunning)); changed {
		t.Fatalf("terminal status must not regress to running")
	}
	rec, _ := r.Select("h1")
	if rec.Status != schema.StatusSuccess || rec.Data != "late\n" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestRegistryFirstTerminalStatusWins(t *testing.T) {
	tests := []struct {
		name   string
		first  schema.RecordStatus
		second schema.RecordStatus
	}{
		{name: "failed-then-success", first: schema.StatusFailed, second: schema.StatusSuccess},
		{name: "success-then-failed", first: schema.StatusSuccess, second: schema.StatusFailed},
	}
	for _, tc := range tests {
		r := newTestRegistry(t, "h1")
		if _, changed, _ := r.AppendFrame("h1", "", statusPtr(tc.first)); !changed {
			t.Fatalf("%s: expected first terminal status to apply", tc.name)
		}
		if _, changed, _ := r.AppendFrame("h1", "", statusPtr(tc.second)); changed {
			t.Fatalf("%s: second terminal status must be ignored", tc.name)
		}
		rec, _ := r.Select("h1")
		if rec.Status != tc.first {
			t.Fatalf("%s: status = %s, want %s", tc.name, rec.Status, tc.first)
		}
	}
	r := newTestRegistry(t, "h1")
	_, _, _ = r.AppendFrame("h1", "", statusPtr(schema.StatusFailed))
	if c := r.Counter(); c.Failed != 1 || c.Success != 0 {
		t.Fatalf("unexpected counter %+v", c)
	}
}

func TestRegistryForceFailAllPending(t *testing.T) {
	r := newTestRegistry(t, "ok", "run", "wait")
	_, _, _ = r.AppendFrame("ok", "", statusPtr(schema.StatusSuccess))
	_, _, _ = r.AppendFrame("run", "", statusPtr(schema.StatusRunning))

	changed := r.ForceFailAllPending()
	if len(changed) != 2 || changed[0] != "run" || changed[1] != "wait" {
		t.Fatalf("unexpected changed keys: %v", changed)
	}
	for key, want := range map[schema.StreamKey]schema.RecordStatus{
		"ok":   schema.StatusSuccess,
		"run":  schema.StatusFailed,
		"wait": schema.StatusFailed,
	} {
		rec, _ := r.Select(key)
		if rec.Status != want {
			t.Fatalf("%s: status %s, want %s", key, rec.Status, want)
		}
	}
	counter := r.Counter()
	if counter.Success != 1 || counter.Failed != 2 || counter.Pending != 0 {
		t.Fatalf("unexpected counter: %+v", counter)
	}
	if !counter.Done() {
		t.Fatalf("expected counter to report done")
	}
	if again := r.ForceFailAllPending(); len(again) != 0 {
		t.Fatalf("expected no further changes, got %v", again)
	}
}

func TestRegistryBroadcast(t *testing.T) {
	r := newTestRegistry(t, "h1", "h2")
	_, _, _ = r.AppendFrame("h1", "x", nil)
	r.Broadcast("!")
	for key, want := range map[schema.StreamKey]string{"h1": "x!", "h2": "!"} {
		rec, _ := r.Select(key)
		if rec.Data != want {
			t.Fatalf("%s: data %q, want %q", key, rec.Data, want)
		}
	}
}
