package command

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"pkt.systems/fleetcon/schema"
)

type fakeConsole struct {
	keys     []schema.StreamKey
	statuses map[schema.StreamKey]schema.RecordStatus
	active   schema.StreamKey
	switches []schema.StreamKey
	resizes  int
}

func newFakeConsole(keys ...schema.StreamKey) *fakeConsole {
	return &fakeConsole{keys: keys, active: keys[0], statuses: map[schema.StreamKey]schema.RecordStatus{}}
}

func (f *fakeConsole) Token() schema.ExecutionToken { return "tok" }
func (f *fakeConsole) ActiveKey() schema.StreamKey  { return f.active }
func (f *fakeConsole) Keys() []schema.StreamKey     { return append([]schema.StreamKey(nil), f.keys...) }
func (f *fakeConsole) Resize()                      { f.resizes++ }

func (f *fakeConsole) Snapshots() []schema.RecordSnapshot {
	out := make([]schema.RecordSnapshot, 0, len(f.keys))
	for _, key := range f.keys {
		out = append(out, schema.RecordSnapshot{Key: key, Title: string(key), Status: f.statuses[key]})
	}
	return out
}

func (f *fakeConsole) Counter() schema.Counter {
	var c schema.Counter
	for _, key := range f.keys {
		switch f.statuses[key] {
		case schema.StatusSuccess:
			c.Success++
		case schema.StatusFailed:
			c.Failed++
		default:
			c.Pending++
		}
	}
	return c
}

func (f *fakeConsole) SwitchActive(key schema.StreamKey) error {
	for _, k := range f.keys {
		if k == key {
			f.active = key
			f.switches = append(f.switches, key)
			return nil
		}
	}
	return schema.ErrUnknownKey
}

func TestHandleIgnoresPlainInput(t *testing.T) {
	handler := NewHandler(newFakeConsole("a"), HandlerConfig{})
	handled, err := handler.Handle(context.Background(), "hello")
	if handled || err != nil {
		t.Fatalf("expected unhandled input, got %v %v", handled, err)
	}
}

func TestHandleSwitchByKeyAndNumber(t *testing.T) {
	console := newFakeConsole("all", "web-1", "web-2")
	handler := NewHandler(console, HandlerConfig{})

	tests := []struct {
		input string
		want  schema.StreamKey
	}{
		{"/switch web-2", "web-2"},
		{"/s 1", "all"},
		{"  /SWITCH 2", "web-1"},
	}
	for _, tc := range tests {
		handled, err := handler.Handle(context.Background(), tc.input)
		if !handled || err != nil {
			t.Fatalf("%q: handled=%v err=%v", tc.input, handled, err)
		}
		if console.active != tc.want {
			t.Fatalf("%q: expected active %s, got %s", tc.input, tc.want, console.active)
		}
	}
}

func TestHandleSwitchUnknownKey(t *testing.T) {
	console := newFakeConsole("all", "web-1")
	handler := NewHandler(console, HandlerConfig{})
	_, err := handler.Handle(context.Background(), "/switch db-9")
	if !errors.Is(err, schema.ErrUnknownKey) {
		t.Fatalf("expected ErrUnknownKey, got %v", err)
	}
	if len(console.switches) != 0 || console.active != "all" {
		t.Fatalf("unknown key must not change the console")
	}
	if _, err := handler.Handle(context.Background(), "/switch"); err == nil || !strings.Contains(err.Error(), "usage") {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestHandleNextPrevWrap(t *testing.T) {
	console := newFakeConsole("a", "b", "c")
	handler := NewHandler(console, HandlerConfig{})
	steps := []struct {
		input string
		want  schema.StreamKey
	}{
		{"/next", "b"},
		{"/next", "c"},
		{"/next", "a"},
		{"/prev", "c"},
		{"/p", "b"},
	}
	for _, step := range steps {
		if _, err := handler.Handle(context.Background(), step.input); err != nil {
			t.Fatalf("%s: %v", step.input, err)
		}
		if console.active != step.want {
			t.Fatalf("%s: expected %s, got %s", step.input, step.want, console.active)
		}
	}
}

func TestHandleKeysListsStatuses(t *testing.T) {
	console := newFakeConsole("all", "web-1", "web-2")
	console.statuses["web-1"] = schema.StatusSuccess
	console.statuses["web-2"] = schema.StatusFailed
	var out bytes.Buffer
	handler := NewHandler(console, HandlerConfig{Out: &out})

	if _, err := handler.Handle(context.Background(), "/keys"); err != nil {
		t.Fatalf("keys: %v", err)
	}
	text := out.String()
	for _, want := range []string{" 1 > [pending] all", " 2   [success] web-1", " 3   [failed] web-2", "running 1  success 1  failed 1"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in %q", want, text)
		}
	}
}

func TestHandleResizeAndQuit(t *testing.T) {
	console := newFakeConsole("a")
	handler := NewHandler(console, HandlerConfig{})
	if _, err := handler.Handle(context.Background(), "/resize"); err != nil {
		t.Fatalf("resize: %v", err)
	}
	if console.resizes != 1 {
		t.Fatalf("expected resize, got %d", console.resizes)
	}
	if _, err := handler.Handle(context.Background(), "/quit"); !errors.Is(err, ErrQuit) {
		t.Fatalf("expected ErrQuit, got %v", err)
	}
}

func TestHandleUnknownAndEmpty(t *testing.T) {
	handler := NewHandler(newFakeConsole("a"), HandlerConfig{})
	if _, err := handler.Handle(context.Background(), "/frobnicate"); err == nil {
		t.Fatalf("expected unknown command error")
	}
	if _, err := handler.Handle(context.Background(), "/"); err == nil {
		t.Fatalf("expected invalid command error")
	}
}

func TestHandleHelp(t *testing.T) {
	var out bytes.Buffer
	handler := NewHandler(newFakeConsole("a"), HandlerConfig{Out: &out})
	if _, err := handler.Handle(context.Background(), "/help"); err != nil {
		t.Fatalf("help: %v", err)
	}
	if !strings.Contains(out.String(), "/switch <key|number>") {
		t.Fatalf("unexpected help output %q", out.String())
	}
}
