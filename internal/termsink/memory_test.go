package termsink

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"pkt.systems/fleetcon/schema"
)

func TestMemoryDetachedResize(t *testing.T) {
	m := NewMemory()
	if _, err := m.Resize(); !errors.Is(err, schema.ErrSinkDetached) {
		t.Fatalf("expected ErrSinkDetached, got %v", err)
	}
	m.Attach(schema.Geometry{Cols: 80, Rows: 24})
	geom, err := m.Resize()
	if err != nil {
		t.Fatalf("resize: %v", err)
	}
	if geom.Cols != 80 || geom.Rows != 24 {
		t.Fatalf("unexpected geometry %+v", geom)
	}
}

func TestMemoryClearAndDispose(t *testing.T) {
	m := NewAttachedMemory(schema.Geometry{Cols: 10, Rows: 5})
	m.Write("hello")
	m.Clear()
	if m.Text() != "" {
		t.Fatalf("expected empty surface after clear, got %q", m.Text())
	}
	m.Write("again")
	m.Dispose()
	m.Dispose()
	m.Write("ignored")
	if m.Text() != "again" {
		t.Fatalf("writes after dispose must be dropped, got %q", m.Text())
	}
	if !m.Disposed() {
		t.Fatalf("expected disposed")
	}
	if _, err := m.Resize(); !errors.Is(err, schema.ErrSinkDetached) {
		t.Fatalf("expected detached after dispose, got %v", err)
	}
}

func TestMemoryReflowKeepsEscapes(t *testing.T) {
	m := NewAttachedMemory(schema.Geometry{Cols: 4, Rows: 5})
	m.Write("\x1b[32mabcdef\x1b[0m\r\nxy\r\n")
	lines := m.PlainLines(0)
	want := []string{"abcd", "ef", "xy"}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %q", len(want), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
	raw := m.Lines(0)
	if !strings.Contains(raw[0], "\x1b[32m") {
		t.Fatalf("expected color sequence preserved, got %q", raw[0])
	}
}

func TestTerminalNonTTY(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf, Options{NoColor: true})
	term.Write("\x1b[31mred\x1b[0m\n")
	term.Clear()
	if buf.String() != "red\n" {
		t.Fatalf("unexpected output %q", buf.String())
	}
	if _, err := term.Resize(); !errors.Is(err, schema.ErrSinkDetached) {
		t.Fatalf("expected ErrSinkDetached for non-tty, got %v", err)
	}
	term.Dispose()
	term.Dispose()
	term.Write("late")
	if buf.String() != "red\n" {
		t.Fatalf("writes after dispose must be dropped, got %q", buf.String())
	}
}
