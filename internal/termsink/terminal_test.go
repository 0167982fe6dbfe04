package termsink

import (
	"bytes"
	"errors"
	"testing"

	"pkt.systems/fleetcon/schema"
)

func TestTerminalOnPlainWriter(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf, Options{NoColor: true})

	term.Clear()
	if got := buf.String(); got != "" {
		t.Fatalf("expected clear of an empty writer to write nothing, got %q", got)
	}
	term.Write("\x1b[32mok: [web01]\x1b[0m\r\n")
	if got := buf.String(); got != "ok: [web01]\r\n" {
		t.Fatalf("unexpected output %q", got)
	}
	if _, err := term.Resize(); !errors.Is(err, schema.ErrSinkDetached) {
		t.Fatalf("expected ErrSinkDetached, got %v", err)
	}

	term.Dispose()
	term.Dispose()
	term.Write("late")
	term.Clear()
	if got := buf.String(); got != "ok: [web01]\r\n" {
		t.Fatalf("expected writes after dispose to be dropped, got %q", got)
	}
}

func TestTerminalKeepsColor(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf, Options{})
	term.Write("\x1b[31mfatal\x1b[0m")
	if got := buf.String(); got != "\x1b[31mfatal\x1b[0m" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestTerminalClearSeparatesRendersOnPlainWriter(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf, Options{NoColor: true})

	term.Write("web01 output")
	term.Clear()
	term.Clear()
	term.Write("web02 output")
	want := "web01 output" + clearRule + "web02 output"
	if got := buf.String(); got != want {
		t.Fatalf("output = %q, want %q", got, want)
	}
}
