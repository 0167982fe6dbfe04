package schema

import (
	"errors"
	"testing"
)

func TestDecodeInboundKeepalive(t *testing.T) {
	in := DecodeInbound([]byte("pong"))
	if in.Kind != InboundKeepalive {
		t.Fatalf("expected keepalive, got %s", in.Kind)
	}
}

func TestDecodeInboundFrame(t *testing.T) {
	in := DecodeInbound([]byte(`{"key":"h1","data":"line1\n","status":-2}`))
	if in.Kind != InboundFrame {
		t.Fatalf("expected frame, got %s (%v)", in.Kind, in.Err)
	}
	if in.Frame.Key != "h1" {
		t.Fatalf("unexpected key %q", in.Frame.Key)
	}
	if in.Frame.Fragment() != "line1\n" {
		t.Fatalf("unexpected data %q", in.Frame.Fragment())
	}
	status, ok := in.Frame.RecordStatus()
	if !ok || status != StatusRunning {
		t.Fatalf("expected running status, got %v (%v)", status, ok)
	}
}

func TestDecodeInboundStatusOnly(t *testing.T) {
	in := DecodeInbound([]byte(`{"key":"h1","status":0}`))
	if in.Kind != InboundFrame {
		t.Fatalf("expected frame, got %s", in.Kind)
	}
	if in.Frame.Data != nil {
		t.Fatalf("expected nil data")
	}
	if status, ok := in.Frame.RecordStatus(); !ok || status != StatusSuccess {
		t.Fatalf("expected success status, got %v", status)
	}
}

func TestDecodeInboundMalformed(t *testing.T) {
	tests := []struct {
		name string
		msg  string
	}{
		{name: "truncated", msg: "{not json"},
		{name: "plain", msg: "hello"},
		{name: "missing-key", msg: `{"data":"x"}`},
		{name: "bad-status", msg: `{"key":"h1","status":"done"}`},
		{name: "trailing", msg: `{"key":"h1"} {"key":"h2"}`},
		{name: "trailing-bracket", msg: `{"key":"h1","data":"x"}]`},
		{name: "trailing-brace", msg: `{"key":"h1","data":"x"}}`},
		{name: "trailing-word", msg: `{"key":"h1"} x`},
	}
	for _, tc := range tests {
		in := DecodeInbound([]byte(tc.msg))
		if in.Kind != InboundMalformed {
			t.Fatalf("%s: expected malformed, got %s", tc.name, in.Kind)
		}
		if in.Err == nil {
			t.Fatalf("%s: expected decode error", tc.name)
		}
		if in.Raw != tc.msg {
			t.Fatalf("%s: raw = %q", tc.name, in.Raw)
		}
	}
}

func TestDecodeInboundMissingKeyError(t *testing.T) {
	in := DecodeInbound([]byte(`{"status":0}`))
	if !errors.Is(in.Err, errFrameWithoutKey) {
		t.Fatalf("expected missing key error, got %v", in.Err)
	}
}

func TestStatusFromWire(t *testing.T) {
	tests := []struct {
		code int
		want RecordStatus
	}{
		{code: -2, want: StatusRunning},
		{code: 0, want: StatusSuccess},
		{code: 1, want: StatusFailed},
		{code: -1, want: StatusFailed},
		{code: 2, want: StatusFailed},
	}
	for _, tc := range tests {
		if got := StatusFromWire(tc.code); got != tc.want {
			t.Fatalf("StatusFromWire(%d) = %s, want %s", tc.code, got, tc.want)
		}
	}
}

func TestWireCodeRoundTrip(t *testing.T) {
	for _, status := range []RecordStatus{StatusRunning, StatusSuccess, StatusFailed} {
		code, ok := WireCode(status)
		if !ok {
			t.Fatalf("expected wire code for %s", status)
		}
		if got := StatusFromWire(code); got != status {
			t.Fatalf("round trip %s -> %d -> %s", status, code, got)
		}
	}
	if _, ok := WireCode(StatusPending); ok {
		t.Fatalf("pending must not have a wire code")
	}
}
