package schema

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Plain-text protocol messages.
const (
	// HandshakeMessage is sent by the client once the transport is open.
	HandshakeMessage = "ok"
	// KeepaliveProbe is sent by the server to keep the channel alive.
	KeepaliveProbe = "pong"
	// KeepaliveReply answers a KeepaliveProbe.
	KeepaliveReply = "ping"
)

// Frame is one structured message addressed to a stream key.
type Frame struct {
	Key    StreamKey `json:"key"`
	Data   *string   `json:"data,omitempty"`
	Status *int      `json:"status,omitempty"`
}

// RecordStatus returns the translated status when present.
func (f Frame) RecordStatus() (RecordStatus, bool) {
	if f.Status == nil {
		return StatusPending, false
	}
	return StatusFromWire(*f.Status), true
}

// Fragment returns the data fragment, empty for status-only frames.
func (f Frame) Fragment() string {
	if f.Data == nil {
		return ""
	}
	return *f.Data
}

// InboundKind tags the shape of an inbound message.
type InboundKind int

const (
	// InboundMalformed is a message that could not be decoded.
	InboundMalformed InboundKind = iota
	// InboundKeepalive is a keepalive probe.
	InboundKeepalive
	// InboundFrame is a structured frame.
	InboundFrame
)

func (k InboundKind) String() string {
	switch k {
	case InboundKeepalive:
		return "keepalive"
	case InboundFrame:
		return "frame"
	default:
		return "malformed"
	}
}

// Inbound is a decoded message from the stream connection.
type Inbound struct {
	Kind  InboundKind
	Frame Frame
	Raw   string
	Err   error
}

var errFrameWithoutKey = errors.New("frame without key")

// DecodeInbound classifies and decodes one message.
func DecodeInbound(msg []byte) Inbound {
	raw := string(msg)
	if raw == KeepaliveProbe {
		return Inbound{Kind: InboundKeepalive, Raw: raw}
	}
	var frame Frame
	if err := json.Unmarshal(msg, &frame); err != nil {
		return Inbound{Kind: InboundMalformed, Raw: raw, Err: fmt.Errorf("decode frame: %w", err)}
	}
	if frame.Key == "" {
		return Inbound{Kind: InboundMalformed, Raw: raw, Err: errFrameWithoutKey}
	}
	return Inbound{Kind: InboundFrame, Frame: frame, Raw: raw}
}

// EncodeFrame marshals a frame for the wire.
func EncodeFrame(frame Frame) ([]byte, error) {
	return json.Marshal(frame)
}
