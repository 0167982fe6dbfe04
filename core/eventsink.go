package core

import "pkt.systems/fleetcon/schema"

// EventSink receives record and connection events from the controller.
type EventSink interface {
	OnRecord(event schema.RecordEvent)
	OnConnState(event schema.ConnEvent)
}

type nopEventSink struct{}

func (nopEventSink) OnRecord(schema.RecordEvent)  {}
func (nopEventSink) OnConnState(schema.ConnEvent) {}
