package fleetcon

import (
	"pkt.systems/fleetcon/core"
	"pkt.systems/fleetcon/schema"
)

type eventFanout struct {
	sinks []core.EventSink
}

func (f eventFanout) OnRecord(event schema.RecordEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnRecord(event)
	}
}

func (f eventFanout) OnConnState(event schema.ConnEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnConnState(event)
	}
}
