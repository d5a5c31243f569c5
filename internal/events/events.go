// Package events is the archive's event-emission seam: ingest, the
// scheduler, and the reaper report what they did, and a message bus
// forwards it if one is configured. Grounded on
// original_source/debile/master/utils.py's emit(), which is itself a
// no-op unless a bus connection was set up — the same fire-and-forget
// contract spec.md §4.6 asks for.
package events

import (
	"sync"
	"time"
)

// Event is one emitted notification.
type Event struct {
	Verb      string
	Kind      string
	Payload   interface{}
	Timestamp time.Time
}

// Sink receives emitted events. Production wiring points this at a message
// bus client; tests point it at a slice-collecting stub.
type Sink interface {
	Publish(Event)
}

var (
	mu   sync.RWMutex
	sink Sink
)

// Configure installs the process-wide Sink. Passing nil (the default)
// makes Emit a silent no-op, matching spec.md §4.6.
func Configure(s Sink) {
	mu.Lock()
	defer mu.Unlock()
	sink = s
}

// Emit publishes verb/kind/payload to the configured Sink, or does nothing
// if none is configured.
func Emit(verb, kind string, payload interface{}) {
	mu.RLock()
	s := sink
	mu.RUnlock()
	if s == nil {
		return
	}
	s.Publish(Event{Verb: verb, Kind: kind, Payload: payload, Timestamp: time.Now()})
}
