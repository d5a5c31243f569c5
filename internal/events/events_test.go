package events

import "testing"

type collectingSink struct {
	events []Event
}

func (c *collectingSink) Publish(e Event) { c.events = append(c.events, e) }

func TestEmitIsNoOpWithoutSink(t *testing.T) {
	Configure(nil)
	Emit("reject", "source", map[string]string{"tag": "invalid-signature"})
}

func TestEmitForwardsToConfiguredSink(t *testing.T) {
	s := &collectingSink{}
	Configure(s)
	t.Cleanup(func() { Configure(nil) })

	Emit("accept", "source", "hello_2.0-1")

	if len(s.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(s.events))
	}
	if s.events[0].Verb != "accept" || s.events[0].Kind != "source" {
		t.Fatalf("unexpected event: %+v", s.events[0])
	}
}
