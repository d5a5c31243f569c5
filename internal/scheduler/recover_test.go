package scheduler

import (
	"testing"

	"github.com/coreos/debile/internal/model"
)

func TestWithRecoverConvertsPanicToError(t *testing.T) {
	err := withRecover("Test", func() error {
		panic("boom")
	})
	if err == nil {
		t.Fatalf("withRecover: expected an error, got nil")
	}
}

func TestWithRecoverPassesThroughSuccess(t *testing.T) {
	err := withRecover("Test", func() error { return nil })
	if err != nil {
		t.Fatalf("withRecover: unexpected error: %v", err)
	}
}

// TestRecoveringAPISurvivesHandlerPanic exercises the RPC surface's one job:
// a handler bug (here, a nil Coordinator dereferenced by GetNextJob once it
// clears the builderOnly check) must turn into an error reply, not a crash.
func TestRecoveringAPISurvivesHandlerPanic(t *testing.T) {
	r := &recoveringAPI{API: &API{Builder: &model.Builder{ID: 1, Name: "worker1"}}}

	var reply GetNextJobReply
	err := r.GetNextJob(GetNextJobArgs{}, &reply)
	if err == nil {
		t.Fatalf("GetNextJob: expected an error from the recovered panic, got nil")
	}
}
