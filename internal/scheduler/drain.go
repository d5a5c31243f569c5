package scheduler

import (
	"context"
	"sync"

	"github.com/coreos/debile/internal/store"
)

// drainState is the one piece of shared mutable process-wide state spec.md
// §5 permits: a shutdown_request flag, plus the channel that signals the
// drain has actually completed (no jobs assigned but unfinished).
type drainState struct {
	mu        sync.Mutex
	isDraining bool
	done      chan struct{}
	closeOnce sync.Once
}

func newDrainState() *drainState {
	return &drainState{done: make(chan struct{})}
}

func (d *drainState) request() {
	d.mu.Lock()
	d.isDraining = true
	d.mu.Unlock()
}

func (d *drainState) requested() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isDraining
}

func (d *drainState) finish() {
	d.closeOnce.Do(func() { close(d.done) })
}

// Done returns a channel closed once a requested drain has completed.
func (d *drainState) Done() <-chan struct{} {
	return d.done
}

// Done exposes the Coordinator's drain-complete signal to cmd/debile-masterd's
// server loop, which shuts down the listener once it fires.
func (c *Coordinator) Done() <-chan struct{} {
	return c.drain.Done()
}

// PollDrain re-checks the drain completion predicate. maybeShutdown already
// runs this check after every close_job/forfeit_job, which covers the common
// case of a drain requested while jobs are still outstanding; PollDrain lets
// a caller (cmd/debile-masterd's shutdown goroutine) re-run it on a timer so
// a drain requested when no job is assigned still completes promptly rather
// than waiting for the next RPC call that happens to touch job state.
func (c *Coordinator) PollDrain() {
	c.maybeShutdown()
}

// maybeShutdown checks the drain completion predicate after any call that
// could change a job's assignment state (close_job, forfeit_job): if a
// drain has been requested and no job is currently assigned-but-unfinished,
// the drain is complete and Done() fires (spec.md §4.4).
func (c *Coordinator) maybeShutdown() {
	if !c.drain.requested() {
		return
	}
	var count int
	err := c.withTx(context.Background(), func(tx *store.Tx) error {
		n, err := tx.CountAssignedJobs()
		if err != nil {
			return err
		}
		count = n
		return nil
	})
	if err != nil {
		plog.Errorf("drain check: %v", err)
		return
	}
	if count == 0 {
		c.drain.finish()
	}
}
