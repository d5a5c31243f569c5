// Package reaper runs the periodic timeout/reschedule passes spec.md §5
// assigns to "an external reaper": jobs stuck assigned past a dispatch
// timeout, jobs closed but never diagnosed, and successful build jobs whose
// binary never arrived. It calls the same store primitives the RPC surface
// uses (internal/scheduler's forfeit_job/rerun_job), rather than
// duplicating the state-transition logic, the way
// mantle/util.RetryUntilTimeout separates the polling loop from whatever
// check function it drives.
package reaper

import (
	"context"
	"time"

	"github.com/coreos/pkg/capnslog"

	"github.com/coreos/debile/internal/store"
)

var plog = capnslog.NewPackageLogger("github.com/coreos/debile", "reaper")

// Config holds the three timeouts spec.md §5 names. Zero-value fields fall
// back to the defaults the original carries: the dispatch timeout has no
// universal default (it is deployment-specific, driven by how long a build
// may legitimately run) and must be set explicitly, while the
// missing-diagnostic and missing-binary timeouts default to one day and
// seven days respectively.
type Config struct {
	// DispatchTimeout reclaims a job that has sat assigned-but-unfinished
	// this long (spec.md §5, "a configured dispatch timeout").
	DispatchTimeout time.Duration
	// MissingDiagnosticTimeout reschedules a job whose worker called
	// close_job but never uploaded a diagnostic bundle within this long.
	// Defaults to 24 hours.
	MissingDiagnosticTimeout time.Duration
	// MissingBinaryTimeout reschedules a build job that finished
	// successfully but whose binary changes never arrived within this
	// long. Defaults to 7 days.
	MissingBinaryTimeout time.Duration
	// Interval is how often a pass runs. Defaults to 5 minutes.
	Interval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MissingDiagnosticTimeout == 0 {
		c.MissingDiagnosticTimeout = 24 * time.Hour
	}
	if c.MissingBinaryTimeout == 0 {
		c.MissingBinaryTimeout = 7 * 24 * time.Hour
	}
	if c.Interval == 0 {
		c.Interval = 5 * time.Minute
	}
	return c
}

// Reaper ties a Config to the store it polls and the clock it reads.
type Reaper struct {
	Store *store.Store
	Now   func() time.Time
	cfg   Config
}

// New builds a Reaper with defaults filled in for any unset Config field.
func New(s *store.Store, cfg Config) *Reaper {
	return &Reaper{Store: s, Now: time.Now, cfg: cfg.withDefaults()}
}

func (r *Reaper) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Run blocks, running one pass immediately and then one every Interval,
// until ctx is cancelled. Each pass's own errors are logged, not returned —
// a transient store error must not stop the loop, matching
// mantle/util.WaitUntilReady's "log and keep polling" shape rather than
// failing the whole process over one bad tick.
func (r *Reaper) Run(ctx context.Context) {
	r.runPass(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runPass(ctx)
		}
	}
}

func (r *Reaper) runPass(ctx context.Context) {
	start := r.now()
	dispatched, diagnosed, rebuilt, err := r.Pass(ctx)
	if err != nil {
		plog.Errorf("reaper pass: %v", err)
		return
	}
	if dispatched+diagnosed+rebuilt > 0 {
		plog.Infof("reaper pass: reclaimed %d stale dispatches, rescheduled %d missing diagnostics, %d missing binaries (took %v)",
			dispatched, diagnosed, rebuilt, r.now().Sub(start))
	}
}

// Pass runs the three reclaim queries once, each in its own transaction so
// one query's result set is never held open across another's write. It
// returns the count reclaimed by each of the three passes, in the order
// dispatch timeout, missing diagnostic, missing binary.
func (r *Reaper) Pass(ctx context.Context) (dispatched, diagnosed, rebuilt int, err error) {
	now := r.now()

	if r.cfg.DispatchTimeout > 0 {
		err = r.Store.WithTx(ctx, func(tx *store.Tx) error {
			n, err := tx.ReclaimStaleDispatches(now, r.cfg.DispatchTimeout)
			dispatched = n
			return err
		})
		if err != nil {
			return 0, 0, 0, err
		}
	}

	err = r.Store.WithTx(ctx, func(tx *store.Tx) error {
		n, err := tx.ReclaimMissingDiagnostics(now, r.cfg.MissingDiagnosticTimeout)
		diagnosed = n
		return err
	})
	if err != nil {
		return dispatched, 0, 0, err
	}

	err = r.Store.WithTx(ctx, func(tx *store.Tx) error {
		n, err := tx.ReclaimMissingBinaries(now, r.cfg.MissingBinaryTimeout)
		rebuilt = n
		return err
	})
	if err != nil {
		return dispatched, diagnosed, 0, err
	}

	return dispatched, diagnosed, rebuilt, nil
}
