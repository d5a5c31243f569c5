// Package scheduler is the authenticated RPC surface workers and
// administrators talk to: job dispatch, completion, rerun, and principal
// management. Grounded on original_source/debile/master/server.py's
// DebileMasterInterface/DebileMasterAuthMixIn, re-architected per spec.md's
// Open Question decision (see DESIGN.md) into explicit per-connection state
// rather than a thread-local NAMESPACE: the peer certificate fingerprint is
// resolved once per TLS connection (server.go) into that connection's API
// receiver, and every call opens its own transaction.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/pkg/capnslog"

	"github.com/coreos/debile/internal/events"
	"github.com/coreos/debile/internal/model"
	"github.com/coreos/debile/internal/store"
)

var plog = capnslog.NewPackageLogger("github.com/coreos/debile", "scheduler")

// ErrUnauthorized is returned by a builder-only or user-only method called
// by the wrong kind of principal.
var ErrUnauthorized = fmt.Errorf("scheduler: principal is not authorized for this method")

// Context pairs an open transaction with whichever principal a connection
// authenticated as. The RPC handlers in this package do not take a Context:
// they read the principal from their API receiver and open a transaction
// per call through Coordinator.withTx. Exactly one of User/Builder is non-nil for
// an authenticated connection; both are nil only for the unauthenticated
// methods permitted before a client presents credentials (there are none
// in this module — every RPC goes through an authenticated connection).
type Context struct {
	Session *store.Tx
	User    *model.Person
	Builder *model.Builder
}

// API is the RPC receiver bound to one authenticated connection: User or
// Builder is fixed for the lifetime of the connection (the TLS peer
// certificate is checked once, at accept time), while each call opens and
// closes its own transaction via Coordinator.withTx.
type API struct {
	Coordinator *Coordinator
	User        *model.Person
	Builder     *model.Builder
}

// Coordinator is the process-wide state shared by every connection's API:
// the store, the clock, the grace durations the reaper-adjacent user RPCs
// (retry_failed) need, and the drain flag (spec.md §4.4/§5 — "no shared
// mutable process-wide state other than the drain flag").
type Coordinator struct {
	Store        *store.Store
	Now          func() time.Time
	RetryGrace   time.Duration
	KeyringPath  string
	TransportPath string

	drain *drainState
}

// NewCoordinator builds a Coordinator with sane defaults for the fields the
// caller does not set explicitly.
func NewCoordinator(s *store.Store) *Coordinator {
	return &Coordinator{
		Store:      s,
		Now:        time.Now,
		RetryGrace: 7 * 24 * time.Hour,
		drain:      newDrainState(),
	}
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Coordinator) withTx(ctx context.Context, fn func(*store.Tx) error) error {
	return c.Store.WithTx(ctx, fn)
}

// RequestDrain sets the drain flag; see drain.go for the shutdown sequence.
func (c *Coordinator) RequestDrain() {
	c.drain.request()
}

// Draining reports whether a shutdown has been requested.
func (c *Coordinator) Draining() bool {
	return c.drain.requested()
}

func (a *API) builderOnly() error {
	if a.Builder == nil {
		return ErrUnauthorized
	}
	return nil
}

func (a *API) userOnly() error {
	if a.User == nil {
		return ErrUnauthorized
	}
	return nil
}

// --- get_next_job ---

type GetNextJobArgs struct {
	Suites     []string
	Components []string
	Checks     []string
	Arches     []string
}

type GetNextJobReply struct {
	Job *model.Job // nil when no job is dispatchable, or while draining
}

// GetNextJob is builder-only. Returns no job while the coordinator is
// draining (spec.md §4.4), otherwise selects and claims the next
// dispatchable job and touches the caller's last-ping timestamp.
func (a *API) GetNextJob(args GetNextJobArgs, reply *GetNextJobReply) error {
	if err := a.builderOnly(); err != nil {
		return err
	}
	if a.Coordinator.Draining() {
		reply.Job = nil
		return nil
	}

	now := a.Coordinator.now()
	return a.Coordinator.withTx(context.Background(), func(tx *store.Tx) error {
		if err := tx.TouchBuilderPing(a.Builder.ID, now); err != nil {
			return err
		}
		job, err := tx.GetNextJob(a.Builder.ID, store.DispatchFilter{
			Suites:     args.Suites,
			Components: args.Components,
			Checks:     args.Checks,
			Arches:     args.Arches,
		}, now)
		if err == store.ErrNotFound {
			reply.Job = nil
			return nil
		}
		if err != nil {
			return err
		}
		emitEvent("start", "job", job)
		reply.Job = job
		return nil
	})
}

// --- close_job ---

type CloseJobArgs struct {
	JobID int64
}

type CloseJobReply struct{}

// CloseJob is builder-only. Stamps finished_at; does not set Failed, which
// is only recorded by ingest of the diagnostic bundle (spec.md §4.4).
func (a *API) CloseJob(args CloseJobArgs, reply *CloseJobReply) error {
	if err := a.builderOnly(); err != nil {
		return err
	}
	now := a.Coordinator.now()
	err := a.Coordinator.withTx(context.Background(), func(tx *store.Tx) error {
		return tx.CloseJob(args.JobID, now)
	})
	if err != nil {
		return err
	}
	emitEvent("complete", "job", args.JobID)
	a.Coordinator.maybeShutdown()
	return nil
}

// --- forfeit_job ---

type ForfeitJobArgs struct {
	JobID int64
}

type ForfeitJobReply struct{}

// ForfeitJob is builder-only. Clears the assignment and returns the job to
// pending, for a worker giving up on a job it can no longer run.
func (a *API) ForfeitJob(args ForfeitJobArgs, reply *ForfeitJobReply) error {
	if err := a.builderOnly(); err != nil {
		return err
	}
	err := a.Coordinator.withTx(context.Background(), func(tx *store.Tx) error {
		return tx.ForfeitJob(args.JobID)
	})
	if err != nil {
		return err
	}
	emitEvent("abort", "job", args.JobID)
	a.Coordinator.maybeShutdown()
	return nil
}

// --- rerun_job / rerun_check / retry_failed ---

type RerunJobArgs struct {
	JobID int64
}

type RerunJobReply struct{}

var errRerunBuiltBinary = fmt.Errorf("scheduler: job already produced a binary")
var errRerunStaleSource = fmt.Errorf("scheduler: job's source is not the current version")

// RerunJob is user-only. Refuses a build job that already produced a
// binary, and refuses a job whose source is not current for its
// (name, group_suite) — spec.md §4.4, preserved verbatim from the original
// (see DESIGN.md Open Question 2).
func (a *API) RerunJob(args RerunJobArgs, reply *RerunJobReply) error {
	if err := a.userOnly(); err != nil {
		return err
	}
	return a.Coordinator.withTx(context.Background(), func(tx *store.Tx) error {
		built, err := tx.JobHasBuiltBinary(args.JobID)
		if err != nil {
			return err
		}
		if built {
			return errRerunBuiltBinary
		}
		current, err := tx.IsLatestVersionForSource(args.JobID)
		if err != nil {
			return err
		}
		if !current {
			return errRerunStaleSource
		}
		if err := tx.RerunJob(args.JobID); err != nil {
			return err
		}
		emitEvent("rerun", "job", args.JobID)
		return nil
	})
}

type RerunCheckArgs struct {
	CheckName string
}

type RerunCheckReply struct {
	Count int
}

var errRerunCheckIsBuild = fmt.Errorf("scheduler: rerun_check refuses build checks")

// RerunCheck is user-only and refuses build checks (spec.md §4.4); it
// applies RerunJob's clear to every job of the named check whose source is
// current.
func (a *API) RerunCheck(args RerunCheckArgs, reply *RerunCheckReply) error {
	if err := a.userOnly(); err != nil {
		return err
	}
	return a.Coordinator.withTx(context.Background(), func(tx *store.Tx) error {
		check, err := tx.GetCheckByName(args.CheckName)
		if err != nil {
			return err
		}
		if check.Build {
			return errRerunCheckIsBuild
		}
		n, err := tx.RerunJobsForCheck(args.CheckName)
		if err != nil {
			return err
		}
		emitEvent("rerun", "check", args.CheckName)
		reply.Count = n
		return nil
	})
}

type RetryFailedArgs struct{}

type RetryFailedReply struct {
	Count int
}

// RetryFailed is user-only: applies RerunJob's clear to every build job
// finished longer than the grace interval ago that produced no binary.
func (a *API) RetryFailed(args RetryFailedArgs, reply *RetryFailedReply) error {
	if err := a.userOnly(); err != nil {
		return err
	}
	now := a.Coordinator.now()
	return a.Coordinator.withTx(context.Background(), func(tx *store.Tx) error {
		n, err := tx.RetryFailedBuilds(now, a.Coordinator.RetryGrace)
		if err != nil {
			return err
		}
		emitEvent("retry", "build", n)
		reply.Count = n
		return nil
	})
}

func emitEvent(verb, kind string, payload interface{}) {
	plog.Debugf("%s %s: %v", verb, kind, payload)
	events.Emit(verb, kind, payload)
}

// --- hello / drain ---

type HelloArgs struct{}

type HelloReply struct {
	Greeting string
}

// Hello is generic — any authenticated principal may call it, mirroring
// server.py's hello()/user_hello()/builder_hello() trio collapsed into one
// method that reports which kind of principal it sees.
func (a *API) Hello(args HelloArgs, reply *HelloReply) error {
	switch {
	case a.Builder != nil:
		reply.Greeting = fmt.Sprintf("builder:%s", a.Builder.Name)
	case a.User != nil:
		reply.Greeting = fmt.Sprintf("user:%s", a.User.Username)
	default:
		reply.Greeting = "unknown"
	}
	return nil
}

type DrainArgs struct{}

type DrainReply struct{}

// Drain is user-only: sets the shutdown_request flag (spec.md §4.4). The
// server terminates once no job remains assigned-but-unfinished; see
// drain.go.
func (a *API) Drain(args DrainArgs, reply *DrainReply) error {
	if err := a.userOnly(); err != nil {
		return err
	}
	a.Coordinator.RequestDrain()
	a.Coordinator.maybeShutdown()
	return nil
}
