package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/coreos/debile/internal/model"
	"github.com/coreos/debile/internal/planner"
	"github.com/coreos/debile/internal/store"
)

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

type fixture struct {
	s      *store.Store
	group  *model.Group
	comp   *model.Component
	arch   *model.Architecture
	person *model.Person
	builder *model.Builder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	f := &fixture{s: s}
	err = s.WithTx(context.Background(), func(tx *store.Tx) error {
		group, err := tx.CreateGroup("main", "", "", "", "")
		if err != nil {
			return err
		}
		suite, err := tx.CreateSuite("unstable")
		if err != nil {
			return err
		}
		gs, err := tx.CreateGroupSuite(group.ID, suite.ID)
		if err != nil {
			return err
		}
		comp, err := tx.CreateComponent("main")
		if err != nil {
			return err
		}
		if err := tx.AttachComponent(gs, comp.ID); err != nil {
			return err
		}
		arch, err := tx.GetOrCreateArch("amd64")
		if err != nil {
			return err
		}
		if err := tx.AttachArch(gs, arch.ID); err != nil {
			return err
		}
		check, err := tx.CreateCheck("build", false, false, true)
		if err != nil {
			return err
		}
		if err := tx.AttachCheck(gs, check.ID); err != nil {
			return err
		}
		person, err := tx.CreateUser("alice", "Alice Admin", "alice@example.com")
		if err != nil {
			return err
		}
		builder, err := tx.CreateBuilder("worker1")
		if err != nil {
			return err
		}

		f.group, f.comp, f.arch, f.person, f.builder = group, comp, arch, person, builder
		return nil
	})
	if err != nil {
		t.Fatalf("seed fixture: %v", err)
	}
	return f
}

func (f *fixture) createSourceAndJob(t *testing.T, name, version string) *model.Source {
	t.Helper()
	var source *model.Source
	err := f.s.WithTx(context.Background(), func(tx *store.Tx) error {
		groupSuite, err := tx.GetGroupSuite("main", "unstable")
		if err != nil {
			return err
		}
		src := &model.Source{
			Name: name, Version: version,
			GroupSuite: groupSuite, Component: f.comp,
			Uploader: f.person, UploadedAt: fixedNow,
			Arches: []*model.Architecture{f.arch},
		}
		planner.Plan(src)
		if err := tx.CheckSourceAcceptable(f.group.ID, name, version); err != nil {
			return err
		}
		if err := tx.CreateSource(src); err != nil {
			return err
		}
		if err := tx.PruneOlderSources(f.group.ID, name, version); err != nil {
			return err
		}
		source = src
		return nil
	})
	if err != nil {
		t.Fatalf("create source %s/%s: %v", name, version, err)
	}
	return source
}

func TestPassReclaimsStaleDispatch(t *testing.T) {
	f := newFixture(t)
	source := f.createSourceAndJob(t, "hello", "1.0-1")
	jobID := source.Jobs[0].ID

	longAgo := fixedNow.Add(-2 * time.Hour)
	err := f.s.WithTx(context.Background(), func(tx *store.Tx) error {
		filter := store.DispatchFilter{
			Suites: []string{"unstable"}, Components: []string{"main"},
			Checks: []string{"build"}, Arches: []string{"amd64"},
		}
		_, err := tx.GetNextJob(f.builder.ID, filter, longAgo)
		return err
	})
	if err != nil {
		t.Fatalf("dispatch job: %v", err)
	}

	r := New(f.s, Config{DispatchTimeout: time.Hour})
	r.Now = func() time.Time { return fixedNow }

	dispatched, diagnosed, rebuilt, err := r.Pass(context.Background())
	if err != nil {
		t.Fatalf("Pass: %v", err)
	}
	if dispatched != 1 {
		t.Fatalf("dispatched = %d, want 1", dispatched)
	}
	if diagnosed != 0 || rebuilt != 0 {
		t.Fatalf("diagnosed = %d, rebuilt = %d, want 0, 0", diagnosed, rebuilt)
	}

	err = f.s.WithTx(context.Background(), func(tx *store.Tx) error {
		job, err := tx.GetJob(jobID)
		if err != nil {
			return err
		}
		if job.State != model.StatePending {
			t.Fatalf("state = %s, want pending", job.State)
		}
		if job.Builder != nil {
			t.Fatalf("expected assignment cleared, got builder %+v", job.Builder)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verify reclaimed job: %v", err)
	}
}

func TestPassSkipsDispatchReclaimWhenTimeoutUnset(t *testing.T) {
	f := newFixture(t)
	source := f.createSourceAndJob(t, "hello", "1.0-1")
	jobID := source.Jobs[0].ID

	longAgo := fixedNow.Add(-30 * 24 * time.Hour)
	err := f.s.WithTx(context.Background(), func(tx *store.Tx) error {
		filter := store.DispatchFilter{
			Suites: []string{"unstable"}, Components: []string{"main"},
			Checks: []string{"build"}, Arches: []string{"amd64"},
		}
		_, err := tx.GetNextJob(f.builder.ID, filter, longAgo)
		return err
	})
	if err != nil {
		t.Fatalf("dispatch job: %v", err)
	}

	r := New(f.s, Config{}) // DispatchTimeout left zero: reclaim pass is disabled
	r.Now = func() time.Time { return fixedNow }

	dispatched, _, _, err := r.Pass(context.Background())
	if err != nil {
		t.Fatalf("Pass: %v", err)
	}
	if dispatched != 0 {
		t.Fatalf("dispatched = %d, want 0 with DispatchTimeout unset", dispatched)
	}

	err = f.s.WithTx(context.Background(), func(tx *store.Tx) error {
		job, err := tx.GetJob(jobID)
		if err != nil {
			return err
		}
		if job.State != model.StateAssigned {
			t.Fatalf("state = %s, want assigned (untouched)", job.State)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verify untouched job: %v", err)
	}
}

func TestPassReschedulesMissingDiagnostic(t *testing.T) {
	f := newFixture(t)
	source := f.createSourceAndJob(t, "hello", "1.0-1")
	jobID := source.Jobs[0].ID

	err := f.s.WithTx(context.Background(), func(tx *store.Tx) error {
		filter := store.DispatchFilter{
			Suites: []string{"unstable"}, Components: []string{"main"},
			Checks: []string{"build"}, Arches: []string{"amd64"},
		}
		if _, err := tx.GetNextJob(f.builder.ID, filter, fixedNow.Add(-48*time.Hour)); err != nil {
			return err
		}
		return tx.CloseJob(jobID, fixedNow.Add(-48*time.Hour))
	})
	if err != nil {
		t.Fatalf("dispatch + close job: %v", err)
	}

	r := New(f.s, Config{MissingDiagnosticTimeout: 24 * time.Hour})
	r.Now = func() time.Time { return fixedNow }

	_, diagnosed, _, err := r.Pass(context.Background())
	if err != nil {
		t.Fatalf("Pass: %v", err)
	}
	if diagnosed != 1 {
		t.Fatalf("diagnosed = %d, want 1", diagnosed)
	}

	err = f.s.WithTx(context.Background(), func(tx *store.Tx) error {
		job, err := tx.GetJob(jobID)
		if err != nil {
			return err
		}
		if job.State != model.StatePending {
			t.Fatalf("state = %s, want pending", job.State)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verify rescheduled job: %v", err)
	}
}

func TestPassReschedulesMissingBinary(t *testing.T) {
	f := newFixture(t)
	source := f.createSourceAndJob(t, "hello", "1.0-1")
	jobID := source.Jobs[0].ID

	old := fixedNow.Add(-10 * 24 * time.Hour)
	err := f.s.WithTx(context.Background(), func(tx *store.Tx) error {
		filter := store.DispatchFilter{
			Suites: []string{"unstable"}, Components: []string{"main"},
			Checks: []string{"build"}, Arches: []string{"amd64"},
		}
		if _, err := tx.GetNextJob(f.builder.ID, filter, old); err != nil {
			return err
		}
		if err := tx.CloseJob(jobID, old); err != nil {
			return err
		}
		// The worker reported success, so only the binary is missing.
		return tx.CreateResult(&model.Result{
			Job: &model.Job{ID: jobID}, UploadedAt: old,
			Failed: false, FirehoseID: "firehose-1",
		}, nil)
	})
	if err != nil {
		t.Fatalf("dispatch, close and report job: %v", err)
	}

	r := New(f.s, Config{MissingBinaryTimeout: 7 * 24 * time.Hour})
	r.Now = func() time.Time { return fixedNow }

	_, _, rebuilt, err := r.Pass(context.Background())
	if err != nil {
		t.Fatalf("Pass: %v", err)
	}
	if rebuilt != 1 {
		t.Fatalf("rebuilt = %d, want 1", rebuilt)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	f := newFixture(t)
	r := New(f.s, Config{Interval: time.Millisecond})
	r.Now = func() time.Time { return fixedNow }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after context cancellation")
	}
}
