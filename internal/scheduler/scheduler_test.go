package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/coreos/debile/internal/model"
	"github.com/coreos/debile/internal/planner"
	"github.com/coreos/debile/internal/store"
)

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

type fixture struct {
	s       *store.Store
	coord   *Coordinator
	group   *model.Group
	suite   *model.Suite
	gs      int64
	comp    *model.Component
	arch    *model.Architecture
	check   *model.Check
	person  *model.Person
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
	f.coord = NewCoordinator(s)
	f.coord.Now = func() time.Time { return fixedNow }

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

		f.group, f.suite, f.gs, f.comp, f.arch, f.check, f.person, f.builder =
			group, suite, gs, comp, arch, check, person, builder
		return nil
	})
	if err != nil {
		t.Fatalf("seed fixture: %v", err)
	}
	return f
}

// createSourceAndJob builds a Source with one planned build job on amd64,
// the way IngestSourceChanges would after resolving target arches, and
// persists it. Returns the created Source (with Jobs populated).
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

func dispatchFilter() GetNextJobArgs {
	return GetNextJobArgs{
		Suites:     []string{"unstable"},
		Components: []string{"main"},
		Checks:     []string{"build"},
		Arches:     []string{"amd64"},
	}
}

func TestGetNextJobRequiresBuilder(t *testing.T) {
	f := newFixture(t)
	api := &API{Coordinator: f.coord, User: f.person}

	var reply GetNextJobReply
	if err := api.GetNextJob(dispatchFilter(), &reply); err != ErrUnauthorized {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestGetNextJobDispatchesAndClaims(t *testing.T) {
	f := newFixture(t)
	f.createSourceAndJob(t, "hello", "1.0-1")
	api := &API{Coordinator: f.coord, Builder: f.builder}

	var reply GetNextJobReply
	if err := api.GetNextJob(dispatchFilter(), &reply); err != nil {
		t.Fatalf("GetNextJob: %v", err)
	}
	if reply.Job == nil {
		t.Fatalf("expected a dispatched job")
	}
	if reply.Job.Builder == nil || reply.Job.Builder.ID != f.builder.ID {
		t.Fatalf("expected job claimed by builder %d, got %+v", f.builder.ID, reply.Job.Builder)
	}

	// A second call finds nothing left to dispatch.
	var second GetNextJobReply
	if err := api.GetNextJob(dispatchFilter(), &second); err != nil {
		t.Fatalf("GetNextJob (second): %v", err)
	}
	if second.Job != nil {
		t.Fatalf("expected no job left to dispatch, got %+v", second.Job)
	}
}

func TestGetNextJobReturnsNoneWhileDraining(t *testing.T) {
	f := newFixture(t)
	f.createSourceAndJob(t, "hello", "1.0-1")
	f.coord.RequestDrain()
	api := &API{Coordinator: f.coord, Builder: f.builder}

	var reply GetNextJobReply
	if err := api.GetNextJob(dispatchFilter(), &reply); err != nil {
		t.Fatalf("GetNextJob: %v", err)
	}
	if reply.Job != nil {
		t.Fatalf("expected no job while draining, got %+v", reply.Job)
	}
}

func TestCloseJobCompletesPendingDrain(t *testing.T) {
	f := newFixture(t)
	source := f.createSourceAndJob(t, "hello", "1.0-1")
	jobID := source.Jobs[0].ID
	api := &API{Coordinator: f.coord, Builder: f.builder}

	var dispatched GetNextJobReply
	if err := api.GetNextJob(dispatchFilter(), &dispatched); err != nil {
		t.Fatalf("GetNextJob: %v", err)
	}

	f.coord.RequestDrain()
	select {
	case <-f.coord.Done():
		t.Fatalf("drain should not be complete with a job still assigned")
	default:
	}

	var closeReply CloseJobReply
	if err := api.CloseJob(CloseJobArgs{JobID: jobID}, &closeReply); err != nil {
		t.Fatalf("CloseJob: %v", err)
	}

	select {
	case <-f.coord.Done():
	default:
		t.Fatalf("expected drain to complete once the only assigned job closed")
	}
}

func TestRerunJobRefusesBuiltBinary(t *testing.T) {
	f := newFixture(t)
	source := f.createSourceAndJob(t, "hello", "1.0-1")
	jobID := source.Jobs[0].ID

	err := f.s.WithTx(context.Background(), func(tx *store.Tx) error {
		return tx.CreateBinary(&model.Binary{
			Source: &model.Source{ID: source.ID}, BuildJob: &model.Job{ID: jobID}, Arch: f.arch,
			UploadedAt: fixedNow,
			Debs:       []*model.Deb{{Filename: "hello_1.0-1_amd64.deb", Directory: "pool/main/h/hello"}},
		})
	})
	if err != nil {
		t.Fatalf("seed binary: %v", err)
	}

	api := &API{Coordinator: f.coord, User: f.person}
	var reply RerunJobReply
	err = api.RerunJob(RerunJobArgs{JobID: jobID}, &reply)
	if err != errRerunBuiltBinary {
		t.Fatalf("err = %v, want errRerunBuiltBinary", err)
	}
}

func TestRerunJobRefusesStaleSource(t *testing.T) {
	f := newFixture(t)
	old := f.createSourceAndJob(t, "hello", "1.0-1")
	oldJobID := old.Jobs[0].ID

	// Dispatch and close the old job first so PruneOlderSources (triggered
	// by the newer upload below) marks it superseded rather than deleting
	// it outright — pruneSourceJobs only deletes still-pending jobs.
	builderAPI := &API{Coordinator: f.coord, Builder: f.builder}
	var dispatched GetNextJobReply
	if err := builderAPI.GetNextJob(dispatchFilter(), &dispatched); err != nil {
		t.Fatalf("GetNextJob: %v", err)
	}
	var closeReply CloseJobReply
	if err := builderAPI.CloseJob(CloseJobArgs{JobID: oldJobID}, &closeReply); err != nil {
		t.Fatalf("CloseJob: %v", err)
	}

	f.createSourceAndJob(t, "hello", "2.0-1")

	api := &API{Coordinator: f.coord, User: f.person}
	var reply RerunJobReply
	err := api.RerunJob(RerunJobArgs{JobID: oldJobID}, &reply)
	if err != errRerunStaleSource {
		t.Fatalf("err = %v, want errRerunStaleSource", err)
	}
}

func TestRerunJobRequiresUser(t *testing.T) {
	f := newFixture(t)
	source := f.createSourceAndJob(t, "hello", "1.0-1")
	api := &API{Coordinator: f.coord, Builder: f.builder}
	var reply RerunJobReply
	if err := api.RerunJob(RerunJobArgs{JobID: source.Jobs[0].ID}, &reply); err != ErrUnauthorized {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestRerunCheckRefusesBuildCheck(t *testing.T) {
	f := newFixture(t)
	f.createSourceAndJob(t, "hello", "1.0-1")
	api := &API{Coordinator: f.coord, User: f.person}
	var reply RerunCheckReply
	if err := api.RerunCheck(RerunCheckArgs{CheckName: "build"}, &reply); err != errRerunCheckIsBuild {
		t.Fatalf("err = %v, want errRerunCheckIsBuild", err)
	}
}

func TestRetryFailedBuildsClearsStalledBuilds(t *testing.T) {
	f := newFixture(t)
	source := f.createSourceAndJob(t, "hello", "1.0-1")
	jobID := source.Jobs[0].ID

	longAgo := fixedNow.Add(-30 * 24 * time.Hour)
	err := f.s.WithTx(context.Background(), func(tx *store.Tx) error {
		return tx.CloseJob(jobID, longAgo)
	})
	if err != nil {
		t.Fatalf("close job: %v", err)
	}

	f.coord.RetryGrace = 24 * time.Hour
	api := &API{Coordinator: f.coord, User: f.person}
	var reply RetryFailedReply
	if err := api.RetryFailed(RetryFailedArgs{}, &reply); err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if reply.Count != 1 {
		t.Fatalf("count = %d, want 1", reply.Count)
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
		t.Fatalf("verify retried job: %v", err)
	}
}

func TestCreateUserRequiresUser(t *testing.T) {
	f := newFixture(t)
	api := &API{Coordinator: f.coord, Builder: f.builder}
	var reply CreateUserReply
	err := api.CreateUser(CreateUserArgs{Username: "bob", Name: "Bob", Email: "bob@example.com"}, &reply)
	if err != ErrUnauthorized {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestCreateUserAndDisableUser(t *testing.T) {
	f := newFixture(t)
	api := &API{Coordinator: f.coord, User: f.person}

	var created CreateUserReply
	if err := api.CreateUser(CreateUserArgs{Username: "bob", Name: "Bob", Email: "bob@example.com"}, &created); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if created.Person == nil || created.Person.Username != "bob" {
		t.Fatalf("unexpected created person: %+v", created.Person)
	}

	var disableReply DisableUserReply
	if err := api.DisableUser(DisableUserArgs{PersonID: created.Person.ID}, &disableReply); err != nil {
		t.Fatalf("DisableUser: %v", err)
	}

	err := f.s.WithTx(context.Background(), func(tx *store.Tx) error {
		p, err := tx.GetPersonByUsername("bob")
		if err != nil {
			return err
		}
		if !p.Disabled() {
			t.Fatalf("expected bob to be disabled")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verify disabled user: %v", err)
	}
}

// TestGetNextJobConcurrentCallersNeverDoubleDispatch exercises property 5:
// under concurrent callers, each newly created Job is returned to at most
// one caller. It seeds many pending jobs and many builders, then fires
// GetNextJob from a goroutine per builder in a tight loop until the pool is
// drained, recording every (jobID -> builderID) assignment it observes and
// failing if any job is ever handed out twice.
func TestGetNextJobConcurrentCallersNeverDoubleDispatch(t *testing.T) {
	f := newFixture(t)

	const numJobs = 40
	const numBuilders = 8

	for i := 0; i < numJobs; i++ {
		f.createSourceAndJob(t, fmt.Sprintf("pkg%d", i), "1.0-1")
	}

	builders := make([]*model.Builder, numBuilders)
	err := f.s.WithTx(context.Background(), func(tx *store.Tx) error {
		for i := range builders {
			b, err := tx.CreateBuilder(fmt.Sprintf("worker-%d", i))
			if err != nil {
				return err
			}
			builders[i] = b
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed builders: %v", err)
	}

	var (
		mu         sync.Mutex
		seen       = map[int64]int64{} // jobID -> builderID that claimed it
		duplicates []int64
		wg         sync.WaitGroup
	)

	for _, b := range builders {
		wg.Add(1)
		go func(b *model.Builder) {
			defer wg.Done()
			api := &API{Coordinator: f.coord, Builder: b}
			for {
				var reply GetNextJobReply
				if err := api.GetNextJob(dispatchFilter(), &reply); err != nil {
					t.Errorf("GetNextJob: %v", err)
					return
				}
				if reply.Job == nil {
					return
				}

				mu.Lock()
				if owner, ok := seen[reply.Job.ID]; ok && owner != b.ID {
					duplicates = append(duplicates, reply.Job.ID)
				}
				seen[reply.Job.ID] = b.ID
				mu.Unlock()
			}
		}(b)
	}
	wg.Wait()

	if len(duplicates) != 0 {
		t.Fatalf("job(s) dispatched to more than one builder: %v", duplicates)
	}
	if len(seen) != numJobs {
		t.Fatalf("dispatched %d distinct jobs, want %d", len(seen), numJobs)
	}
}

func TestHelloReportsPrincipalKind(t *testing.T) {
	f := newFixture(t)

	var asBuilder HelloReply
	if err := (&API{Coordinator: f.coord, Builder: f.builder}).Hello(HelloArgs{}, &asBuilder); err != nil {
		t.Fatalf("Hello: %v", err)
	}
	if asBuilder.Greeting != "builder:worker1" {
		t.Fatalf("greeting = %q, want builder:worker1", asBuilder.Greeting)
	}

	var asUser HelloReply
	if err := (&API{Coordinator: f.coord, User: f.person}).Hello(HelloArgs{}, &asUser); err != nil {
		t.Fatalf("Hello: %v", err)
	}
	if asUser.Greeting != "user:alice" {
		t.Fatalf("greeting = %q, want user:alice", asUser.Greeting)
	}
}
