// Package model defines the archive's entity graph: principals, archive
// topology, and the sources/binaries/jobs/results that make up the work
// queue. Types here are plain data; persistence lives in internal/store.
package model

import (
	"strconv"
	"time"
)

// DisabledFingerprint is stored in place of a real fingerprint when a
// Principal is disabled, so no certificate or key can ever match it again.
const DisabledFingerprint = "disabled"

// RejectTag is one of the closed set of rejection reasons in spec.md §7.
// The string value is the exact tag exposed via reject events and logs.
type RejectTag string

const (
	TagInvalidUpload             RejectTag = "invalid-upload"
	TagMixedUpload                RejectTag = "mixed-upload"
	TagMultiArchUpload            RejectTag = "multi-arch-upload"
	TagNoArchitecture             RejectTag = "no-architecture"
	TagNoJob                      RejectTag = "no-job"
	TagMissingDudJob              RejectTag = "missing-dud-job"
	TagInvalidDudUpload           RejectTag = "invalid-dud-upload"
	TagDscDoesNotMatchChanges     RejectTag = "dsc-does-not-march-changes"
	TagInvalidSignature           RejectTag = "invalid-signature"
	TagInvalidUser                RejectTag = "invalid-user"
	TagInvalidBuilder             RejectTag = "invalid-builder"
	TagInvalidDudBuilder          RejectTag = "invalid-dud-builder"
	TagInvalidDudUploader         RejectTag = "invalid-dud-uploader"
	TagWrongBuilder               RejectTag = "wrong-builder"
	TagInvalidGroup               RejectTag = "invalid-group"
	TagInvalidSuiteForGroup       RejectTag = "invalid-suite-for-group"
	TagSourceAlreadyInGroup       RejectTag = "source-already-in-group"
	TagNewerSourceAlreadyInSuite  RejectTag = "newer-source-already-in-suite"
	TagBinarySourceNameMismatch   RejectTag = "binary-source-name-mismatch"
	TagBinarySourceVersionMismatch RejectTag = "binary-source-version-mismatch"
	TagBinarySourceGroupMismatch  RejectTag = "binary-source-group-mismatch"
	TagBinarySourceSuiteMismatch  RejectTag = "binary-source-suite-mismatch"
	TagWrongArchitecture          RejectTag = "wrong-architecture"
	TagBadArchitectureOfFile      RejectTag = "bad-architecture-of-file"
	TagInternalError              RejectTag = "internal-error"
	TagStupidSourceThing          RejectTag = "stupid-source-thing"
	TagDudFilesAlreadyRegistered  RejectTag = "dud-files-already-registered"
	TagNoFailureNotice            RejectTag = "no-failure-notice"
)

// Reserved architecture names (spec.md §3).
const (
	ArchSource = "source"
	ArchAll    = "all"
)

// JobState is the explicit state the spec's Open Questions section asks for,
// in place of overloading failed IS NULL for both "not yet reported" and
// "ready". Failed is only meaningful once State == StateReported.
type JobState string

const (
	StatePending  JobState = "pending"
	StateAssigned JobState = "assigned"
	StateFinished JobState = "finished"
	StateReported JobState = "reported"
)

// PrincipalKind labels which table a fingerprint lookup resolved against;
// it exists purely for logging, Person and Builder remain distinct types.
type PrincipalKind string

const (
	KindPerson  PrincipalKind = "person"
	KindBuilder PrincipalKind = "builder"
)

// Person is a human uploader or administrative user.
type Person struct {
	ID                   int64
	Username             string
	Name                 string
	Email                string
	SigningFingerprint    string
	TransportFingerprint string
}

// Disabled reports whether both of a principal's fingerprints have been set
// to the sentinel value, per spec.md §3.
func (p *Person) Disabled() bool {
	return p.SigningFingerprint == DisabledFingerprint && p.TransportFingerprint == DisabledFingerprint
}

// Builder is a worker machine.
type Builder struct {
	ID                   int64
	Name                 string
	SigningFingerprint    string
	TransportFingerprint string
	LastPing             time.Time
}

func (b *Builder) Disabled() bool {
	return b.SigningFingerprint == DisabledFingerprint && b.TransportFingerprint == DisabledFingerprint
}

// Group is a top-level namespace owning a repository and a file area.
type Group struct {
	ID       int64
	Name     string
	RepoPath string
	RepoURL  string
	FilesPath string
	FilesURL  string
}

// Suite, Component, and Architecture are simple named entities.
type Suite struct {
	ID   int64
	Name string
}

type Component struct {
	ID   int64
	Name string
}

type Architecture struct {
	ID   int64
	Name string
}

// Check is a named analysis. Exactly one of Source/Binary/Build booleans
// describing which stages it applies to is expected to be meaningfully set,
// though the model does not forbid combinations the planner would simply
// never exercise.
type Check struct {
	ID     int64
	Name   string
	Source bool
	Binary bool
	Build  bool
}

// GroupSuite is the (Group x Suite) cross product, carrying the
// components/architectures/checks enabled for that combination.
type GroupSuite struct {
	ID           int64
	Group        *Group
	Suite        *Suite
	Components   []*Component
	Architectures []*Architecture
	Checks       []*Check
}

// Maintainer is one of a Source's listed (co-)maintainers.
type Maintainer struct {
	ID           int64
	Name         string
	Email        string
	Comaintainer bool
}

// Source is a single named+versioned sourceful upload.
type Source struct {
	ID          int64
	Name        string
	Version     string
	GroupSuite  *GroupSuite
	Component   *Component
	Affinity    *Architecture
	Uploader    *Person
	UploadedAt  time.Time
	Directory   string
	DscFilename string

	Arches      []*Architecture
	Maintainers []*Maintainer
	Jobs        []*Job
}

// Deb is a single built file (a .deb, a .buildinfo, etc) belonging to a
// Binary's pool entry.
type Deb struct {
	ID        int64
	Directory string
	Filename  string
}

// Binary is the built artifact of one build Job on one architecture.
type Binary struct {
	ID         int64
	Source     *Source
	Arch       *Architecture
	BuildJob   *Job
	UploadedAt time.Time
	Debs       []*Deb
}

// Job is one planned unit of work for a Source, on one architecture, under
// one Check.
type Job struct {
	ID           int64
	Source       *Source
	Check        *Check
	Arch         *Architecture
	Binary       *Binary // set for "binary" checks once a Binary exists
	Builder      *Builder

	State        JobState
	AssignedAt   *time.Time
	AssignedCount int
	FinishedAt   *time.Time
	Failed       *bool
	DoseReport   *string

	DependsOn []*Job
}

// Name is the conventional job name, "<check> [<arch>]".
func (j *Job) Name() string {
	return j.Check.Name + " [" + j.Arch.Name + "]"
}

// Ready reports whether a Job may be assigned: every prerequisite is
// complete (finished, not failed, no dose report) and the job itself is
// still pending.
func (j *Job) Ready() bool {
	if j.State != StatePending {
		return false
	}
	for _, dep := range j.DependsOn {
		if dep.State != StateReported {
			return false
		}
		if dep.Failed == nil || *dep.Failed {
			return false
		}
		if dep.DoseReport != nil {
			return false
		}
	}
	return true
}

// Result is the outcome of ingesting one diagnostic bundle for a Job.
type Result struct {
	ID         int64
	Job        *Job
	UploadedAt time.Time
	Failed     bool
	FirehoseID string
	Directory  string
}

// ResultDirectory derives the spec.md §3 convention
// "<src>_<ver>/<check>_<arch>/<result_id>".
func ResultDirectory(source *Source, job *Job, resultID int64) string {
	return source.Name + "_" + source.Version + "/" +
		job.Check.Name + "_" + job.Arch.Name + "/" +
		strconv.FormatInt(resultID, 10)
}
