package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/coreos/debile/internal/model"

	"github.com/pkg/errors"
)

// versionCompare returns -1, 0, or 1 comparing Debian-style version strings
// a and b. A full implementation of Debian's version-comparison algorithm is
// out of scope for the core scheduler (spec.md §1 treats package-format
// parsing as an external collaborator); this is the subset spec.md's
// invariants actually exercise: numeric-prefix comparison with a
// lexicographic fallback, sufficient to order upload versions for the
// same source name.
func versionCompare(a, b string) int {
	ai, bi := 0, 0
	for ai < len(a) || bi < len(b) {
		aDigits, aRest := splitLeadingDigits(a[ai:])
		bDigits, bRest := splitLeadingDigits(b[bi:])
		if aDigits != bDigits {
			if len(aDigits) != len(bDigits) {
				if len(aDigits) < len(bDigits) {
					return -1
				}
				return 1
			}
			if aDigits < bDigits {
				return -1
			}
			return 1
		}
		ai = len(a) - len(aRest)
		bi = len(b) - len(bRest)
		if ai >= len(a) && bi >= len(b) {
			return 0
		}
		aCh, bCh := peekByte(a, ai), peekByte(b, bi)
		if aCh != bCh {
			if aCh < bCh {
				return -1
			}
			return 1
		}
		ai++
		bi++
	}
	return 0
}

func splitLeadingDigits(s string) (digits, rest string) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i], s[i:]
}

func peekByte(s string, i int) byte {
	if i >= len(s) {
		return 0
	}
	return s[i]
}

// ErrSourceAlreadyInGroup and ErrNewerSourceExists surface the two
// pre-create consistency checks spec.md §4.3 requires before a source may
// be created.
var (
	ErrSourceAlreadyInGroup = errors.New("store: source already in group")
	ErrNewerSourceExists    = errors.New("store: newer source already in suite")
)

// CheckSourceAcceptable enforces "no Source with the same (name, version,
// group) may already exist; if a newer version is already present, reject"
// (spec.md §4.3), matching by (name, group) across all suites of that group
// per the invariant in spec.md §3.
func (tx *Tx) CheckSourceAcceptable(groupID int64, name, version string) error {
	rows, err := tx.tx.Query(`
		SELECT s.version FROM sources s
		JOIN group_suites gs ON gs.id = s.group_suite_id
		WHERE gs.group_id = ? AND s.name = ?`, groupID, name)
	if err != nil {
		return fmt.Errorf("store: check source acceptable: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var existingVersion string
		if err := rows.Scan(&existingVersion); err != nil {
			return fmt.Errorf("store: check source acceptable: %w", err)
		}
		switch versionCompare(existingVersion, version) {
		case 0:
			return ErrSourceAlreadyInGroup
		case 1:
			return ErrNewerSourceExists
		}
	}
	return rows.Err()
}

// CreateSource inserts source, its target arches, maintainers, and the jobs
// (and dependency edges) the planner already attached to source.Jobs.
func (tx *Tx) CreateSource(source *model.Source) error {
	res, err := tx.tx.Exec(`
		INSERT INTO sources (name, version, group_suite_id, component_id, affinity_arch_id, uploader_id, uploaded_at, current)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)`,
		source.Name, source.Version, source.GroupSuite.ID, source.Component.ID,
		affinityID(source.Affinity), source.Uploader.ID, source.UploadedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: create source %s/%s: %w", source.Name, source.Version, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("store: create source %s/%s: %w", source.Name, source.Version, err)
	}
	source.ID = id

	for _, arch := range source.Arches {
		if _, err := tx.tx.Exec(`INSERT INTO source_arches (source_id, arch_id) VALUES (?, ?)`, id, arch.ID); err != nil {
			return fmt.Errorf("store: attach arch %s to source: %w", arch.Name, err)
		}
	}

	for _, m := range source.Maintainers {
		if _, err := tx.tx.Exec(
			`INSERT INTO maintainers (source_id, name, email, comaintainer) VALUES (?, ?, ?, ?)`,
			id, m.Name, m.Email, m.Comaintainer,
		); err != nil {
			return fmt.Errorf("store: attach maintainer to source: %w", err)
		}
	}

	if err := tx.createJobs(source); err != nil {
		return err
	}
	return nil
}

func affinityID(a *model.Architecture) interface{} {
	if a == nil {
		return nil
	}
	return a.ID
}

func (tx *Tx) createJobs(source *model.Source) error {
	for _, job := range source.Jobs {
		res, err := tx.tx.Exec(`
			INSERT INTO jobs (source_id, check_id, arch_id, state)
			VALUES (?, ?, ?, ?)`,
			source.ID, job.Check.ID, job.Arch.ID, model.StatePending,
		)
		if err != nil {
			return fmt.Errorf("store: create job %s: %w", job.Name(), err)
		}
		jobID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("store: create job %s: %w", job.Name(), err)
		}
		job.ID = jobID
		job.State = model.StatePending
	}
	for _, job := range source.Jobs {
		for _, dep := range job.DependsOn {
			if _, err := tx.tx.Exec(
				`INSERT INTO job_dependencies (job_id, depends_on_job_id) VALUES (?, ?)`,
				job.ID, dep.ID,
			); err != nil {
				return fmt.Errorf("store: record dependency %s -> %s: %w", job.Name(), dep.Name(), err)
			}
		}
	}
	return nil
}

// PruneOlderSources implements the §3 invariant: when a newer version of
// (name, group) is ingested, older unstarted jobs are deleted, and older
// running jobs are marked failed unless they already produced
// binaries/results.
func (tx *Tx) PruneOlderSources(groupID int64, name, newVersion string) error {
	rows, err := tx.tx.Query(`
		SELECT s.id, s.version FROM sources s
		JOIN group_suites gs ON gs.id = s.group_suite_id
		WHERE gs.group_id = ? AND s.name = ? AND s.current = 1`, groupID, name)
	if err != nil {
		return fmt.Errorf("store: prune older sources: %w", err)
	}
	var olderSourceIDs []int64
	for rows.Next() {
		var id int64
		var version string
		if err := rows.Scan(&id, &version); err != nil {
			rows.Close()
			return fmt.Errorf("store: prune older sources: %w", err)
		}
		if versionCompare(version, newVersion) < 0 {
			olderSourceIDs = append(olderSourceIDs, id)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, sourceID := range olderSourceIDs {
		if err := tx.pruneSourceJobs(sourceID); err != nil {
			return err
		}
		if _, err := tx.tx.Exec(`UPDATE sources SET current = 0 WHERE id = ?`, sourceID); err != nil {
			return fmt.Errorf("store: mark source %d superseded: %w", sourceID, err)
		}
	}
	return nil
}

func (tx *Tx) pruneSourceJobs(sourceID int64) error {
	// Unstarted: never assigned. Delete outright, along with any recorded
	// dependency edges pointing at them.
	if _, err := tx.tx.Exec(`
		DELETE FROM job_dependencies WHERE job_id IN (
			SELECT id FROM jobs WHERE source_id = ? AND state = ?
		) OR depends_on_job_id IN (
			SELECT id FROM jobs WHERE source_id = ? AND state = ?
		)`, sourceID, model.StatePending, sourceID, model.StatePending); err != nil {
		return fmt.Errorf("store: prune unstarted job dependencies: %w", err)
	}
	if _, err := tx.tx.Exec(
		`DELETE FROM jobs WHERE source_id = ? AND state = ?`,
		sourceID, model.StatePending,
	); err != nil {
		return fmt.Errorf("store: prune unstarted jobs: %w", err)
	}

	// Running (assigned or finished-but-unreported): mark failed, unless a
	// Binary already exists for that job.
	rows, err := tx.tx.Query(`
		SELECT j.id FROM jobs j
		WHERE j.source_id = ? AND j.state IN (?, ?)
		AND NOT EXISTS (SELECT 1 FROM binaries b WHERE b.build_job_id = j.id)`,
		sourceID, model.StateAssigned, model.StateFinished)
	if err != nil {
		return fmt.Errorf("store: list running jobs to fail: %w", err)
	}
	var toFail []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		toFail = append(toFail, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, id := range toFail {
		if _, err := tx.tx.Exec(
			`UPDATE jobs SET state = ?, failed = 1 WHERE id = ?`,
			model.StateReported, id,
		); err != nil {
			return fmt.Errorf("store: mark superseded job %d failed: %w", id, err)
		}
	}
	return nil
}

// GetSourceByID loads a Source with its group/suite/component and uploader
// joined, the shape ingest's binary-upload path needs to check a Job's
// source against an incoming upload's declared group/suite.
func (tx *Tx) GetSourceByID(id int64) (*model.Source, error) {
	var s model.Source
	s.GroupSuite = &model.GroupSuite{Group: &model.Group{}, Suite: &model.Suite{}}
	s.Component = &model.Component{}
	s.Uploader = &model.Person{}

	var directory, dscFilename, uploadedAt sql.NullString
	err := tx.tx.QueryRow(`
		SELECT s.name, s.version, s.directory, s.dsc_filename, s.uploaded_at,
		       gs.id, g.id, g.name, su.id, su.name,
		       comp.id, comp.name,
		       p.id, p.username, p.name, p.email, p.signing_fingerprint, p.transport_fingerprint
		FROM sources s
		JOIN group_suites gs ON gs.id = s.group_suite_id
		JOIN groups g ON g.id = gs.group_id
		JOIN suites su ON su.id = gs.suite_id
		JOIN components comp ON comp.id = s.component_id
		JOIN people p ON p.id = s.uploader_id
		WHERE s.id = ?`, id,
	).Scan(
		&s.Name, &s.Version, &directory, &dscFilename, &uploadedAt,
		&s.GroupSuite.ID, &s.GroupSuite.Group.ID, &s.GroupSuite.Group.Name, &s.GroupSuite.Suite.ID, &s.GroupSuite.Suite.Name,
		&s.Component.ID, &s.Component.Name,
		&s.Uploader.ID, &s.Uploader.Username, &s.Uploader.Name, &s.Uploader.Email, &s.Uploader.SigningFingerprint, &s.Uploader.TransportFingerprint,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get source %d: %w", id, err)
	}
	s.ID = id
	s.Directory = directory.String
	s.DscFilename = dscFilename.String
	if t, perr := parseNullTime(uploadedAt); perr == nil && t != nil {
		s.UploadedAt = *t
	}
	return &s, nil
}

// SetSourcePoolLocation records the directory/dsc_filename the archive
// adapter reported after AddChanges + FindDSC.
func (tx *Tx) SetSourcePoolLocation(sourceID int64, directory, dscFilename string) error {
	_, err := tx.tx.Exec(
		`UPDATE sources SET directory = ?, dsc_filename = ? WHERE id = ?`,
		directory, dscFilename, sourceID,
	)
	if err != nil {
		return fmt.Errorf("store: set source pool location: %w", err)
	}
	return nil
}
