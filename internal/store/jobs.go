package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/debile/internal/model"
)

// jobRow is the fully-joined shape a dispatched/looked-up Job is returned
// in; it intentionally stays close to what the "jobs" table plus its
// immediate joins can produce in one query.
type jobRow struct {
	id            int64
	sourceID      int64
	sourceName    string
	sourceVersion string
	checkID       int64
	checkName     string
	checkBuild    bool
	checkBinary   bool
	checkSource   bool
	archID        int64
	archName      string
	binaryID      sql.NullInt64
	builderID     sql.NullInt64
	state         string
	assignedAt    sql.NullString
	assignedCount int
	finishedAt    sql.NullString
	failed        sql.NullBool
	doseReport    sql.NullString
	affinityName  sql.NullString
}

func scanJobRow(scanner interface{ Scan(...interface{}) error }) (*jobRow, error) {
	var r jobRow
	err := scanner.Scan(
		&r.id, &r.sourceID, &r.sourceName, &r.sourceVersion,
		&r.checkID, &r.checkName, &r.checkBuild, &r.checkBinary, &r.checkSource,
		&r.archID, &r.archName, &r.binaryID, &r.builderID,
		&r.state, &r.assignedAt, &r.assignedCount, &r.finishedAt, &r.failed, &r.doseReport,
		&r.affinityName,
	)
	return &r, err
}

const jobSelectColumns = `
	j.id, s.id, s.name, s.version,
	c.id, c.name, c.build, c.binary, c.source,
	a.id, a.name, j.binary_id, j.builder_id,
	j.state, j.assigned_at, j.assigned_count, j.finished_at, j.failed, j.dose_report,
	aff.name
`

const jobSelectFrom = `
	FROM jobs j
	JOIN sources s ON s.id = j.source_id
	JOIN checks c ON c.id = j.check_id
	JOIN arches a ON a.id = j.arch_id
	LEFT JOIN arches aff ON aff.id = s.affinity_arch_id
`

func (r *jobRow) toModel() *model.Job {
	assignedAt, _ := parseNullTime(r.assignedAt)
	finishedAt, _ := parseNullTime(r.finishedAt)
	job := &model.Job{
		ID: r.id,
		Source: &model.Source{
			ID: r.sourceID, Name: r.sourceName, Version: r.sourceVersion,
		},
		Check:        &model.Check{ID: r.checkID, Name: r.checkName, Build: r.checkBuild, Binary: r.checkBinary, Source: r.checkSource},
		Arch:         &model.Architecture{ID: r.archID, Name: r.archName},
		State:        model.JobState(r.state),
		AssignedAt:   assignedAt,
		AssignedCount: r.assignedCount,
		FinishedAt:   finishedAt,
		Failed:       boolPtr(r.failed),
	}
	if r.doseReport.Valid {
		job.DoseReport = &r.doseReport.String
	}
	if r.affinityName.Valid {
		job.Source.Affinity = &model.Architecture{Name: r.affinityName.String}
	}
	if r.binaryID.Valid {
		job.Binary = &model.Binary{ID: r.binaryID.Int64}
	}
	if r.builderID.Valid {
		job.Builder = &model.Builder{ID: r.builderID.Int64}
	}
	return job
}

// GetJob loads a single Job by ID with its source/check/arch joined.
func (tx *Tx) GetJob(id int64) (*model.Job, error) {
	row := tx.tx.QueryRow(`SELECT`+jobSelectColumns+jobSelectFrom+` WHERE j.id = ?`, id)
	r, err := scanJobRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get job %d: %w", id, err)
	}
	return r.toModel(), nil
}

// unfulfilledDependencyClause is a correlated subquery fragment: true when
// job j still has a dependency that is not State=reported, Failed=false,
// DoseReport=NULL.
const unfulfilledDependencyClause = `
	EXISTS (
		SELECT 1 FROM job_dependencies jd
		JOIN jobs dep ON dep.id = jd.depends_on_job_id
		WHERE jd.job_id = j.id
		AND NOT (dep.state = 'reported' AND dep.failed = 0 AND dep.dose_report IS NULL)
	)
`

// DispatchFilter carries the get_next_job request parameters (spec.md
// §4.4): the sets of suite/component/check/arch names the calling builder
// is willing to run.
type DispatchFilter struct {
	Suites     []string
	Components []string
	Checks     []string
	Arches     []string
}

// GetNextJob selects and atomically claims the next dispatchable job for
// builderID, per spec.md §4.4's filter and ordering rules, or returns
// ErrNotFound if none match. The claim (assigned_at stamp, assigned_count
// increment, builder_id, state transition) is a second statement in the same
// transaction, guarded by state = 'pending': if another caller claimed the
// row first, the update touches nothing and ErrNotFound is returned, so two
// concurrent callers can never claim the same row — see spec.md §5.
func (tx *Tx) GetNextJob(builderID int64, filter DispatchFilter, now time.Time) (*model.Job, error) {
	if len(filter.Suites) == 0 || len(filter.Components) == 0 || len(filter.Checks) == 0 {
		return nil, ErrNotFound
	}

	realArches := stripPseudoArches(filter.Arches)

	args := []interface{}{}
	suitePH := placeholders(filter.Suites, &args)
	componentPH := placeholders(filter.Components, &args)
	checkPH := placeholders(filter.Checks, &args)
	archPH := placeholders(filter.Arches, &args)
	affinityPH := placeholders(realArches, &args)

	selectQuery := fmt.Sprintf(`
		SELECT j.id
		FROM jobs j
		JOIN sources s ON s.id = j.source_id
		JOIN group_suites gs ON gs.id = s.group_suite_id
		JOIN suites su ON su.id = gs.suite_id
		JOIN components comp ON comp.id = s.component_id
		JOIN checks c ON c.id = j.check_id
		JOIN arches a ON a.id = j.arch_id
		LEFT JOIN arches aff ON aff.id = s.affinity_arch_id
		WHERE j.state = 'pending'
		AND j.dose_report IS NULL
		AND su.name IN (%s)
		AND comp.name IN (%s)
		AND c.name IN (%s)
		AND (
			a.name IN (%s)
			OR (a.name IN ('source', 'all') AND aff.name IN (%s))
		)
		AND NOT %s
		ORDER BY j.assigned_count ASC, c.build DESC, s.uploaded_at ASC
		LIMIT 1
	`, suitePH, componentPH, checkPH, archPH, affinityPH, unfulfilledDependencyClause)

	var jobID int64
	if err := tx.tx.QueryRow(selectQuery, args...).Scan(&jobID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: select next job: %w", err)
	}

	res, err := tx.tx.Exec(`
		UPDATE jobs SET
			state = 'assigned',
			assigned_at = ?,
			assigned_count = assigned_count + 1,
			builder_id = ?
		WHERE id = ? AND state = 'pending'`,
		now.UTC().Format(time.RFC3339Nano), builderID, jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: claim job %d: %w", jobID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("store: claim job %d: %w", jobID, err)
	}
	if affected == 0 {
		// Lost a race to another caller between the select and the claim.
		return nil, ErrNotFound
	}

	return tx.GetJob(jobID)
}

func stripPseudoArches(arches []string) []string {
	var out []string
	for _, a := range arches {
		if a != model.ArchSource && a != model.ArchAll {
			out = append(out, a)
		}
	}
	return out
}

// CountAssignedJobs returns the number of jobs currently assigned but not
// yet finished — the drain predicate of spec.md §4.4 ("no jobs are
// currently assigned but unfinished").
func (tx *Tx) CountAssignedJobs() (int, error) {
	var count int
	if err := tx.tx.QueryRow(`SELECT COUNT(*) FROM jobs WHERE state = 'assigned'`).Scan(&count); err != nil {
		return 0, fmt.Errorf("store: count assigned jobs: %w", err)
	}
	return count, nil
}

func placeholders(values []string, args *[]interface{}) string {
	if len(values) == 0 {
		// Always produce a valid, never-matching IN-list.
		return "NULL"
	}
	marks := make([]string, len(values))
	for i, v := range values {
		marks[i] = "?"
		*args = append(*args, v)
	}
	return strings.Join(marks, ", ")
}

// CloseJob stamps finished_at and transitions pending/assigned -> finished.
// It does not set Failed; that is set only by ingest of the diagnostic
// bundle (spec.md §4.4).
func (tx *Tx) CloseJob(jobID int64, now time.Time) error {
	_, err := tx.tx.Exec(
		`UPDATE jobs SET state = 'finished', finished_at = ? WHERE id = ?`,
		now.UTC().Format(time.RFC3339Nano), jobID,
	)
	if err != nil {
		return fmt.Errorf("store: close job %d: %w", jobID, err)
	}
	return nil
}

// ForfeitJob clears the assignment fields and returns the job to pending.
func (tx *Tx) ForfeitJob(jobID int64) error {
	_, err := tx.tx.Exec(`
		UPDATE jobs SET state = 'pending', assigned_at = NULL, builder_id = NULL
		WHERE id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("store: forfeit job %d: %w", jobID, err)
	}
	return nil
}

// RerunJob clears failed/builder/assigned_at/finished_at and returns the
// job to pending. Idempotent: calling it twice in a row leaves the same
// state.
func (tx *Tx) RerunJob(jobID int64) error {
	_, err := tx.tx.Exec(`
		UPDATE jobs SET
			state = 'pending',
			failed = NULL,
			builder_id = NULL,
			assigned_at = NULL,
			finished_at = NULL,
			dose_report = NULL
		WHERE id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("store: rerun job %d: %w", jobID, err)
	}
	return nil
}

// JobHasBuiltBinary reports whether any Binary row references jobID as its
// build job — the rerun_job "successful build" predicate of spec.md §9,
// preserved verbatim.
func (tx *Tx) JobHasBuiltBinary(jobID int64) (bool, error) {
	var count int
	if err := tx.tx.QueryRow(`SELECT COUNT(*) FROM binaries WHERE build_job_id = ?`, jobID).Scan(&count); err != nil {
		return false, fmt.Errorf("store: check built binary for job %d: %w", jobID, err)
	}
	return count > 0, nil
}

// IsLatestVersionForSource reports whether job's source is the current
// version for its (name, group_suite) — required by rerun_job.
func (tx *Tx) IsLatestVersionForSource(jobID int64) (bool, error) {
	var current bool
	err := tx.tx.QueryRow(`
		SELECT s.current FROM jobs j JOIN sources s ON s.id = j.source_id WHERE j.id = ?`,
		jobID,
	).Scan(&current)
	if err != nil {
		return false, fmt.Errorf("store: check source currency for job %d: %w", jobID, err)
	}
	return current, nil
}

// RerunJobsForCheck applies RerunJob to every job of the named check whose
// source is current (spec.md §4.4 rerun_check). checkName must not name a
// build check; callers enforce that.
func (tx *Tx) RerunJobsForCheck(checkName string) (int, error) {
	rows, err := tx.tx.Query(`
		SELECT j.id FROM jobs j
		JOIN checks c ON c.id = j.check_id
		JOIN sources s ON s.id = j.source_id
		WHERE c.name = ? AND s.current = 1`, checkName)
	if err != nil {
		return 0, fmt.Errorf("store: list jobs for check %q: %w", checkName, err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	for _, id := range ids {
		if err := tx.RerunJob(id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// RetryFailedBuilds applies RerunJob to every build job finished longer than
// grace ago that produced no binary (spec.md §4.4 retry_failed).
func (tx *Tx) RetryFailedBuilds(now time.Time, grace time.Duration) (int, error) {
	cutoff := now.Add(-grace).UTC().Format(time.RFC3339Nano)
	rows, err := tx.tx.Query(`
		SELECT j.id FROM jobs j
		JOIN checks c ON c.id = j.check_id
		WHERE c.build = 1
		AND j.state = 'finished'
		AND j.finished_at < ?
		AND NOT EXISTS (SELECT 1 FROM binaries b WHERE b.build_job_id = j.id)`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: list stalled builds: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	for _, id := range ids {
		if err := tx.RerunJob(id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// ReclaimStaleDispatches forfeits every job still assigned past
// dispatchTimeout — the external reaper pass of spec.md §5.
func (tx *Tx) ReclaimStaleDispatches(now time.Time, dispatchTimeout time.Duration) (int, error) {
	cutoff := now.Add(-dispatchTimeout).UTC().Format(time.RFC3339Nano)
	rows, err := tx.tx.Query(`
		SELECT id FROM jobs WHERE state = 'assigned' AND assigned_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: list stale dispatches: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	for _, id := range ids {
		if err := tx.ForfeitJob(id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// ReclaimMissingDiagnostics reschedules jobs whose worker called CloseJob
// but never uploaded a diagnostic bundle within missingResultTimeout.
func (tx *Tx) ReclaimMissingDiagnostics(now time.Time, missingResultTimeout time.Duration) (int, error) {
	cutoff := now.Add(-missingResultTimeout).UTC().Format(time.RFC3339Nano)
	rows, err := tx.tx.Query(`
		SELECT id FROM jobs WHERE state = 'finished' AND finished_at < ?
		AND NOT EXISTS (SELECT 1 FROM results r WHERE r.job_id = jobs.id)`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: list missing-diagnostic jobs: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	for _, id := range ids {
		if err := tx.RerunJob(id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// ReclaimMissingBinaries reschedules build jobs that finished successfully
// but whose binary changes did not arrive within missingBinaryTimeout
// (spec.md §5, scenario F). A job counts as finished whether or not its
// diagnostic bundle has moved it to reported, as long as no failure is
// recorded.
func (tx *Tx) ReclaimMissingBinaries(now time.Time, missingBinaryTimeout time.Duration) (int, error) {
	cutoff := now.Add(-missingBinaryTimeout).UTC().Format(time.RFC3339Nano)
	rows, err := tx.tx.Query(`
		SELECT j.id FROM jobs j
		JOIN checks c ON c.id = j.check_id
		WHERE c.build = 1
		AND j.state IN ('finished', 'reported')
		AND j.finished_at < ?
		AND (j.failed IS NULL OR j.failed = 0)
		AND NOT EXISTS (SELECT 1 FROM binaries b WHERE b.build_job_id = j.id)`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: list missing-binary jobs: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	for _, id := range ids {
		if err := tx.RerunJob(id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}
