package store

import (
	"fmt"
	"time"

	"github.com/coreos/debile/internal/model"
)

// CreateResult inserts a Result row for a Job's diagnostic bundle and
// transitions the Job to reported, recording Failed and DoseReport (if the
// bundle carried a dose(1) report — spec.md §4.4's "unsatisfiable
// dependencies" path).
func (tx *Tx) CreateResult(result *model.Result, doseReport *string) error {
	res, err := tx.tx.Exec(`
		INSERT INTO results (job_id, uploaded_at, failed, firehose_id, directory)
		VALUES (?, ?, ?, ?, ?)`,
		result.Job.ID, result.UploadedAt.UTC().Format(time.RFC3339Nano),
		result.Failed, result.FirehoseID, result.Directory,
	)
	if err != nil {
		return fmt.Errorf("store: create result for job %d: %w", result.Job.ID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("store: create result for job %d: %w", result.Job.ID, err)
	}
	result.ID = id

	_, err = tx.tx.Exec(
		`UPDATE jobs SET state = ?, failed = ?, dose_report = ? WHERE id = ?`,
		model.StateReported, result.Failed, doseReport, result.Job.ID,
	)
	if err != nil {
		return fmt.Errorf("store: mark job %d reported: %w", result.Job.ID, err)
	}
	return nil
}

// SetResultDirectory records a Result's pool directory once its ID is
// known — model.ResultDirectory embeds the result's own ID, so it can only
// be computed after CreateResult has assigned one.
func (tx *Tx) SetResultDirectory(resultID int64, directory string) error {
	_, err := tx.tx.Exec(`UPDATE results SET directory = ? WHERE id = ?`, directory, resultID)
	if err != nil {
		return fmt.Errorf("store: set result %d directory: %w", resultID, err)
	}
	return nil
}

// ListResultsForJob returns every diagnostic bundle recorded for a Job, most
// recent first — a Job may accumulate several across reruns.
func (tx *Tx) ListResultsForJob(jobID int64) ([]*model.Result, error) {
	rows, err := tx.tx.Query(`
		SELECT id, uploaded_at, failed, firehose_id, directory
		FROM results WHERE job_id = ? ORDER BY uploaded_at DESC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("store: list results for job %d: %w", jobID, err)
	}
	defer rows.Close()

	var out []*model.Result
	for rows.Next() {
		var r model.Result
		var uploadedAt string
		if err := rows.Scan(&r.ID, &uploadedAt, &r.Failed, &r.FirehoseID, &r.Directory); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, uploadedAt)
		if err != nil {
			return nil, fmt.Errorf("store: parse result upload time: %w", err)
		}
		r.UploadedAt = t
		out = append(out, &r)
	}
	return out, rows.Err()
}
