package store

import (
	"fmt"
	"time"

	"github.com/coreos/debile/internal/model"
	"github.com/pkg/errors"
)

// ErrBinaryAlreadyRegistered mirrors the archive adapter's at-most-once exit
// code 254 ("already-registered") at the persistence layer: a second
// CreateBinary for the same (build_job_id, arch_id) pair is a no-op success,
// not a conflict, per spec.md §4.3.
var ErrBinaryAlreadyRegistered = errors.New("store: binary already registered for this build job and arch")

// CreateBinary inserts a Binary and its Debs for a finished build Job. If a
// Binary already exists for binary.BuildJob/binary.Arch, it returns the
// existing Binary and ErrBinaryAlreadyRegistered instead of inserting a
// duplicate — ingest treats that as an idempotent re-delivery, not a reject.
func (tx *Tx) CreateBinary(binary *model.Binary) error {
	var existingID int64
	err := tx.tx.QueryRow(
		`SELECT id FROM binaries WHERE build_job_id = ? AND arch_id = ?`,
		binary.BuildJob.ID, binary.Arch.ID,
	).Scan(&existingID)
	if err == nil {
		binary.ID = existingID
		return ErrBinaryAlreadyRegistered
	}

	res, err := tx.tx.Exec(`
		INSERT INTO binaries (source_id, arch_id, build_job_id, uploaded_at)
		VALUES (?, ?, ?, ?)`,
		binary.Source.ID, binary.Arch.ID, binary.BuildJob.ID,
		binary.UploadedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: create binary for job %d: %w", binary.BuildJob.ID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("store: create binary for job %d: %w", binary.BuildJob.ID, err)
	}
	binary.ID = id

	for _, deb := range binary.Debs {
		if _, err := tx.tx.Exec(
			`INSERT INTO debs (binary_id, directory, filename) VALUES (?, ?, ?)`,
			id, deb.Directory, deb.Filename,
		); err != nil {
			return fmt.Errorf("store: attach deb %s to binary %d: %w", deb.Filename, id, err)
		}
	}

	if _, err := tx.tx.Exec(`UPDATE jobs SET binary_id = ? WHERE id = ?`, id, binary.BuildJob.ID); err != nil {
		return fmt.Errorf("store: link binary to build job %d: %w", binary.BuildJob.ID, err)
	}

	return nil
}

// GetBinaryByJobAndArch looks up the Binary produced by a given build job's
// architecture, used when a "binary" check's Job needs its Arch's Binary.
func (tx *Tx) GetBinaryByJobAndArch(buildJobID, archID int64) (*model.Binary, error) {
	var b model.Binary
	var uploadedAt string
	err := tx.tx.QueryRow(
		`SELECT id, uploaded_at FROM binaries WHERE build_job_id = ? AND arch_id = ?`,
		buildJobID, archID,
	).Scan(&b.ID, &uploadedAt)
	if err != nil {
		return nil, ErrNotFound
	}
	t, perr := time.Parse(time.RFC3339Nano, uploadedAt)
	if perr != nil {
		return nil, fmt.Errorf("store: parse binary upload time: %w", perr)
	}
	b.UploadedAt = t

	rows, err := tx.tx.Query(`SELECT id, directory, filename FROM debs WHERE binary_id = ?`, b.ID)
	if err != nil {
		return nil, fmt.Errorf("store: list debs for binary %d: %w", b.ID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var d model.Deb
		if err := rows.Scan(&d.ID, &d.Directory, &d.Filename); err != nil {
			return nil, err
		}
		b.Debs = append(b.Debs, &d)
	}
	return &b, rows.Err()
}
