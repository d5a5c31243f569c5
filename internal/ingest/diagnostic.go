package ingest

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/coreos/debile/internal/archive"
	"github.com/coreos/debile/internal/changes"
	"github.com/coreos/debile/internal/dud"
	"github.com/coreos/debile/internal/events"
	"github.com/coreos/debile/internal/model"
	"github.com/coreos/debile/internal/store"
)

type parsedDud struct {
	dud         *dud.Dud
	paths       []string
	fingerprint string
}

func dudAllPaths(controlPath string, d *dud.Dud) []string {
	return append([]string{controlPath}, d.Files()...)
}

// IngestDiagnostic runs the diagnostic-bundle path of spec.md §4.3: the
// upload's X-Debile-Job header is checked first (matching
// incoming_dud.py's process_dud, which rejects a missing header before
// even attempting to validate the rest of the bundle), then checksums,
// then signature, then the "failed: yes|no" header, then builder identity,
// before a Result is recorded and the bundle's files are filed into the
// archive's file area.
func (p *Pipeline) IngestDiagnostic(ctx context.Context, path string) (*model.Result, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, reject(model.TagInvalidDudUpload, "", fmt.Errorf("read %s: %w", path, err))
	}

	body, sigErr := changes.DecodeClearsignBody(raw)
	if sigErr != nil {
		unlinkAll(path)
		events.Emit("reject", "result", map[string]string{"tag": string(model.TagInvalidDudUpload)})
		return nil, reject(model.TagInvalidDudUpload, "", sigErr)
	}

	d, err := dud.Parse(path, body)
	if err != nil {
		unlinkAll(path)
		events.Emit("reject", "result", map[string]string{"tag": string(model.TagInvalidDudUpload)})
		return nil, reject(model.TagInvalidDudUpload, "", err)
	}
	upload := &parsedDud{dud: d, paths: dudAllPaths(path, d)}

	if _, ok := d.Get("X-Debile-Job"); !ok {
		return nil, p.rejectDud(upload, model.TagMissingDudJob, fmt.Errorf("no X-Debile-Job header"))
	}

	if err := verifyChecksums(d); err != nil {
		return nil, p.rejectDud(upload, model.TagInvalidDudUpload, err)
	}

	_, fingerprint, err := changes.VerifyClearsigned(raw, p.Keyring)
	if err != nil {
		return nil, p.rejectDud(upload, model.TagInvalidSignature, err)
	}
	upload.fingerprint = fingerprint

	failedHeader, hasFailed := d.Get("X-Debile-Failed")
	if !hasFailed {
		return nil, p.rejectDud(upload, model.TagNoFailureNotice, nil)
	}

	var result *model.Result
	txErr := p.Store.WithTx(ctx, func(tx *store.Tx) error {
		builder, err := tx.GetBuilderBySigningFingerprint(upload.fingerprint)
		if err != nil {
			return p.rejectDud(upload, model.TagInvalidDudBuilder, err)
		}

		jobIDStr, _ := d.Get("X-Debile-Job")
		jobID, err := strconv.ParseInt(strings.TrimSpace(jobIDStr), 10, 64)
		if err != nil {
			return p.rejectDud(upload, model.TagMissingDudJob, err)
		}
		job, err := tx.GetJob(jobID)
		if err != nil {
			return p.rejectDud(upload, model.TagMissingDudJob, err)
		}

		if job.Builder == nil || job.Builder.ID != builder.ID {
			return p.rejectDud(upload, model.TagInvalidDudUploader, nil)
		}

		source, err := tx.GetSourceByID(job.Source.ID)
		if err != nil {
			return p.rejectDud(upload, model.TagInternalError, err)
		}

		res := &model.Result{
			Job:        job,
			UploadedAt: p.now(),
			Failed:     strings.EqualFold(failedHeader, "yes"),
			FirehoseID: uuid.New().String(),
		}
		var doseReport *string
		if report, ok := d.Get("X-Debile-Dose-Report"); ok && report != "" {
			doseReport = &report
		}

		if err := tx.CreateResult(res, doseReport); err != nil {
			return p.rejectDud(upload, model.TagInternalError, err)
		}
		res.Directory = model.ResultDirectory(source, job, res.ID)
		if err := tx.SetResultDirectory(res.ID, res.Directory); err != nil {
			return p.rejectDud(upload, model.TagInternalError, err)
		}

		if err := p.FileRepo.AddDud(res.Directory, d, 0o644); err != nil {
			if err == archive.ErrAlreadyRegistered {
				return p.rejectDud(upload, model.TagDudFilesAlreadyRegistered, err)
			}
			return p.rejectDud(upload, model.TagInternalError, err)
		}

		result = res
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	unlinkAll(upload.paths...)
	events.Emit("receive", "result", map[string]string{"job": strconv.FormatInt(result.Job.ID, 10), "failed": strconv.FormatBool(result.Failed)})
	return result, nil
}

func (p *Pipeline) rejectDud(upload *parsedDud, tag model.RejectTag, cause error) error {
	sourceName := ""
	if upload != nil && upload.dud != nil {
		sourceName = upload.dud.Source()
	}
	events.Emit("reject", "result", map[string]string{"tag": string(tag), "source": sourceName})
	if upload != nil {
		unlinkAll(upload.paths...)
	}
	return reject(tag, sourceName, cause)
}
