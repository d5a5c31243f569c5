package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/debile/internal/archive"
	"github.com/coreos/debile/internal/events"
	"github.com/coreos/debile/internal/model"
	"github.com/coreos/debile/internal/store"
)

// IngestBinaryChanges runs the binary-upload path of spec.md §4.3: resolve
// the Job the upload's X-Debile-Job header names, check the signer is that
// Job's assigned builder, check source/version/group/suite/arch agree, then
// record a Binary and its Debs and hand the .changes to the archive
// adapter.
func (p *Pipeline) IngestBinaryChanges(ctx context.Context, path string) (*model.Binary, error) {
	upload, tag, err := p.parseUpload(path)
	if upload == nil {
		unlinkAll(path)
		events.Emit("reject", "binary", map[string]string{"tag": string(tag)})
		return nil, reject(tag, "", err)
	}
	if tag != "" {
		return nil, p.rejectUpload("binary", upload, tag, err)
	}

	shape, err := classify(upload.changes)
	if err != nil {
		return nil, p.rejectUpload("binary", upload, model.TagInvalidUpload, err)
	}
	if shape == shapeMixed {
		return nil, p.rejectUpload("binary", upload, model.TagMixedUpload, nil)
	}
	if shape != shapeBinary {
		return nil, p.rejectUpload("binary", upload, model.TagNoArchitecture, fmt.Errorf("no .deb referenced"))
	}

	c := upload.changes

	var result *model.Binary
	txErr := p.Store.WithTx(ctx, func(tx *store.Tx) error {
		jobIDStr, ok := c.Get("X-Debile-Job")
		if !ok {
			return p.rejectUpload("binary", upload, model.TagNoJob, fmt.Errorf("no X-Debile-Job header"))
		}
		jobID, err := atoi64(jobIDStr)
		if err != nil {
			return p.rejectUpload("binary", upload, model.TagNoJob, err)
		}
		job, err := tx.GetJob(jobID)
		if err != nil {
			return p.rejectUpload("binary", upload, model.TagNoJob, err)
		}

		builder, err := tx.GetBuilderBySigningFingerprint(upload.fingerprint)
		if err != nil {
			return p.rejectUpload("binary", upload, model.TagInvalidBuilder, err)
		}
		if job.Builder == nil || job.Builder.ID != builder.ID {
			return p.rejectUpload("binary", upload, model.TagWrongBuilder, nil)
		}

		source, err := tx.GetSourceByID(job.Source.ID)
		if err != nil {
			return p.rejectUpload("binary", upload, model.TagInternalError, err)
		}
		if source.Name != c.Source() {
			return p.rejectUpload("binary", upload, model.TagBinarySourceNameMismatch, nil)
		}
		if source.Version != c.Version() {
			return p.rejectUpload("binary", upload, model.TagBinarySourceVersionMismatch, nil)
		}
		groupName := headerOrDefault(c, "X-Debile-Group", defaultGroup)
		if source.GroupSuite.Group.Name != groupName {
			return p.rejectUpload("binary", upload, model.TagBinarySourceGroupMismatch, nil)
		}
		if source.GroupSuite.Suite.Name != c.Distribution() {
			return p.rejectUpload("binary", upload, model.TagBinarySourceSuiteMismatch, nil)
		}

		for _, a := range c.Architectures() {
			if a != job.Arch.Name && a != model.ArchAll {
				return p.rejectUpload("binary", upload, model.TagWrongArchitecture, fmt.Errorf("declared arch %q not in {%s, all}", a, job.Arch.Name))
			}
		}

		debs := make([]*model.Deb, 0, len(c.Files()))
		for _, f := range c.Files() {
			if !strings.HasSuffix(f.Name, ".deb") && !strings.HasSuffix(f.Name, ".udeb") && !strings.HasSuffix(f.Name, ".buildinfo") {
				continue
			}
			component := remapComponent(source.Component.Name, f.Section)
			debs = append(debs, &model.Deb{
				Directory: poolDirectory(component, source.Name),
				Filename:  f.Name,
			})
		}

		binary := &model.Binary{
			Source:     source,
			Arch:       job.Arch,
			BuildJob:   job,
			UploadedAt: p.now(),
			Debs:       debs,
		}
		if err := tx.CreateBinary(binary); err != nil {
			if err == store.ErrBinaryAlreadyRegistered {
				// Idempotent re-delivery: treat the same as a fresh accept,
				// matching the archive adapter's own at-most-once contract.
				result = binary
				return nil
			}
			return p.rejectUpload("binary", upload, model.TagInternalError, err)
		}

		if p.Repo != nil {
			if err := p.Repo.AddChanges(ctx, source.GroupSuite.Suite.Name, path); err != nil {
				if err == archive.ErrAlreadyRegistered {
					return p.rejectUpload("binary", upload, model.TagStupidSourceThing, err)
				}
				return p.rejectUpload("binary", upload, model.TagInternalError, err)
			}
		}

		result = binary
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	events.Emit("accept", "binary", map[string]string{"source": c.Source(), "version": c.Version(), "arch": result.Arch.Name})
	unlinkAll(upload.paths...)
	return result, nil
}

// remapComponent honors a Files row's "section" prefix ("contrib/net") as an
// override of the source's own component, the Debian archive convention for
// binary packages that land in a different component than their source.
func remapComponent(sourceComponent, section string) string {
	if comp, _, ok := strings.Cut(section, "/"); ok && comp != "" {
		return comp
	}
	return sourceComponent
}

// poolDirectory derives the conventional "pool/<component>/<letter-group>/
// <source>" layout; <letter-group> is the source's first letter, except
// "lib*" sources which group under their first four characters.
func poolDirectory(component, sourceName string) string {
	return "pool/" + component + "/" + letterGroup(sourceName) + "/" + sourceName
}

func letterGroup(name string) string {
	if strings.HasPrefix(name, "lib") && len(name) >= 4 {
		return name[:4]
	}
	if len(name) == 0 {
		return name
	}
	return name[:1]
}
