package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/coreos/pkg/capnslog"

	"github.com/coreos/debile/internal/changes"
	"github.com/coreos/debile/internal/model"
)

var plog = capnslog.NewPackageLogger("github.com/coreos/debile", "ingest")

// IngestDirectory walks dir (non-recursively, matching a flat incoming
// spool) and dispatches every *.changes and *.dud file through §4.3,
// logging exactly one REJECT or ACCEPT line per upload. A rejection never
// aborts the walk or is returned as an error — only a failure to read the
// directory itself is.
func (p *Pipeline) IngestDirectory(ctx context.Context, dir string) error {
	changesPaths, err := filepath.Glob(filepath.Join(dir, "*.changes"))
	if err != nil {
		return err
	}
	dudPaths, err := filepath.Glob(filepath.Join(dir, "*.dud"))
	if err != nil {
		return err
	}
	sort.Strings(changesPaths)
	sort.Strings(dudPaths)

	for _, path := range changesPaths {
		p.ingestOneChanges(ctx, path)
	}
	for _, path := range dudPaths {
		p.ingestOneDud(ctx, path)
	}
	return nil
}

// ingestOneChanges classifies a .changes upload by its own shape before
// dispatch: a sourceful upload (carrying a .dsc) goes through
// IngestSourceChanges, anything else through IngestBinaryChanges, which
// rejects it definitively if it turns out to reference neither a .dsc nor
// a .deb.
func (p *Pipeline) ingestOneChanges(ctx context.Context, path string) {
	sourceful, err := changesHasDsc(path)
	if err != nil {
		plog.Errorf("REJECT: %s because %s", path, model.TagInvalidUpload)
		unlinkAll(path)
		return
	}

	var ingestErr error
	if sourceful {
		_, ingestErr = p.IngestSourceChanges(ctx, path)
	} else {
		_, ingestErr = p.IngestBinaryChanges(ctx, path)
	}
	logResult(path, ingestErr)
}

func (p *Pipeline) ingestOneDud(ctx context.Context, path string) {
	_, err := p.IngestDiagnostic(ctx, path)
	logResult(path, err)
}

func logResult(path string, err error) {
	if err == nil {
		plog.Infof("ACCEPT: %s", path)
		return
	}
	if rej, ok := err.(*RejectError); ok {
		source := rej.Source
		if source == "" {
			source = path
		}
		plog.Errorf("REJECT: %s because %s", source, rej.Tag)
		return
	}
	plog.Errorf("REJECT: %s because %s", path, err)
}

// changesHasDsc peeks at a .changes file's control body, without verifying
// its signature, just to decide which ingest path to try — the real
// validation (checksums, signature, shape) happens inside that path.
func changesHasDsc(path string) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	body, err := changes.DecodeClearsignBody(raw)
	if err != nil {
		return false, err
	}
	c, err := changes.Parse(path, body)
	if err != nil {
		return false, err
	}
	dsc, err := c.DscFilename()
	if err != nil {
		return false, err
	}
	return dsc != "", nil
}
