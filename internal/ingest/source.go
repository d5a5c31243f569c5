package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/coreos/debile/internal/changes"
	"github.com/coreos/debile/internal/events"
	"github.com/coreos/debile/internal/model"
	"github.com/coreos/debile/internal/store"
)

// parsedUpload is the shared first half of every ingest path: the parsed
// control document, every file it owns (for cleanup), and the fingerprint
// of whoever signed it, if the signature verified at all.
type parsedUpload struct {
	changes     *changes.Changes
	paths       []string
	fingerprint string
}

// parseUpload reads path, extracts its clearsign envelope, parses the body
// as a control file, verifies its checksums, and verifies its signature
// against the pipeline's keyring — in that order, matching
// incoming_changes.py's validate()/validate_signature() split. It returns
// whatever it managed to parse even on failure, so the caller can still
// log a useful source name and clean up the upload's files.
func (p *Pipeline) parseUpload(path string) (*parsedUpload, model.RejectTag, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, model.TagInvalidUpload, fmt.Errorf("read %s: %w", path, err)
	}

	body, fingerprint, sigErr := changes.VerifyClearsigned(raw, p.Keyring)
	if sigErr != nil {
		body, err = changes.DecodeClearsignBody(raw)
		if err != nil {
			return nil, model.TagInvalidUpload, fmt.Errorf("not a clearsigned control file: %w", err)
		}
	}

	c, err := changes.Parse(path, body)
	if err != nil {
		return nil, model.TagInvalidUpload, err
	}
	upload := &parsedUpload{changes: c, paths: allPaths(path, c), fingerprint: fingerprint}

	if verr := verifyChecksums(c); verr != nil {
		return upload, model.TagInvalidUpload, verr
	}
	if sigErr != nil {
		return upload, model.TagInvalidSignature, sigErr
	}
	return upload, "", nil
}

func allPaths(controlPath string, c *changes.Changes) []string {
	return append([]string{controlPath}, c.FilePaths()...)
}

// uploadShape classifies an upload as sourceful, binary, mixed, or
// malformed, per spec.md §4.3's "must be sourceful only" / "must reference
// an existing Job" split.
type uploadShape int

const (
	shapeInvalid uploadShape = iota
	shapeSource
	shapeBinary
	shapeMixed
)

func classify(c *changes.Changes) (uploadShape, error) {
	dsc, err := c.DscFilename()
	if err != nil {
		return shapeInvalid, err
	}
	debs := c.DebFilenames()

	switch {
	case dsc != "" && len(debs) > 0:
		return shapeMixed, nil
	case dsc != "":
		return shapeSource, nil
	case len(debs) > 0:
		return shapeBinary, nil
	default:
		return shapeInvalid, nil
	}
}

// rejectUpload emits the reject event, removes the upload's files, and
// returns the *RejectError the caller should propagate.
func (p *Pipeline) rejectUpload(kind string, upload *parsedUpload, tag model.RejectTag, cause error) error {
	sourceName := ""
	if upload != nil && upload.changes != nil {
		sourceName = upload.changes.Source()
	}
	events.Emit("reject", kind, map[string]string{"tag": string(tag), "source": sourceName})
	if upload != nil {
		unlinkAll(upload.paths...)
	}
	return reject(tag, sourceName, cause)
}

// IngestSourceChanges runs the source-upload path of spec.md §4.3 for one
// .changes file: parse, validate, resolve (group, suite), check the
// referenced .dsc agrees with the .changes, enforce the no-duplicate/
// no-older-than-current invariants, plan the source's jobs, persist, and
// hand the .changes off to the archive adapter. The upload's files are
// removed and exactly one accept/reject event is emitted before return,
// whichever way this goes.
func (p *Pipeline) IngestSourceChanges(ctx context.Context, path string) (*model.Source, error) {
	upload, tag, err := p.parseUpload(path)
	if upload == nil {
		unlinkAll(path)
		events.Emit("reject", "source", map[string]string{"tag": string(tag)})
		return nil, reject(tag, "", err)
	}
	if tag != "" {
		return nil, p.rejectUpload("source", upload, tag, err)
	}

	shape, err := classify(upload.changes)
	if err != nil {
		return nil, p.rejectUpload("source", upload, model.TagInvalidUpload, err)
	}
	switch shape {
	case shapeMixed:
		return nil, p.rejectUpload("source", upload, model.TagMixedUpload, nil)
	case shapeBinary:
		return nil, p.rejectUpload("source", upload, model.TagNoArchitecture, fmt.Errorf("no .dsc referenced"))
	case shapeInvalid:
		return nil, p.rejectUpload("source", upload, model.TagInvalidUpload, fmt.Errorf("no .dsc or .deb referenced"))
	}

	c := upload.changes
	groupName := headerOrDefault(c, "X-Debile-Group", defaultGroup)

	var result *model.Source
	txErr := p.Store.WithTx(ctx, func(tx *store.Tx) error {
		group, err := tx.GetGroupByName(groupName)
		if err != nil {
			return p.rejectUpload("source", upload, model.TagInvalidGroup, err)
		}
		groupSuite, err := tx.GetGroupSuite(groupName, c.Distribution())
		if err != nil {
			return p.rejectUpload("source", upload, model.TagInvalidSuiteForGroup, err)
		}
		signer, err := tx.GetPersonBySigningFingerprint(upload.fingerprint)
		if err != nil {
			return p.rejectUpload("source", upload, model.TagInvalidUser, err)
		}

		dscPath := dscFullPath(path, c)
		dscControl, err := readDscControl(dscPath)
		if err != nil {
			return p.rejectUpload("source", upload, model.TagInvalidUpload, err)
		}
		dscSource, _ := dscControl.Get("Source")
		dscVersion, _ := dscControl.Get("Version")
		if dscSource != c.Source() || dscVersion != c.Version() {
			return p.rejectUpload("source", upload, model.TagDscDoesNotMatchChanges, nil)
		}

		if err := tx.CheckSourceAcceptable(group.ID, c.Source(), c.Version()); err != nil {
			switch err {
			case store.ErrSourceAlreadyInGroup:
				return p.rejectUpload("source", upload, model.TagSourceAlreadyInGroup, err)
			case store.ErrNewerSourceExists:
				return p.rejectUpload("source", upload, model.TagNewerSourceAlreadyInSuite, err)
			default:
				return p.rejectUpload("source", upload, model.TagInternalError, err)
			}
		}

		source := &model.Source{
			Name:        c.Source(),
			Version:     c.Version(),
			GroupSuite:  groupSuite,
			Component:   mainComponent(groupSuite),
			Uploader:    signer,
			UploadedAt:  p.now(),
			Maintainers: parseMaintainers(c, dscControl),
		}

		if err := planSource(p.Oracle, source, dscArchitectureTokens(dscControl), affinityPreference(dscControl)); err != nil {
			return p.rejectUpload("source", upload, model.TagInternalError, err)
		}
		if err := tx.CreateSource(source); err != nil {
			return p.rejectUpload("source", upload, model.TagInternalError, err)
		}
		if err := tx.PruneOlderSources(group.ID, source.Name, source.Version); err != nil {
			return p.rejectUpload("source", upload, model.TagInternalError, err)
		}

		if p.Repo != nil {
			if err := p.Repo.AddChanges(ctx, groupSuite.Suite.Name, path); err != nil {
				return p.rejectUpload("source", upload, model.TagStupidSourceThing, err)
			}
			if directory, dscFilename, err := p.Repo.FindDSC(ctx, groupSuite.Suite.Name, source.Component.Name, source.Name, source.Version); err == nil {
				if serr := tx.SetSourcePoolLocation(source.ID, directory, dscFilename); serr != nil {
					return p.rejectUpload("source", upload, model.TagInternalError, serr)
				}
				source.Directory, source.DscFilename = directory, dscFilename
			}
		}

		result = source
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	events.Emit("accept", "source", map[string]string{"source": result.Name, "version": result.Version})
	unlinkAll(upload.paths...)
	return result, nil
}

func mainComponent(gs *model.GroupSuite) *model.Component {
	for _, comp := range gs.Components {
		if comp.Name == "main" {
			return comp
		}
	}
	if len(gs.Components) > 0 {
		return gs.Components[0]
	}
	return &model.Component{Name: "main"}
}

func dscFullPath(changesPath string, c *changes.Changes) string {
	dsc, _ := c.DscFilename()
	return filepath.Join(filepath.Dir(changesPath), dsc)
}

// readDscControl reads a .dsc file's control stanza, stripping its clearsign
// envelope if one is present (some uploaders sign the .dsc independently of
// the enclosing .changes; others leave it unsigned since the .changes
// signature already covers its checksum).
func readDscControl(path string) (*changes.ControlFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read .dsc: %w", err)
	}
	body, err := changes.DecodeClearsignBody(raw)
	if err != nil {
		body = raw
	}
	return changes.ParseControlFile(body)
}

func dscArchitectureTokens(dsc *changes.ControlFile) []string {
	v, _ := dsc.Get("Architecture")
	return strings.Fields(v)
}

func affinityPreference(dsc *changes.ControlFile) []string {
	for _, key := range []string{"Build-Architecture-Indep", "X-Build-Architecture-Indep", "X-Arch-Indep-Build-Arch"} {
		if v, ok := dsc.Get(key); ok && v != "" {
			return strings.Fields(v)
		}
	}
	return []string{"any"}
}

func parseMaintainers(c *changes.Changes, dsc *changes.ControlFile) []*model.Maintainer {
	var out []*model.Maintainer
	if m := c.Maintainer(); m != "" {
		name, email := splitNameEmail(m)
		out = append(out, &model.Maintainer{Name: name, Email: email})
	}
	if orig, ok := dsc.Get("XSBC-Original-Maintainer"); ok && orig != "" {
		name, email := splitNameEmail(orig)
		out = append(out, &model.Maintainer{Name: name, Email: email})
	}
	if uploaders, ok := dsc.Get("Uploaders"); ok {
		for _, u := range strings.Split(uploaders, ",") {
			u = strings.TrimSpace(u)
			if u == "" {
				continue
			}
			name, email := splitNameEmail(u)
			out = append(out, &model.Maintainer{Name: name, Email: email, Comaintainer: true})
		}
	}
	return out
}

func splitNameEmail(s string) (name, email string) {
	start := strings.IndexByte(s, '<')
	end := strings.IndexByte(s, '>')
	if start < 0 || end < 0 || end < start {
		return strings.TrimSpace(s), ""
	}
	return strings.TrimSpace(s[:start]), s[start+1 : end]
}
