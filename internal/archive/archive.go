// Package archive wraps an external repository-management tool behind the
// two narrow interfaces ingest needs: a Repo that owns the signed archive
// pool, and a FileRepo that stores diagnostic bundles alongside it.
// Grounded on original_source/debile/master/reprepro.py and filerepo.py,
// reimplemented over mantle/system/exec's subprocess-wrapping idiom
// (internal/execwrap) in place of the original's run_command helper.
package archive

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/coreos/debile/internal/execwrap"
)

// ErrAlreadyRegistered is returned when the adapter's underlying tool
// reports its at-most-once exit status (254 for Repo.AddChanges; an
// existing directory for FileRepo.AddDud).
var ErrAlreadyRegistered = errors.New("archive: already registered")

// alreadyRegisteredExitCode is reprepro's documented exit status for "this
// changes file's files already exist in the pool", used by the original to
// fold duplicate ingest into a no-op rather than a hard failure.
const alreadyRegisteredExitCode = 254

// Repo manages the signed package pool for one group: changes files are
// added through an external repository-management binary (reprepro by
// convention, but any tool accepting the same "include <distribution>
// <changes>" contract works), while source lookups read the tool's
// published Sources.gz index directly off disk (see FindDSC).
type Repo struct {
	// Binary is the external tool's executable name, e.g. "reprepro".
	Binary string
	// Root is the repository root passed to every invocation.
	Root string
	// Runner executes the external tool; defaults to execwrap.OS in
	// production, stubbed in tests.
	Runner execwrap.Runner
}

// NewRepo constructs a Repo wired to the real execwrap.OS runner.
func NewRepo(binary, root string) *Repo {
	return &Repo{Binary: binary, Root: root, Runner: execwrap.OS{}}
}

// AddChanges atomically adds a changes file (and its referenced
// source/binary files) to distribution's pool. It returns
// ErrAlreadyRegistered if the tool reports exit status 254, matching
// reprepro.py's include().
func (r *Repo) AddChanges(ctx context.Context, distribution, changesPath string) error {
	_, stderr, code, err := r.Runner.Run(ctx, r.Binary, "-Vb", r.Root, "include", distribution, changesPath)
	if err != nil {
		return fmt.Errorf("archive: run %s: %w", execwrap.Quoted(r.Binary, "include", distribution, changesPath), err)
	}
	if code == alreadyRegisteredExitCode {
		return ErrAlreadyRegistered
	}
	if code != 0 {
		return fmt.Errorf("archive: %s include %s %s exited %d: %s", r.Binary, distribution, changesPath, code, stderr)
	}
	return nil
}

// sourcesIndexPath returns the on-disk location of a published distribution
// section's compressed Sources index, matching the layout reprepro (and any
// tool sharing its pool convention) publishes under the repository root:
// dists/<distribution>/<section>/source/Sources.gz — the exact path
// template aget.py builds before gunzipping and deb822-parsing it.
func (r *Repo) sourcesIndexPath(distribution, section string) string {
	return filepath.Join(r.Root, "dists", distribution, section, "source", "Sources.gz")
}

// FindDSC reads the published, gzip-compressed Sources index for
// distribution/section and returns the pool directory and .dsc filename for
// the named source/version, per spec.md §4.5. This reads the published
// index directly off disk rather than shelling out, matching aget.py's own
// SOURCE path convention rather than any reprepro subcommand — reprepro has
// no "print me a Sources stanza" command; dumpreferences prints a reference
// count, not package metadata.
func (r *Repo) FindDSC(ctx context.Context, distribution, section, name, version string) (directory, dscFilename string, err error) {
	path := r.sourcesIndexPath(distribution, section)
	f, err := os.Open(path)
	if err != nil {
		return "", "", fmt.Errorf("archive: open %s: %w", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return "", "", fmt.Errorf("archive: gunzip %s: %w", path, err)
	}
	defer gz.Close()

	data, err := io.ReadAll(gz)
	if err != nil {
		return "", "", fmt.Errorf("archive: read %s: %w", path, err)
	}

	return parseSourcesIndex(data, distribution, name, version)
}

// FileRepo stores diagnostic bundles (.dud uploads) on disk, one directory
// per (source, version, job) triple, per filerepo.py's add_dud.
type FileRepo struct{}

// Dud is the minimal shape AddDud needs from a parsed diagnostic bundle:
// its own control-file path plus every file it references.
type Dud interface {
	Filename() string
	Files() []string
}

// AddDud creates path (failing with ErrAlreadyRegistered if it already
// exists), copies dud's control file and every referenced file into it, and
// chmods each copy to mode.
func (FileRepo) AddDud(path string, dud Dud, mode os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		return ErrAlreadyRegistered
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("archive: stat %s: %w", path, err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("archive: create %s: %w", path, err)
	}

	files := append([]string{dud.Filename()}, dud.Files()...)
	for _, src := range files {
		dst := filepath.Join(path, filepath.Base(src))
		if err := copyFile(src, dst, mode); err != nil {
			return fmt.Errorf("archive: copy %s into %s: %w", src, path, err)
		}
	}
	return nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, mode)
}
