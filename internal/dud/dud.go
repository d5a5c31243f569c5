// Package dud parses diagnostic bundles (.dud files) uploaded by builders
// after finishing a job: a deb822 control stanza naming the job's Source/
// Version/Architecture plus the referenced log, firehose report, and (on a
// build job) binary files. Grounded on
// original_source/debile/master/dud.py's Dud wrapper, reusing
// internal/changes' control-file parser in place of python-debian's
// deb822.
package dud

import (
	"path/filepath"
	"strings"

	"github.com/coreos/debile/internal/changes"
)

// Dud is a parsed diagnostic bundle.
type Dud struct {
	control  *changes.ControlFile
	filename string
	dir      string
}

// Parse parses raw .dud bytes.
func Parse(path string, data []byte) (*Dud, error) {
	c, err := changes.ParseControlFile(data)
	if err != nil {
		return nil, err
	}
	return &Dud{control: c, filename: filepath.Base(path), dir: filepath.Dir(path)}, nil
}

// Source, Version, and Architecture mirror the spec's job-matching fields.
func (d *Dud) Source() string       { v, _ := d.control.Get("Source"); return v }
func (d *Dud) Version() string      { v, _ := d.control.Get("Version"); return v }
func (d *Dud) Architecture() string { v, _ := d.control.Get("Architecture"); return v }

// Failed reports the bundle's "Failed:" field ("yes"/"no"), defaulting to
// false if absent.
func (d *Dud) Failed() bool {
	v, _ := d.control.Get("Failed")
	return strings.EqualFold(v, "yes")
}

// Get exposes an arbitrary control-file field, for headers like
// X-Debile-Job that have no dedicated accessor.
func (d *Dud) Get(key string) (string, bool) { return d.control.Get(key) }

// ChecksumsSha256 and ChecksumsSha1 expose the bundle's checksum tables, for
// the same re-hash-and-compare validation changes.Changes uploads get.
func (d *Dud) ChecksumsSha256() []changes.FileEntry { return d.control.Files("Checksums-Sha256") }
func (d *Dud) ChecksumsSha1() []changes.FileEntry   { return d.control.Files("Checksums-Sha1") }

// FilePaths is Files under the name internal/ingest's shared checksum
// verifier expects.
func (d *Dud) FilePaths() []string { return d.Files() }

// Filename is the .dud control file's own path (its directory joined with
// its basename), matching the archive.Dud interface.
func (d *Dud) Filename() string { return filepath.Join(d.dir, d.filename) }

// Files returns the absolute paths of every file the bundle's Files field
// references, satisfying the archive.Dud interface.
func (d *Dud) Files() []string {
	var out []string
	for _, f := range d.control.Files("Files") {
		out = append(out, filepath.Join(d.dir, f.Name))
	}
	return out
}

// LogFile returns the path of the referenced build/check log, if any.
func (d *Dud) LogFile() string {
	for _, f := range d.Files() {
		if strings.HasSuffix(f, ".log") {
			return f
		}
	}
	return ""
}

// FirehoseFile returns the path of the referenced firehose analysis report,
// if any — present when a static-analysis check ran and found something to
// report, per spec.md §4.4's dose/firehose distinction.
func (d *Dud) FirehoseFile() string {
	for _, f := range d.Files() {
		if strings.HasSuffix(f, ".firehose.xml") {
			return f
		}
	}
	return ""
}

// DebFiles returns the referenced .deb/.udeb file paths, present only on a
// build job's successful bundle.
func (d *Dud) DebFiles() []string {
	var out []string
	for _, f := range d.Files() {
		if strings.HasSuffix(f, ".deb") || strings.HasSuffix(f, ".udeb") {
			out = append(out, f)
		}
	}
	return out
}
