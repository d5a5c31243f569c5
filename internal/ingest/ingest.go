// Package ingest accepts signed uploads — source changes, binary changes,
// and diagnostic bundles — validates and absorbs them, and produces exactly
// one accept/reject event per upload. Grounded on
// original_source/debile/master/incoming_changes.py and incoming_dud.py,
// reimplemented against internal/store's transactions, internal/changes and
// internal/dud for control-file parsing, internal/archive for the pool
// adapter, and internal/events for the accept/reject notifications.
package ingest

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/coreos/debile/internal/arches"
	"github.com/coreos/debile/internal/archive"
	ichanges "github.com/coreos/debile/internal/changes"
	"github.com/coreos/debile/internal/model"
	"github.com/coreos/debile/internal/planner"
	"github.com/coreos/debile/internal/store"
)

// RejectError carries the closed-set tag an ingest rejection resolved to,
// plus the human-readable cause — spec.md §7's error taxonomy.
type RejectError struct {
	Tag    model.RejectTag
	Source string
	cause  error
}

func (e *RejectError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("ingest: reject %s: %s: %v", e.Source, e.Tag, e.cause)
	}
	return fmt.Sprintf("ingest: reject %s: %s", e.Source, e.Tag)
}

func (e *RejectError) Unwrap() error { return e.cause }

func reject(tag model.RejectTag, source string, cause error) *RejectError {
	return &RejectError{Tag: tag, Source: source, cause: cause}
}

// Pipeline holds everything one ingest call needs: the database, the
// keyring uploads are checked against, the archive adapter, and the
// architecture oracle the planner's arch resolution consults.
type Pipeline struct {
	Store    *store.Store
	Keyring  openpgp.EntityList
	Repo     *archive.Repo
	FileRepo archive.FileRepo
	Oracle   arches.Oracle
	Now      func() time.Time
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// defaultGroup is the header fallback spec.md §4.3 names.
const defaultGroup = "default"

func headerOrDefault(c interface{ Get(string) (string, bool) }, key, def string) string {
	if v, ok := c.Get(key); ok && v != "" {
		return v
	}
	return def
}

// checksummedUpload is satisfied by both *changes.Changes and *dud.Dud: any
// parsed control document that references files via Checksums-Sha1/
// Checksums-Sha256 tables.
type checksummedUpload interface {
	FilePaths() []string
	ChecksumsSha256() []ichanges.FileEntry
	ChecksumsSha1() []ichanges.FileEntry
}

// verifyChecksums re-hashes every file an upload references and compares
// against its declared Checksums-Sha1/Checksums-Sha256 tables, with
// SHA-256 authoritative when both are present.
func verifyChecksums(c checksummedUpload) error {
	sha256ByName := map[string]string{}
	for _, f := range c.ChecksumsSha256() {
		sha256ByName[f.Name] = f.Checksum
	}
	sha1ByName := map[string]string{}
	for _, f := range c.ChecksumsSha1() {
		sha1ByName[f.Name] = f.Checksum
	}

	for _, path := range c.FilePaths() {
		name := baseName(path)
		want256, has256 := sha256ByName[name]
		want1, has1 := sha1ByName[name]
		if !has256 && !has1 {
			continue // only the legacy md5 "Files" field is present; not re-verified
		}

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		h1 := sha1.New()
		h256 := sha256.New()
		_, err = io.Copy(io.MultiWriter(h1, h256), f)
		f.Close()
		if err != nil {
			return fmt.Errorf("hash %s: %w", path, err)
		}

		if has256 {
			if got := hex.EncodeToString(h256.Sum(nil)); got != want256 {
				return fmt.Errorf("sha256 mismatch for %s: got %s want %s", name, got, want256)
			}
			continue
		}
		if got := hex.EncodeToString(h1.Sum(nil)); got != want1 {
			return fmt.Errorf("sha1 mismatch for %s: got %s want %s", name, got, want1)
		}
	}
	return nil
}

func baseName(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return path
	}
	return path[i+1:]
}

// unlinkAll removes every file an upload referenced, plus its own control
// file — the cleanup step common to both accept and reject.
func unlinkAll(paths ...string) {
	for _, p := range paths {
		_ = os.Remove(p)
	}
}

func atoi64(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

// planSource resolves a source's target arches and (if it builds an "all"
// package) affinity arch, then invokes the planner to derive its jobs.
func planSource(oracle arches.Oracle, source *model.Source, dscArches []string, affinityPreference []string) error {
	targetArches, err := arches.SourceArches(oracle, dscArches, source.GroupSuite.Architectures)
	if err != nil {
		return fmt.Errorf("resolve source arches: %w", err)
	}
	source.Arches = targetArches

	if contains(dscArches, model.ArchAll) {
		affinity, err := arches.PreferredAffinity(oracle, affinityPreference, []string{"any"}, targetArches)
		if err != nil {
			return fmt.Errorf("resolve affinity: %w", err)
		}
		source.Affinity = affinity
	}

	planner.Plan(source)
	return nil
}
