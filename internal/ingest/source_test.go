package ingest

import (
	"context"
	"fmt"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/coreos/debile/internal/model"
	"github.com/coreos/debile/internal/store"
)

// sourceUploadFixture writes a signed .changes plus its referenced .dsc
// into dir and returns the .changes path.
func sourceUploadFixture(t *testing.T, dir string, entity *openpgp.Entity, name, version, group string) string {
	t.Helper()

	dscName := fmt.Sprintf("%s_%s.dsc", name, version)
	dscBody := []byte(fmt.Sprintf(
		"Source: %s\nVersion: %s\nArchitecture: amd64\nMaintainer: Hello Maintainer <hello@example.com>\n",
		name, version,
	))
	dscPath := writeFile(t, dir, dscName, dscBody)
	_ = dscPath

	changesBody := []byte(fmt.Sprintf(`Source: %s
Version: %s
Distribution: unstable
Architecture: amd64 source
Maintainer: Hello Maintainer <hello@example.com>
X-Debile-Group: %s
Files:
 d41d8cd98f00b204e9800998ecf8427e %d %s
Checksums-Sha256:
 %s %d %s
Checksums-Sha1:
 %s %d %s
`,
		name, version, group,
		len(dscBody), dscName,
		hexSha256(dscBody), len(dscBody), dscName,
		hexSha1(dscBody), len(dscBody), dscName,
	))

	signed := clearsignBody(t, entity, changesBody)
	changesName := fmt.Sprintf("%s_%s_amd64.changes", name, version)
	return writeFile(t, dir, changesName, signed)
}

func TestIngestSourceChangesAccepts(t *testing.T) {
	entity := newEntity(t, "Alice", "alice@example.com")
	pipeline, s := newTestPipeline(t, openpgp.EntityList{entity})
	top := seedTopology(t, s)

	fp := signerFingerprint(t, entity)
	if err := s.WithTx(context.Background(), func(tx *store.Tx) error {
		return tx.UpdateUserKeys(top.personID, fp, "")
	}); err != nil {
		t.Fatalf("attach signing fingerprint: %v", err)
	}

	dir := t.TempDir()
	changesPath := sourceUploadFixture(t, dir, entity, "hello", "1.0-1", "main")

	source, err := pipeline.IngestSourceChanges(context.Background(), changesPath)
	if err != nil {
		t.Fatalf("IngestSourceChanges: %v", err)
	}
	if source.Name != "hello" || source.Version != "1.0-1" {
		t.Fatalf("source = %+v", source)
	}
	if len(source.Jobs) != 1 {
		t.Fatalf("expected one planned job (the build check), got %d", len(source.Jobs))
	}
	if source.Jobs[0].ID == 0 {
		t.Fatalf("expected the planned job to have a persisted ID")
	}

	if fileExists(changesPath) {
		t.Fatalf("accepted upload's .changes file should have been unlinked")
	}

	if err := s.WithTx(context.Background(), func(tx *store.Tx) error {
		_, err := tx.GetSourceByID(source.ID)
		return err
	}); err != nil {
		t.Fatalf("GetSourceByID after accept: %v", err)
	}
}

func TestIngestSourceChangesRejectsBadSignature(t *testing.T) {
	entity := newEntity(t, "Alice", "alice@example.com")
	impostor := newEntity(t, "Mallory", "mallory@example.com")
	pipeline, s := newTestPipeline(t, openpgp.EntityList{entity})
	seedTopology(t, s)

	dir := t.TempDir()
	changesPath := sourceUploadFixture(t, dir, impostor, "hello", "1.0-1", "main")

	_, err := pipeline.IngestSourceChanges(context.Background(), changesPath)
	if err == nil {
		t.Fatalf("expected a rejection for a signature not in the keyring")
	}
	rej, ok := err.(*RejectError)
	if !ok {
		t.Fatalf("expected *RejectError, got %T: %v", err, err)
	}
	if rej.Tag != model.TagInvalidSignature {
		t.Fatalf("tag = %s, want %s", rej.Tag, model.TagInvalidSignature)
	}
	if fileExists(changesPath) {
		t.Fatalf("rejected upload's files should have been unlinked")
	}
}

func TestIngestSourceChangesRejectsUnknownGroup(t *testing.T) {
	entity := newEntity(t, "Alice", "alice@example.com")
	pipeline, s := newTestPipeline(t, openpgp.EntityList{entity})
	seedTopology(t, s)

	dir := t.TempDir()
	changesPath := sourceUploadFixture(t, dir, entity, "hello", "1.0-1", "no-such-group")

	_, err := pipeline.IngestSourceChanges(context.Background(), changesPath)
	rej, ok := err.(*RejectError)
	if !ok {
		t.Fatalf("expected *RejectError, got %T: %v", err, err)
	}
	if rej.Tag != model.TagInvalidGroup {
		t.Fatalf("tag = %s, want %s", rej.Tag, model.TagInvalidGroup)
	}
}

func TestIngestSourceChangesRejectsDuplicateVersion(t *testing.T) {
	entity := newEntity(t, "Alice", "alice@example.com")
	pipeline, s := newTestPipeline(t, openpgp.EntityList{entity})
	top := seedTopology(t, s)

	fp := signerFingerprint(t, entity)
	if err := s.WithTx(context.Background(), func(tx *store.Tx) error {
		return tx.UpdateUserKeys(top.personID, fp, "")
	}); err != nil {
		t.Fatalf("attach signing fingerprint: %v", err)
	}

	dir := t.TempDir()
	first := sourceUploadFixture(t, dir, entity, "hello", "1.0-1", "main")
	if _, err := pipeline.IngestSourceChanges(context.Background(), first); err != nil {
		t.Fatalf("first IngestSourceChanges: %v", err)
	}

	dir2 := t.TempDir()
	second := sourceUploadFixture(t, dir2, entity, "hello", "1.0-1", "main")
	_, err := pipeline.IngestSourceChanges(context.Background(), second)
	rej, ok := err.(*RejectError)
	if !ok {
		t.Fatalf("expected *RejectError, got %T: %v", err, err)
	}
	if rej.Tag != model.TagSourceAlreadyInGroup {
		t.Fatalf("tag = %s, want %s", rej.Tag, model.TagSourceAlreadyInGroup)
	}
}
