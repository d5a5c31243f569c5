package ingest

import (
	"context"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/coreos/debile/internal/store"
)

func TestIngestDirectoryProcessesCleanSpool(t *testing.T) {
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

	if err := pipeline.IngestDirectory(context.Background(), dir); err != nil {
		t.Fatalf("IngestDirectory: %v", err)
	}
	if fileExists(changesPath) {
		t.Fatalf("accepted upload's .changes file should have been unlinked")
	}
}
