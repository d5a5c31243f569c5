package ingest

import (
	"bytes"
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"

	"github.com/coreos/debile/internal/arches"
	"github.com/coreos/debile/internal/changes"
	"github.com/coreos/debile/internal/store"
)

// fixedNow is the timestamp every test pipeline's clock reports, so
// assertions on UploadedAt/etc never depend on wall-clock time.
var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestPipeline(t *testing.T, keyring openpgp.EntityList) (*Pipeline, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	return &Pipeline{
		Store:   s,
		Keyring: keyring,
		Oracle:  arches.StaticOracle{},
		Now:     func() time.Time { return fixedNow },
	}, s
}

// seededTopology is the IDs of one group/suite/component/arch/check/person
// any ingest test can build a .changes/.dsc/.dud upload against.
type seededTopology struct {
	groupID, suiteID, groupSuiteID, componentID, archID, checkID, personID int64
}

// seedTopology creates one group ("main") / suite ("unstable") / component
// ("main") / arch ("amd64") / build-check ("build") / person ("alice"),
// mirroring store_test.go's seedTopology but built from internal/store's
// exported Create*/Attach* primitives since ingest tests live outside the
// store package.
func seedTopology(t *testing.T, s *store.Store) seededTopology {
	t.Helper()
	var top seededTopology
	err := s.WithTx(context.Background(), func(tx *store.Tx) error {
		group, err := tx.CreateGroup("main", "", "", "", "")
		if err != nil {
			return err
		}
		suite, err := tx.CreateSuite("unstable")
		if err != nil {
			return err
		}
		groupSuiteID, err := tx.CreateGroupSuite(group.ID, suite.ID)
		if err != nil {
			return err
		}
		component, err := tx.CreateComponent("main")
		if err != nil {
			return err
		}
		if err := tx.AttachComponent(groupSuiteID, component.ID); err != nil {
			return err
		}
		arch, err := tx.GetOrCreateArch("amd64")
		if err != nil {
			return err
		}
		if err := tx.AttachArch(groupSuiteID, arch.ID); err != nil {
			return err
		}
		check, err := tx.CreateCheck("build", false, false, true)
		if err != nil {
			return err
		}
		if err := tx.AttachCheck(groupSuiteID, check.ID); err != nil {
			return err
		}
		person, err := tx.CreateUser("alice", "Alice Uploader", "alice@example.com")
		if err != nil {
			return err
		}

		top = seededTopology{
			groupID: group.ID, suiteID: suite.ID, groupSuiteID: groupSuiteID,
			componentID: component.ID, archID: arch.ID, checkID: check.ID, personID: person.ID,
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed topology: %v", err)
	}
	return top
}

// newEntity generates a fresh OpenPGP identity for a test upload's signer.
func newEntity(t *testing.T, name, email string) *openpgp.Entity {
	t.Helper()
	entity, err := openpgp.NewEntity(name, "", email, nil)
	if err != nil {
		t.Fatalf("generate entity %s: %v", name, err)
	}
	return entity
}

// clearsignBody wraps body in a clearsign envelope signed by entity, the
// shape every upload IngestDirectory's callers parse.
func clearsignBody(t *testing.T, entity *openpgp.Entity, body []byte) []byte {
	t.Helper()
	var out bytes.Buffer
	w, err := clearsign.Encode(&out, entity.PrivateKey, nil)
	if err != nil {
		t.Fatalf("clearsign.Encode: %v", err)
	}
	if _, err := w.Write(body); err != nil {
		t.Fatalf("write clearsign body: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close clearsign writer: %v", err)
	}
	return out.Bytes()
}

// signerFingerprint signs a throwaway message with entity and extracts the
// fingerprint VerifyClearsigned would report, so tests can seed a Person/
// Builder row with the exact value ingest will look up.
func signerFingerprint(t *testing.T, entity *openpgp.Entity) string {
	t.Helper()
	signed := clearsignBody(t, entity, []byte("probe\n"))
	_, fp, err := changes.VerifyClearsigned(signed, openpgp.EntityList{entity})
	if err != nil {
		t.Fatalf("extract fingerprint: %v", err)
	}
	return fp
}

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func hexSha256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hexSha1(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
