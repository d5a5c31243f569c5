package keyring

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

func generateTestCert(t *testing.T, cn, email string) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName: cn,
		},
		EmailAddresses:        []string{email},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func TestImportTransportAcceptsMatchingSubject(t *testing.T) {
	dir := t.TempDir()
	keyringPath := filepath.Join(dir, "transport.pem")
	cert := generateTestCert(t, "builder-1", "builder-1@example.com")

	fp, err := ImportTransport(keyringPath, cert, "builder-1", "builder-1@example.com")
	if err != nil {
		t.Fatalf("ImportTransport: %v", err)
	}
	if fp == "" {
		t.Fatalf("expected non-empty fingerprint")
	}

	data, err := os.ReadFile(keyringPath)
	if err != nil {
		t.Fatalf("read keyring: %v", err)
	}
	if !bytes.Contains(data, []byte("BEGIN CERTIFICATE")) {
		t.Fatalf("expected the certificate to be appended to the keyring file")
	}
}

func TestImportTransportRejectsSubjectMismatch(t *testing.T) {
	dir := t.TempDir()
	keyringPath := filepath.Join(dir, "transport.pem")
	cert := generateTestCert(t, "builder-1", "builder-1@example.com")

	_, err := ImportTransport(keyringPath, cert, "builder-2", "")
	if err != ErrSubjectMismatch {
		t.Fatalf("expected ErrSubjectMismatch, got %v", err)
	}
}

func TestCleanupTransportDropsDisabledCertificates(t *testing.T) {
	dir := t.TempDir()
	keyringPath := filepath.Join(dir, "transport.pem")

	keptCert := generateTestCert(t, "kept", "kept@example.com")
	droppedCert := generateTestCert(t, "dropped", "dropped@example.com")

	keptFP, err := ImportTransport(keyringPath, keptCert, "kept", "")
	if err != nil {
		t.Fatalf("import kept cert: %v", err)
	}
	if _, err := ImportTransport(keyringPath, droppedCert, "dropped", ""); err != nil {
		t.Fatalf("import dropped cert: %v", err)
	}

	err = CleanupTransport(keyringPath, func(fp string) bool {
		return fp == keptFP
	})
	if err != nil {
		t.Fatalf("CleanupTransport: %v", err)
	}

	data, err := os.ReadFile(keyringPath)
	if err != nil {
		t.Fatalf("read keyring: %v", err)
	}
	blocksRemaining := bytes.Count(data, []byte("BEGIN CERTIFICATE"))
	if blocksRemaining != 1 {
		t.Fatalf("expected exactly 1 certificate to remain, found %d", blocksRemaining)
	}
}

func TestImportSigningIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	keyringPath := filepath.Join(dir, "signing.gpg")

	entity, err := openpgp.NewEntity("Test Builder", "", "builder@example.com", nil)
	if err != nil {
		t.Fatalf("generate pgp entity: %v", err)
	}
	var armored bytes.Buffer
	w, err := armor.Encode(&armored, openpgp.PublicKeyType, nil)
	if err != nil {
		t.Fatalf("armor encode: %v", err)
	}
	if err := entity.Serialize(w); err != nil {
		t.Fatalf("serialize entity: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close armor writer: %v", err)
	}

	fp1, err := ImportSigning(keyringPath, armored.Bytes())
	if err != nil {
		t.Fatalf("first import: %v", err)
	}
	fp2, err := ImportSigning(keyringPath, armored.Bytes())
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if fp1 != fp2 {
		t.Fatalf("expected stable fingerprint across re-imports, got %q then %q", fp1, fp2)
	}
}

func TestLoadSigningReturnsImportedEntity(t *testing.T) {
	dir := t.TempDir()
	keyringPath := filepath.Join(dir, "signing.gpg")

	entity, err := openpgp.NewEntity("Test Builder", "", "builder@example.com", nil)
	if err != nil {
		t.Fatalf("generate pgp entity: %v", err)
	}
	var armored bytes.Buffer
	w, err := armor.Encode(&armored, openpgp.PublicKeyType, nil)
	if err != nil {
		t.Fatalf("armor encode: %v", err)
	}
	if err := entity.Serialize(w); err != nil {
		t.Fatalf("serialize entity: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close armor writer: %v", err)
	}

	if _, err := ImportSigning(keyringPath, armored.Bytes()); err != nil {
		t.Fatalf("ImportSigning: %v", err)
	}

	loaded, err := LoadSigning(keyringPath)
	if err != nil {
		t.Fatalf("LoadSigning: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 entity, got %d", len(loaded))
	}
}

func TestLoadSigningMissingFileIsEmptyKeyring(t *testing.T) {
	loaded, err := LoadSigning(filepath.Join(t.TempDir(), "absent.gpg"))
	if err != nil {
		t.Fatalf("LoadSigning: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("expected an empty keyring, got %d entities", len(loaded))
	}
}
