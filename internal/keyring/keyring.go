// Package keyring manages the two credential stores ingest and the
// scheduler authenticate against: an OpenPGP keyring for upload signatures,
// and an X.509 PEM bundle for the RPC transport's mutual-TLS client
// certificates. Grounded on
// original_source/debile/master/keyrings.py's import_pgp/import_ssl/
// clean_ssl_keyring, reimplemented against ProtonMail/go-crypto/openpgp and
// stdlib crypto/x509 in place of shelling out to gpg(1)/openssl(1), and
// stdlib syscall.Flock in place of fcntl.lockf.
package keyring

import (
	"bytes"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/pkg/errors"
)

// ErrNoFingerprint is returned when a key/certificate import yields no
// usable fingerprint.
var ErrNoFingerprint = errors.New("keyring: import produced no fingerprint")

// ErrSubjectMismatch is returned by ImportTransport when the certificate's
// subject does not match the expected CN/email — keyrings.py's own
// "SSLSocket breaks badly on multiple certificates with the same subject"
// safeguard.
var ErrSubjectMismatch = errors.New("keyring: certificate subject does not match expected identity")

// withFileLock opens path (creating it if needed) for read-write, takes an
// exclusive advisory lock for the duration of fn, and closes it on return.
func withFileLock(path string, fn func(f *os.File) error) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o640)
	if err != nil {
		return fmt.Errorf("keyring: open %s: %w", path, err)
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("keyring: lock %s: %w", path, err)
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

	return fn(f)
}

// ImportSigning appends an armored OpenPGP public key to keyringPath and
// returns its fingerprint, hex-encoded uppercase to match the convention
// spec.md's principal fingerprint fields use.
func ImportSigning(keyringPath string, keydata []byte) (fingerprint string, err error) {
	entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(keydata))
	if err != nil {
		return "", fmt.Errorf("keyring: parse signing key: %w", err)
	}
	if len(entities) == 0 || entities[0].PrimaryKey == nil {
		return "", ErrNoFingerprint
	}
	fp := entities[0].PrimaryKey.Fingerprint

	err = withFileLock(keyringPath, func(f *os.File) error {
		existing, rerr := openpgp.ReadKeyRing(f)
		if rerr != nil && len(existing) == 0 {
			// An empty or not-yet-initialized keyring file; start fresh.
			existing = nil
		}
		for _, e := range existing {
			if e.PrimaryKey != nil && bytes.Equal(e.PrimaryKey.Fingerprint[:], fp[:]) {
				return nil // already present
			}
		}
		if _, serr := f.Seek(0, 2); serr != nil {
			return serr
		}
		return entities[0].Serialize(f)
	})
	if err != nil {
		return "", err
	}

	return strings.ToUpper(hex.EncodeToString(fp[:])), nil
}

// LoadSigning reads the signing keyring at keyringPath (as written by
// ImportSigning) into an openpgp.EntityList ready to verify a clear-signed
// upload's signature. A missing file is treated as an empty keyring rather
// than an error, the state of a freshly initialized installation.
func LoadSigning(keyringPath string) (openpgp.EntityList, error) {
	f, err := os.Open(keyringPath)
	if os.IsNotExist(err) {
		return openpgp.EntityList{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("keyring: open %s: %w", keyringPath, err)
	}
	defer f.Close()

	entities, err := openpgp.ReadKeyRing(f)
	if err != nil {
		return nil, fmt.Errorf("keyring: parse %s: %w", keyringPath, err)
	}
	return entities, nil
}

// ImportTransport validates certData is a PEM-encoded X.509 certificate
// whose subject matches cn/email when those are non-empty, appends it to
// keyringPath under an exclusive lock, and returns its SHA-1 fingerprint
// hex-encoded uppercase — the historical fingerprint form keyrings.py's
// `openssl x509 -sha1 -fingerprint` produced.
func ImportTransport(keyringPath string, certData []byte, cn, email string) (fingerprint string, err error) {
	cert, err := parseCertificate(certData)
	if err != nil {
		return "", err
	}

	if cn != "" && cert.Subject.CommonName != cn {
		return "", ErrSubjectMismatch
	}
	if email != "" && !emailMatches(cert, email) {
		return "", ErrSubjectMismatch
	}

	fp := sha1Fingerprint(cert.Raw)

	err = withFileLock(keyringPath, func(f *os.File) error {
		if _, serr := f.Seek(0, 2); serr != nil {
			return serr
		}
		return pem.Encode(f, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	})
	if err != nil {
		return "", err
	}

	return fp, nil
}
