package keyring

import (
	"bytes"
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"io"
	"os"
	"strings"
)

func readAll(f *os.File) ([]byte, error) {
	return io.ReadAll(f)
}

func parseCertificate(certData []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certData)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("keyring: not a PEM certificate")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keyring: parse certificate: %w", err)
	}
	return cert, nil
}

func emailMatches(cert *x509.Certificate, email string) bool {
	for _, addr := range cert.EmailAddresses {
		if strings.EqualFold(addr, email) {
			return true
		}
	}
	return false
}

func sha1Fingerprint(der []byte) string {
	sum := sha1.Sum(der)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// IsEnabled reports whether the principal owning fingerprint should keep its
// certificate in the transport keyring. Implemented by callers against
// internal/store so this package stays free of a database dependency.
type IsEnabled func(fingerprint string) bool

// CleanupTransport rewrites keyringPath, keeping only the PEM certificates
// whose fingerprint isEnabled still reports true for — the disable path of
// spec.md §3 ("disabling sets both fingerprints to the sentinel"), applied
// here to purge the now-orphaned certificate bytes themselves. Grounded on
// keyrings.py's clean_ssl_keyring, replacing its direct ORM session lookups
// with the injected predicate.
func CleanupTransport(keyringPath string, isEnabled IsEnabled) error {
	return withFileLock(keyringPath, func(f *os.File) error {
		if _, err := f.Seek(0, 0); err != nil {
			return err
		}
		data, err := readAll(f)
		if err != nil {
			return fmt.Errorf("keyring: read %s: %w", keyringPath, err)
		}

		var kept bytes.Buffer
		rest := data
		for {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}
			if block.Type != "CERTIFICATE" {
				continue
			}
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				continue // drop unparseable entries rather than fail cleanup entirely
			}
			fp := sha1Fingerprint(cert.Raw)
			if isEnabled(fp) {
				if err := pem.Encode(&kept, block); err != nil {
					return err
				}
			}
		}

		tmpPath := keyringPath + ".tmp"
		if err := os.WriteFile(tmpPath, kept.Bytes(), 0o640); err != nil {
			return fmt.Errorf("keyring: write %s: %w", tmpPath, err)
		}
		return os.Rename(tmpPath, keyringPath)
	})
}
