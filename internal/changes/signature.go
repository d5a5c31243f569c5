package changes

import (
	"bytes"
	"fmt"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
)

// ErrBadSignature is returned when a clearsigned file's signature does not
// verify against keyring, mapping onto dud.py's validate_signature
// BADSIG/ERRSIG/NODATA outcomes.
var ErrBadSignature = fmt.Errorf("changes: signature verification failed")

// VerifyClearsigned checks that data is a clearsigned message whose
// signature validates against one of keyring's entities, and returns the
// clear-signed body (with the PGP armor stripped) plus the signer's key
// fingerprint, hex-encoded uppercase.
func VerifyClearsigned(data []byte, keyring openpgp.EntityList) (body []byte, signerFingerprint string, err error) {
	block, _ := clearsign.Decode(data)
	if block == nil {
		return nil, "", fmt.Errorf("%w: not a clearsigned message", ErrBadSignature)
	}

	signer, err := openpgp.CheckDetachedSignature(keyring, bytes.NewReader(block.Bytes), block.ArmoredSignature.Body, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if signer == nil || signer.PrimaryKey == nil {
		return nil, "", fmt.Errorf("%w: no matching key in keyring", ErrBadSignature)
	}

	fp := signer.PrimaryKey.Fingerprint
	return block.Bytes, fmt.Sprintf("%X", fp[:]), nil
}

// DecodeClearsignBody extracts a clearsigned message's body without
// verifying its signature. Used when a caller needs to know what was
// uploaded — e.g. to log a rejection by source name — even when the
// signature itself turns out not to verify.
func DecodeClearsignBody(data []byte) ([]byte, error) {
	block, _ := clearsign.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("changes: not a clearsigned message")
	}
	return block.Bytes, nil
}
