package changes

import (
	"bytes"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
)

func TestVerifyClearsignedAcceptsValidSignature(t *testing.T) {
	entity, err := openpgp.NewEntity("Uploader", "", "uploader@example.com", nil)
	if err != nil {
		t.Fatalf("generate entity: %v", err)
	}

	body := []byte("Source: hello\nVersion: 2.0-1\n")

	var signed bytes.Buffer
	w, err := clearsign.Encode(&signed, entity.PrivateKey, nil)
	if err != nil {
		t.Fatalf("clearsign.Encode: %v", err)
	}
	if _, err := w.Write(body); err != nil {
		t.Fatalf("write body: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close clearsign writer: %v", err)
	}

	keyring := openpgp.EntityList{entity}
	gotBody, fp, err := VerifyClearsigned(signed.Bytes(), keyring)
	if err != nil {
		t.Fatalf("VerifyClearsigned: %v", err)
	}
	if !bytes.Equal(bytes.TrimRight(gotBody, "\n"), bytes.TrimRight(body, "\n")) {
		t.Fatalf("body mismatch: got %q want %q", gotBody, body)
	}
	if fp == "" {
		t.Fatalf("expected a non-empty signer fingerprint")
	}
}

func TestVerifyClearsignedRejectsUnknownSigner(t *testing.T) {
	signer, err := openpgp.NewEntity("Signer", "", "signer@example.com", nil)
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	other, err := openpgp.NewEntity("Other", "", "other@example.com", nil)
	if err != nil {
		t.Fatalf("generate other: %v", err)
	}

	var signed bytes.Buffer
	w, err := clearsign.Encode(&signed, signer.PrivateKey, nil)
	if err != nil {
		t.Fatalf("clearsign.Encode: %v", err)
	}
	if _, err := w.Write([]byte("Source: hello\n")); err != nil {
		t.Fatalf("write body: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close clearsign writer: %v", err)
	}

	_, _, err = VerifyClearsigned(signed.Bytes(), openpgp.EntityList{other})
	if err == nil {
		t.Fatalf("expected verification to fail against the wrong keyring")
	}
}
