package state_test

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/veralog-io/veralog-go/pkg/state"
)

// signAnchor signs st the way a ledger server does: an ASN.1 ECDSA
// signature over the SHA-256 of the transaction id and hash.
func signAnchor(t *testing.T, key *ecdsa.PrivateKey, st *state.TrustState) {
	t.Helper()

	payload := make([]byte, 8+len(st.TxHash))
	binary.BigEndian.PutUint64(payload, st.TxID)
	copy(payload[8:], st.TxHash[:])
	sum := sha256.Sum256(payload)

	sig, err := ecdsa.SignASN1(rand.Reader, key, sum[:])
	if err != nil {
		t.Fatal(err)
	}
	st.Signature = sig
}

func encodePublicKey(t *testing.T, pub *ecdsa.PublicKey) []byte {
	t.Helper()

	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func TestCheckSignature_valid(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	st := anchor(12)
	signAnchor(t, key, st)

	if err := state.CheckSignature(st, &key.PublicKey); err != nil {
		t.Errorf("valid signature rejected: %v", err)
	}
}

func TestCheckSignature_tamperedState(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	st := anchor(12)
	signAnchor(t, key, st)
	st.TxHash[0] ^= 0x01

	err = state.CheckSignature(st, &key.PublicKey)
	if !errors.Is(err, state.ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestCheckSignature_unsigned(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	err = state.CheckSignature(anchor(12), &key.PublicKey)
	if !errors.Is(err, state.ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature for missing signature, got %v", err)
	}
}

func TestParseVerificationKey_roundTrip(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := state.ParseVerificationKey(encodePublicKey(t, &key.PublicKey))
	if err != nil {
		t.Fatal(err)
	}
	if parsed.X.Cmp(key.PublicKey.X) != 0 || parsed.Y.Cmp(key.PublicKey.Y) != 0 {
		t.Error("parsed key does not match the encoded key")
	}
}

func TestParseVerificationKey_rejectsNonECDSA(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	if _, err := state.ParseVerificationKey(pemBytes); err == nil {
		t.Error("expected an error for a non-ECDSA key")
	}
}

func TestParseVerificationKey_rejectsGarbage(t *testing.T) {
	if _, err := state.ParseVerificationKey([]byte("not a pem block")); err == nil {
		t.Error("expected an error for malformed PEM input")
	}
}

func TestLoadVerificationKey(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "server.pub")
	if err := os.WriteFile(path, encodePublicKey(t, &key.PublicKey), 0o600); err != nil {
		t.Fatal(err)
	}

	parsed, err := state.LoadVerificationKey(path)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.X.Cmp(key.PublicKey.X) != 0 {
		t.Error("loaded key does not match the written key")
	}

	if _, err := state.LoadVerificationKey(filepath.Join(t.TempDir(), "missing.pub")); err == nil {
		t.Error("expected an error for a missing key file")
	}
}
