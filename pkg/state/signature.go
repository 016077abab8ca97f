package state

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/veralog-io/veralog-go/pkg/ledger"
)

// CheckSignature verifies the ECDSA signature (ASN.1 DER) a state carries
// over u64(txId) ‖ txHash.
func CheckSignature(st *TrustState, key *ecdsa.PublicKey) error {
	if len(st.Signature) == 0 {
		return fmt.Errorf("state for tx %d is unsigned: %w", st.TxID, ErrInvalidSignature)
	}
	payload := make([]byte, 8+ledger.DigestSize)
	binary.BigEndian.PutUint64(payload, st.TxID)
	copy(payload[8:], st.TxHash[:])
	digest := sha256.Sum256(payload)
	if !ecdsa.VerifyASN1(key, digest[:], st.Signature) {
		return fmt.Errorf("state for tx %d: %w", st.TxID, ErrInvalidSignature)
	}
	return nil
}

// ParseVerificationKey parses a PEM-encoded PKIX public key and requires it
// to be an ECDSA key.
func ParseVerificationKey(pemBytes []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in verification key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse verification key: %w", err)
	}
	key, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("verification key is %T, want ECDSA", pub)
	}
	return key, nil
}

// LoadVerificationKey reads and parses a PEM-encoded PKIX public key file.
func LoadVerificationKey(path string) (*ecdsa.PublicKey, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read verification key: %w", err)
	}
	return ParseVerificationKey(pemBytes)
}

// verifier holds the optional verification key a store checks states with.
type verifier struct {
	key *ecdsa.PublicKey
}

// SetVerificationKey requires every future state to carry a valid signature
// from the holder of the matching private key.
func (v *verifier) SetVerificationKey(key *ecdsa.PublicKey) {
	v.key = key
}

func (v *verifier) check(st *TrustState) error {
	if v.key == nil {
		return nil
	}
	return CheckSignature(st, v.key)
}
