package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DigestSize is the width in bytes of every digest in the protocol.
const DigestSize = sha256.Size

// Node prefixes of the Merkle trees. Leaves and inner nodes hash distinct
// preimages so a leaf can never be replayed as an inner node.
const (
	leafPrefix byte = 0x00
	nodePrefix byte = 0x01
)

// Digest is a SHA-256 output. Digests are opaque and compared only by byte
// equality; they are always recomputed locally from raw inputs, never taken
// from a remote peer.
type Digest [DigestSize]byte

// DigestOf returns the SHA-256 digest of data.
func DigestOf(data []byte) Digest {
	return sha256.Sum256(data)
}

// DigestFromBytes converts a raw wire slice into a Digest. A slice of any
// width other than DigestSize is a malformed proof.
func DigestFromBytes(b []byte) (Digest, error) {
	var d Digest
	if len(b) != DigestSize {
		return d, fmt.Errorf("digest has %d bytes, want %d: %w", len(b), DigestSize, ErrMalformedProof)
	}
	copy(d[:], b)
	return d, nil
}

// Hex returns the lowercase hex encoding of the digest.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether the digest is all zero bytes, the alh of the empty
// log.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// HashLeaf hashes a payload digest into a Merkle tree leaf node.
func HashLeaf(d Digest) Digest {
	var b [1 + DigestSize]byte
	b[0] = leafPrefix
	copy(b[1:], d[:])
	return sha256.Sum256(b[:])
}

// HashNode hashes two child nodes into their parent.
func HashNode(l, r Digest) Digest {
	var b [1 + 2*DigestSize]byte
	b[0] = nodePrefix
	copy(b[1:], l[:])
	copy(b[1+DigestSize:], r[:])
	return sha256.Sum256(b[:])
}
