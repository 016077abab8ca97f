package ledger

import (
	"encoding/binary"
	"math"
)

// Tag bytes open every entry preimage. Distinct tags make the three
// encodings collision-free by construction.
const (
	plainTag     byte = 0x00
	referenceTag byte = 0x01
	zsetTag      byte = 0x02
)

// Entry is one write in a transaction. The three variants — KV, Reference,
// ZEntry — each carry their own canonical encoding. Orchestrators resolve
// the variant once, at the response boundary, and only the locally
// recomputed Digest flows into verification.
type Entry interface {
	// Digest returns the canonical digest of the entry. Deterministic:
	// identical logical content always digests identically. Variable-width
	// fields are length-prefixed so no two distinct entries share a
	// preimage through concatenation.
	Digest() Digest
}

// KV is a plain key/value entry.
type KV struct {
	Key   []byte
	Value []byte
}

// Digest implements Entry. The preimage covers the key and the hash of the
// value, so the digest can also be recomputed when only the value hash is
// at hand.
func (e *KV) Digest() Digest {
	hval := DigestOf(e.Value)
	b := make([]byte, 0, 1+8+len(e.Key)+DigestSize)
	b = append(b, plainTag)
	b = binary.BigEndian.AppendUint64(b, uint64(len(e.Key)))
	b = append(b, e.Key...)
	b = append(b, hval[:]...)
	return DigestOf(b)
}

// Reference aliases Key to the value ReferredKey held as of transaction
// AtTx (0 meaning the latest version).
type Reference struct {
	Key         []byte
	ReferredKey []byte
	AtTx        uint64
}

// Digest implements Entry.
func (e *Reference) Digest() Digest {
	b := make([]byte, 0, 1+8+len(e.Key)+8+len(e.ReferredKey)+8)
	b = append(b, referenceTag)
	b = binary.BigEndian.AppendUint64(b, uint64(len(e.Key)))
	b = append(b, e.Key...)
	b = binary.BigEndian.AppendUint64(b, uint64(len(e.ReferredKey)))
	b = append(b, e.ReferredKey...)
	b = binary.BigEndian.AppendUint64(b, e.AtTx)
	return DigestOf(b)
}

// ZEntry scores Key inside the sorted set Set, binding the score to the key
// version at AtTx.
type ZEntry struct {
	Set   []byte
	Key   []byte
	Score float64
	AtTx  uint64
}

// Digest implements Entry. The score contributes its IEEE-754 bit pattern
// so every distinct float value, including negative zero, encodes uniquely.
func (e *ZEntry) Digest() Digest {
	b := make([]byte, 0, 1+8+len(e.Set)+8+8+len(e.Key)+8)
	b = append(b, zsetTag)
	b = binary.BigEndian.AppendUint64(b, uint64(len(e.Set)))
	b = append(b, e.Set...)
	b = binary.BigEndian.AppendUint64(b, math.Float64bits(e.Score))
	b = binary.BigEndian.AppendUint64(b, uint64(len(e.Key)))
	b = append(b, e.Key...)
	b = binary.BigEndian.AppendUint64(b, e.AtTx)
	return DigestOf(b)
}
