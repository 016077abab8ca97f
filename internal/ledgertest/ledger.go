// Package ledgertest provides an in-memory reference ledger and a fake
// transport backed by it. The proof constructions here are written against
// the canonical tree definitions, independently of the walk-based verifiers
// in pkg/ledger, so the two sides genuinely cross-check each other.
package ledgertest

import (
	"math/bits"

	"github.com/veralog-io/veralog-go/pkg/ledger"
)

// Ledger is an append-only in-memory transaction log producing the same
// digests and proofs a real server would. Transaction ids are 1-based.
type Ledger struct {
	headers []*ledger.TxHeader
	alhs    []ledger.Digest
	leaves  []ledger.Digest
	entries [][]ledger.Entry
	now     int64
}

// New returns an empty ledger with a fixed time base so runs are
// deterministic.
func New() *Ledger {
	return &Ledger{now: 1724112000}
}

// Add appends one transaction holding the given entries and returns a copy
// of its header. Panics on an empty entry list; the log has no empty
// transactions.
func (l *Ledger) Add(entries ...ledger.Entry) *ledger.TxHeader {
	digests := make([]ledger.Digest, len(entries))
	for i, e := range entries {
		digests[i] = e.Digest()
	}
	tree, err := ledger.NewHTree(digests)
	if err != nil {
		panic(err)
	}

	id := uint64(len(l.headers)) + 1
	var blRoot, prevAlh ledger.Digest
	if id > 1 {
		blRoot = mth(l.leaves)
		prevAlh = l.alhs[id-2]
	}
	l.now++

	hdr := &ledger.TxHeader{
		ID:       id,
		Ts:       l.now,
		NEntries: len(entries),
		Eh:       tree.Root(),
		BlTxID:   id - 1,
		BlRoot:   blRoot,
		PrevAlh:  prevAlh,
	}
	alh := hdr.Alh()

	l.headers = append(l.headers, hdr)
	l.alhs = append(l.alhs, alh)
	l.leaves = append(l.leaves, ledger.HashLeaf(alh))
	l.entries = append(l.entries, entries)

	h := *hdr
	return &h
}

// Size returns the number of committed transactions.
func (l *Ledger) Size() uint64 {
	return uint64(len(l.headers))
}

// Header returns a copy of the header of txID.
func (l *Ledger) Header(txID uint64) *ledger.TxHeader {
	h := *l.headers[txID-1]
	return &h
}

// Alh returns the accumulated hash at txID.
func (l *Ledger) Alh(txID uint64) ledger.Digest {
	return l.alhs[txID-1]
}

// Entries returns the entries of txID in insertion order.
func (l *Ledger) Entries(txID uint64) []ledger.Entry {
	return l.entries[txID-1]
}

// InclusionProof proves entry entryIndex of txID against the transaction's
// entries tree.
func (l *Ledger) InclusionProof(txID uint64, entryIndex int) *ledger.InclusionProof {
	digests := make([]ledger.Digest, len(l.entries[txID-1]))
	for i, e := range l.entries[txID-1] {
		digests[i] = e.Digest()
	}
	tree, err := ledger.NewHTree(digests)
	if err != nil {
		panic(err)
	}
	proof, err := tree.InclusionProof(entryIndex)
	if err != nil {
		panic(err)
	}
	return proof
}

// LinearProof chains sourceTxID..targetTxID: the accumulated hash at the
// source followed by the inner hash of every following transaction.
func (l *Ledger) LinearProof(sourceTxID, targetTxID uint64) *ledger.LinearProof {
	terms := make([]ledger.Digest, 0, targetTxID-sourceTxID+1)
	terms = append(terms, l.alhs[sourceTxID-1])
	for id := sourceTxID + 1; id <= targetTxID; id++ {
		terms = append(terms, l.headers[id-1].InnerHash())
	}
	return &ledger.LinearProof{
		SourceTxID: sourceTxID,
		TargetTxID: targetTxID,
		Terms:      terms,
	}
}

// DualProof builds the proof tying sourceTxID to targetTxID, exactly as a
// server answering proveSinceTx=sourceTxID would. Requires
// sourceTxID <= targetTxID <= Size().
func (l *Ledger) DualProof(sourceTxID, targetTxID uint64) *ledger.DualProof {
	src := l.Header(sourceTxID)
	tgt := l.Header(targetTxID)

	p := &ledger.DualProof{
		SourceTxHeader: src,
		TargetTxHeader: tgt,
	}

	if sourceTxID < tgt.BlTxID {
		p.InclusionProof = auditPath(l.leaves[:tgt.BlTxID], sourceTxID-1)
	}
	if src.BlTxID > 0 && src.BlTxID < tgt.BlTxID {
		p.ConsistencyProof = consistencyPath(l.leaves[:tgt.BlTxID], src.BlTxID)
	}
	if tgt.BlTxID > 0 {
		p.TargetBlTxAlh = l.alhs[tgt.BlTxID-1]
		p.LastInclusionProof = lastPath(l.leaves[:tgt.BlTxID])
	}

	start := sourceTxID
	if tgt.BlTxID > start {
		start = tgt.BlTxID
	}
	p.LinearProof = l.LinearProof(start, targetTxID)

	return p
}

// split returns the size of the left subtree of a tree with n leaves: the
// largest power of two strictly below n. Requires n >= 2.
func split(n uint64) uint64 {
	return uint64(1) << (bits.Len64(n-1) - 1)
}

// mth computes the canonical left-balanced root over already-hashed leaves.
func mth(d []ledger.Digest) ledger.Digest {
	n := uint64(len(d))
	if n == 1 {
		return d[0]
	}
	k := split(n)
	return ledger.HashNode(mth(d[:k]), mth(d[k:]))
}

// auditPath returns the inclusion path of leaf m (0-based) in d, ordered
// bottom-up.
func auditPath(d []ledger.Digest, m uint64) []ledger.Digest {
	n := uint64(len(d))
	if n == 1 {
		return nil
	}
	k := split(n)
	if m < k {
		return append(auditPath(d[:k], m), mth(d[k:]))
	}
	return append(auditPath(d[k:], m-k), mth(d[:k]))
}

// consistencyPath returns the proof that the first m leaves of d form a
// prefix tree of the whole, ordered bottom-up. The first element is always
// the deepest shared subtree root, even when that subtree is exactly the
// old tree. Requires 0 < m < len(d).
func consistencyPath(d []ledger.Digest, m uint64) []ledger.Digest {
	return subproof(d, m, false)
}

func subproof(d []ledger.Digest, m uint64, complete bool) []ledger.Digest {
	n := uint64(len(d))
	if m == n {
		if !complete {
			return []ledger.Digest{mth(d)}
		}
		return nil
	}
	k := split(n)
	if m <= k {
		return append(subproof(d[:k], m, complete), mth(d[k:]))
	}
	return append(subproof(d[k:], m-k, false), mth(d[:k]))
}

// lastPath returns the inclusion path of the last leaf of d, ordered
// bottom-up. Levels where the last leaf is promoted contribute no term.
func lastPath(d []ledger.Digest) []ledger.Digest {
	n := uint64(len(d))
	if n == 1 {
		return nil
	}
	k := split(n)
	return append(lastPath(d[k:]), mth(d[:k]))
}
