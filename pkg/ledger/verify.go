package ledger

import (
	"encoding/binary"
	"fmt"
)

// VerifyInclusion checks that entryDigest is the leaf the proof points at
// inside a tree with the given root.
//
// The walk combines the running hash with each audit-path sibling, choosing
// the side at every level from the binary representation of the running
// index against the last index at that level. A structurally impossible
// proof (index out of range, path not reaching the root level) is rejected
// as ErrMalformedProof before or during the walk; a completed walk that
// does not reproduce root is ErrTamperDetected.
func VerifyInclusion(proof *InclusionProof, entryDigest, root Digest) error {
	if proof == nil {
		return fmt.Errorf("missing inclusion proof: %w", ErrMalformedProof)
	}
	if proof.TreeSize < 1 {
		return fmt.Errorf("tree size %d: %w", proof.TreeSize, ErrMalformedProof)
	}
	if proof.LeafIndex < 0 || proof.LeafIndex >= proof.TreeSize {
		return fmt.Errorf("leaf %d out of range for tree size %d: %w",
			proof.LeafIndex, proof.TreeSize, ErrMalformedProof)
	}

	calc := HashLeaf(entryDigest)
	i, r := proof.LeafIndex, proof.TreeSize-1
	for _, t := range proof.AuditPath {
		if i%2 == 0 && i != r {
			calc = HashNode(calc, t)
		} else {
			calc = HashNode(t, calc)
		}
		i /= 2
		r /= 2
	}

	if i != r {
		return fmt.Errorf("audit path stops below the root: %w", ErrMalformedProof)
	}
	if calc != root {
		return fmt.Errorf("inclusion proof does not reach the entries root: %w", ErrTamperDetected)
	}
	return nil
}

// VerifyLinearProof checks the alh chain between two transactions. The
// chain must start exactly at sourceAlh and reproduce targetAlh after
// folding in one inner hash per intermediate transaction.
func VerifyLinearProof(proof *LinearProof, sourceTxID, targetTxID uint64, sourceAlh, targetAlh Digest) error {
	if proof == nil || proof.SourceTxID != sourceTxID || proof.TargetTxID != targetTxID {
		return fmt.Errorf("linear proof does not cover txs %d..%d: %w", sourceTxID, targetTxID, ErrMalformedProof)
	}
	if sourceTxID == 0 || sourceTxID > targetTxID {
		return fmt.Errorf("linear proof range %d..%d: %w", sourceTxID, targetTxID, ErrMalformedProof)
	}
	if uint64(len(proof.Terms)) != targetTxID-sourceTxID+1 {
		return fmt.Errorf("linear proof has %d terms for txs %d..%d: %w",
			len(proof.Terms), sourceTxID, targetTxID, ErrMalformedProof)
	}

	if proof.Terms[0] != sourceAlh {
		return fmt.Errorf("linear proof does not start at the trusted alh: %w", ErrTamperDetected)
	}

	calc := proof.Terms[0]
	for i := 1; i < len(proof.Terms); i++ {
		var b [8 + 2*DigestSize]byte
		binary.BigEndian.PutUint64(b[:], sourceTxID+uint64(i))
		copy(b[8:], calc[:])
		copy(b[8+DigestSize:], proof.Terms[i][:])
		calc = DigestOf(b[:])
	}

	if calc != targetAlh {
		return fmt.Errorf("linear proof does not reach the target alh: %w", ErrTamperDetected)
	}
	return nil
}

// VerifyDualProof checks that the state pinned by (sourceTxID, sourceAlh)
// is an append-only prefix of the state pinned by (targetTxID, targetAlh).
// Both alh values must come from trusted local material: the anchor on one
// side, a header recomputed from locally verified data on the other.
func VerifyDualProof(proof *DualProof, sourceTxID, targetTxID uint64, sourceAlh, targetAlh Digest) error {
	if proof == nil || proof.SourceTxHeader == nil || proof.TargetTxHeader == nil {
		return fmt.Errorf("missing dual proof headers: %w", ErrMalformedProof)
	}
	if proof.SourceTxHeader.ID != sourceTxID || proof.TargetTxHeader.ID != targetTxID {
		return fmt.Errorf("dual proof covers txs %d..%d, want %d..%d: %w",
			proof.SourceTxHeader.ID, proof.TargetTxHeader.ID, sourceTxID, targetTxID, ErrMalformedProof)
	}
	if sourceTxID == 0 || sourceTxID > targetTxID {
		return fmt.Errorf("dual proof range %d..%d: %w", sourceTxID, targetTxID, ErrMalformedProof)
	}

	// Both headers must reproduce the trusted digests before anything they
	// claim is used.
	if proof.SourceTxHeader.Alh() != sourceAlh {
		return fmt.Errorf("source header does not match the trusted alh: %w", ErrTamperDetected)
	}
	if proof.TargetTxHeader.Alh() != targetAlh {
		return fmt.Errorf("target header does not match the target alh: %w", ErrTamperDetected)
	}

	// The source alh must be a leaf of the transaction tree the target
	// header binds, when the source precedes that tree's size.
	if sourceTxID < proof.TargetTxHeader.BlTxID {
		if !verifyInclusionAt(proof.InclusionProof, sourceTxID, proof.TargetTxHeader.BlTxID,
			HashLeaf(sourceAlh), proof.TargetTxHeader.BlRoot) {
			return fmt.Errorf("source state is not part of the target transaction tree: %w", ErrTamperDetected)
		}
	}

	// The tree the source header binds must be a prefix of the target's.
	if proof.SourceTxHeader.BlTxID > 0 {
		if !verifyConsistency(proof.ConsistencyProof, proof.SourceTxHeader.BlTxID, proof.TargetTxHeader.BlTxID,
			proof.SourceTxHeader.BlRoot, proof.TargetTxHeader.BlRoot) {
			return fmt.Errorf("transaction tree forked between source and target: %w", ErrTamperDetected)
		}
	}

	// The target tree must really end at BlTxID, pinning TargetBlTxAlh for
	// the linear chain below.
	if proof.TargetTxHeader.BlTxID > 0 {
		if !verifyLastInclusion(proof.LastInclusionProof, proof.TargetTxHeader.BlTxID,
			HashLeaf(proof.TargetBlTxAlh), proof.TargetTxHeader.BlRoot) {
			return fmt.Errorf("target transaction tree does not end at its bound tx: %w", ErrTamperDetected)
		}
	}

	// Chain the remaining span linearly: from the source itself when it is
	// ahead of the target's tree, otherwise from the tree's last pinned tx.
	if sourceTxID < proof.TargetTxHeader.BlTxID {
		return VerifyLinearProof(proof.LinearProof, proof.TargetTxHeader.BlTxID, targetTxID,
			proof.TargetBlTxAlh, targetAlh)
	}
	return VerifyLinearProof(proof.LinearProof, sourceTxID, targetTxID, sourceAlh, targetAlh)
}

// verifyInclusionAt walks an audit path for the leaf of transaction i in
// the transaction tree of size j. Transaction ids are 1-based.
func verifyInclusionAt(path []Digest, i, j uint64, leaf, root Digest) bool {
	if i == 0 || i > j || (i < j && len(path) == 0) {
		return false
	}

	i1, j1 := i-1, j-1
	calc := leaf
	for _, t := range path {
		if i1%2 == 0 && i1 != j1 {
			calc = HashNode(calc, t)
		} else {
			calc = HashNode(t, calc)
		}
		i1 >>= 1
		j1 >>= 1
	}
	return i1 == j1 && calc == root
}

// verifyConsistency checks that the transaction tree of size i (root iRoot)
// is a prefix of the tree of size j (root jRoot). The path always opens
// with the subtree root both reconstructions grow from; the cursor pair
// (fn, sn) tracks the node the old and new walk sit on, with trailing odd
// levels of the old index stripped first.
func verifyConsistency(path []Digest, i, j uint64, iRoot, jRoot Digest) bool {
	if i > j || i == 0 || (i < j && len(path) == 0) {
		return false
	}
	if i == j {
		return len(path) == 0 && iRoot == jRoot
	}

	fn, sn := i-1, j-1
	for fn%2 == 1 {
		fn >>= 1
		sn >>= 1
	}

	ci, cj := path[0], path[0]
	for _, t := range path[1:] {
		if sn == 0 {
			return false
		}
		if fn%2 == 1 || fn == sn {
			ci = HashNode(t, ci)
			cj = HashNode(t, cj)
			for fn%2 == 0 && fn != 0 {
				fn >>= 1
				sn >>= 1
			}
		} else {
			cj = HashNode(cj, t)
		}
		fn >>= 1
		sn >>= 1
	}

	return ci == iRoot && cj == jRoot && sn == 0
}

// verifyLastInclusion checks that leaf is the digest of the last
// transaction (id i) of a transaction tree with the given root. The last
// leaf only ever combines from the left; promoted levels consume no term.
func verifyLastInclusion(path []Digest, i uint64, leaf, root Digest) bool {
	if i == 0 {
		return false
	}

	i1 := i - 1
	calc := leaf
	for _, t := range path {
		if i1 == 0 {
			return false
		}
		for i1%2 == 0 {
			i1 >>= 1
		}
		calc = HashNode(t, calc)
		i1 >>= 1
	}
	return i1 == 0 && calc == root
}
