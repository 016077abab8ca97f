package ledger

import "fmt"

// HTree is the Merkle tree over one transaction's entry digests. Clients
// rebuild it locally from entry digests they recomputed (or that the chain
// of proofs pins down) and compare its root against the Eh a transaction
// header claims; the header's claim itself is never taken at face value.
//
// The tree is the canonical left-balanced construction: nodes pair up level
// by level and an unpaired last node is promoted unchanged, which yields
// the same roots as splitting at the largest power of two below the size.
type HTree struct {
	levels [][]Digest
	width  int
	root   Digest
}

// NewHTree builds the tree for the given entry digests, in entry order.
func NewHTree(digests []Digest) (*HTree, error) {
	if len(digests) == 0 {
		return nil, fmt.Errorf("empty transaction: %w", ErrMalformedProof)
	}

	leaves := make([]Digest, len(digests))
	for i, d := range digests {
		leaves[i] = HashLeaf(d)
	}

	t := &HTree{
		levels: [][]Digest{leaves},
		width:  len(digests),
	}

	for n := len(leaves); n > 1; n = (n + 1) / 2 {
		level := t.levels[len(t.levels)-1]
		next := make([]Digest, 0, (n+1)/2)
		for i := 0; i+1 < n; i += 2 {
			next = append(next, HashNode(level[i], level[i+1]))
		}
		if n%2 == 1 {
			next = append(next, level[n-1])
		}
		t.levels = append(t.levels, next)
	}

	t.root = t.levels[len(t.levels)-1][0]
	return t, nil
}

// Root returns the tree root. For a single entry this is the leaf node
// itself.
func (t *HTree) Root() Digest {
	return t.root
}

// Width returns the number of leaves.
func (t *HTree) Width() int {
	return t.width
}

// InclusionProof returns the audit path for the leaf at the given index,
// ordered bottom-up. Promoted nodes contribute no term.
func (t *HTree) InclusionProof(leaf int) (*InclusionProof, error) {
	if leaf < 0 || leaf >= t.width {
		return nil, fmt.Errorf("leaf %d out of range for width %d: %w", leaf, t.width, ErrMalformedProof)
	}

	proof := &InclusionProof{
		LeafIndex: leaf,
		TreeSize:  t.width,
	}

	m, n := leaf, t.width
	for l := 0; n > 1; l++ {
		switch {
		case m%2 == 1:
			proof.AuditPath = append(proof.AuditPath, t.levels[l][m-1])
		case m+1 < n:
			proof.AuditPath = append(proof.AuditPath, t.levels[l][m+1])
		}
		m /= 2
		n = (n + 1) / 2
	}
	return proof, nil
}
