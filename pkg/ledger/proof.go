package ledger

// InclusionProof proves that the leaf at LeafIndex is present in a tree of
// TreeSize leaves with a claimed root. The audit path holds one sibling per
// combining level, ordered bottom-up; levels where the running node was
// promoted contribute nothing.
//
// The type deliberately carries no digest of the proven entry: callers pass
// the locally recomputed digest to VerifyInclusion instead.
type InclusionProof struct {
	LeafIndex int
	TreeSize  int
	AuditPath []Digest
}

// LinearProof chains the accumulated linear hash from SourceTxID up to
// TargetTxID. Terms[0] is the alh at SourceTxID; every following term is
// the inner hash of the next transaction, so the chain has exactly
// TargetTxID-SourceTxID+1 terms.
type LinearProof struct {
	SourceTxID uint64
	TargetTxID uint64
	Terms      []Digest
}

// DualProof proves that the state at SourceTxHeader is an append-only
// prefix of the state at TargetTxHeader. It combines:
//
//   - InclusionProof: the source alh leaf sits in the transaction tree of
//     size TargetTxHeader.BlTxID (present when the source precedes it),
//   - ConsistencyProof: the tree at SourceTxHeader.BlTxID is a prefix of
//     the tree at TargetTxHeader.BlTxID,
//   - LastInclusionProof with TargetBlTxAlh: the transaction tree the
//     target header binds really ends at transaction TargetTxHeader.BlTxID,
//   - LinearProof: the alh chain from the later of source tx and
//     TargetTxHeader.BlTxID up to the target tx.
//
// VerifyDualProof checks all of them against the two trusted alh values.
type DualProof struct {
	SourceTxHeader     *TxHeader
	TargetTxHeader     *TxHeader
	InclusionProof     []Digest
	ConsistencyProof   []Digest
	TargetBlTxAlh      Digest
	LastInclusionProof []Digest
	LinearProof        *LinearProof
}
