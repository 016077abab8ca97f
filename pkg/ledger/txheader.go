package ledger

import "encoding/binary"

// TxHeader is the committed metadata of one transaction. IDs start at 1 and
// grow by one per commit; the zero digest stands in for the alh before the
// first transaction.
type TxHeader struct {
	// ID is the transaction id.
	ID uint64

	// Ts is the commit timestamp in unix seconds.
	Ts int64

	// NEntries is the number of entries in the transaction.
	NEntries int

	// Eh is the Merkle root over the transaction's entry digests.
	Eh Digest

	// BlTxID and BlRoot bind the header to the global transaction tree:
	// BlRoot is the tree root over the alh leaves of transactions 1..BlTxID,
	// with BlTxID = ID-1 for an honestly committed transaction.
	BlTxID uint64
	BlRoot Digest

	// PrevAlh is the accumulated linear hash of the previous transaction.
	PrevAlh Digest
}

// Alh returns the accumulated linear hash as of this transaction:
//
//	alh = H(id ‖ prevAlh ‖ innerHash)
//
// Every trust anchor pins one of these values; a header that cannot
// reproduce the pinned alh has been tampered with.
func (h *TxHeader) Alh() Digest {
	var b [8 + 2*DigestSize]byte
	binary.BigEndian.PutUint64(b[:], h.ID)
	copy(b[8:], h.PrevAlh[:])
	inner := h.InnerHash()
	copy(b[8+DigestSize:], inner[:])
	return DigestOf(b[:])
}

// InnerHash covers the header fields outside the linear chain itself:
//
//	H(ts ‖ nentries ‖ eh ‖ blTxID ‖ blRoot)
//
// Linear proofs carry one inner hash per chained transaction.
func (h *TxHeader) InnerHash() Digest {
	var b [8 + 4 + DigestSize + 8 + DigestSize]byte
	binary.BigEndian.PutUint64(b[:], uint64(h.Ts))
	binary.BigEndian.PutUint32(b[8:], uint32(h.NEntries))
	copy(b[12:], h.Eh[:])
	binary.BigEndian.PutUint64(b[12+DigestSize:], h.BlTxID)
	copy(b[20+DigestSize:], h.BlRoot[:])
	return DigestOf(b[:])
}
