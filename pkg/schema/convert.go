package schema

import (
	"fmt"

	"github.com/veralog-io/veralog-go/pkg/ledger"
)

// digestField decodes an optional digest field: absent means the zero
// digest, any other width than ledger.DigestSize is malformed.
func digestField(b []byte) (ledger.Digest, error) {
	if len(b) == 0 {
		return ledger.Digest{}, nil
	}
	return ledger.DigestFromBytes(b)
}

// digestTerms decodes a proof path; every term must be a full digest.
func digestTerms(terms [][]byte) ([]ledger.Digest, error) {
	out := make([]ledger.Digest, len(terms))
	for i, t := range terms {
		d, err := ledger.DigestFromBytes(t)
		if err != nil {
			return nil, fmt.Errorf("term %d: %w", i, err)
		}
		out[i] = d
	}
	return out, nil
}

// Decode converts the wire header into its verifier form.
func (h *TxHeader) Decode() (*ledger.TxHeader, error) {
	if h == nil {
		return nil, fmt.Errorf("missing tx header: %w", ledger.ErrMalformedProof)
	}
	if h.Nentries < 0 {
		return nil, fmt.Errorf("nentries %d: %w", h.Nentries, ledger.ErrMalformedProof)
	}
	prevAlh, err := digestField(h.PrevAlh)
	if err != nil {
		return nil, fmt.Errorf("prevAlh: %w", err)
	}
	eh, err := digestField(h.EH)
	if err != nil {
		return nil, fmt.Errorf("eH: %w", err)
	}
	blRoot, err := digestField(h.BlRoot)
	if err != nil {
		return nil, fmt.Errorf("blRoot: %w", err)
	}
	return &ledger.TxHeader{
		ID:       h.ID,
		Ts:       h.Ts,
		NEntries: h.Nentries,
		Eh:       eh,
		BlTxID:   h.BlTxID,
		BlRoot:   blRoot,
		PrevAlh:  prevAlh,
	}, nil
}

// Decode converts the wire inclusion proof into its verifier form.
func (p *InclusionProof) Decode() (*ledger.InclusionProof, error) {
	if p == nil {
		return nil, fmt.Errorf("missing inclusion proof: %w", ledger.ErrMalformedProof)
	}
	path, err := digestTerms(p.Terms)
	if err != nil {
		return nil, fmt.Errorf("inclusion proof: %w", err)
	}
	return &ledger.InclusionProof{
		LeafIndex: p.Leaf,
		TreeSize:  p.Width,
		AuditPath: path,
	}, nil
}

// Decode converts the wire linear proof into its verifier form.
func (p *LinearProof) Decode() (*ledger.LinearProof, error) {
	if p == nil {
		return nil, fmt.Errorf("missing linear proof: %w", ledger.ErrMalformedProof)
	}
	terms, err := digestTerms(p.Terms)
	if err != nil {
		return nil, fmt.Errorf("linear proof: %w", err)
	}
	return &ledger.LinearProof{
		SourceTxID: p.SourceTxID,
		TargetTxID: p.TargetTxID,
		Terms:      terms,
	}, nil
}

// Decode converts the wire dual proof into its verifier form. Both headers
// and the linear proof must be present.
func (p *DualProof) Decode() (*ledger.DualProof, error) {
	if p == nil {
		return nil, fmt.Errorf("missing dual proof: %w", ledger.ErrMalformedProof)
	}
	src, err := p.SourceTxHeader.Decode()
	if err != nil {
		return nil, fmt.Errorf("source header: %w", err)
	}
	tgt, err := p.TargetTxHeader.Decode()
	if err != nil {
		return nil, fmt.Errorf("target header: %w", err)
	}
	incl, err := digestTerms(p.InclusionProof)
	if err != nil {
		return nil, fmt.Errorf("inclusion path: %w", err)
	}
	cons, err := digestTerms(p.ConsistencyProof)
	if err != nil {
		return nil, fmt.Errorf("consistency path: %w", err)
	}
	last, err := digestTerms(p.LastInclusionProof)
	if err != nil {
		return nil, fmt.Errorf("last inclusion path: %w", err)
	}
	blAlh, err := digestField(p.TargetBlTxAlh)
	if err != nil {
		return nil, fmt.Errorf("targetBlTxAlh: %w", err)
	}
	lin, err := p.LinearProof.Decode()
	if err != nil {
		return nil, err
	}
	return &ledger.DualProof{
		SourceTxHeader:     src,
		TargetTxHeader:     tgt,
		InclusionProof:     incl,
		ConsistencyProof:   cons,
		TargetBlTxAlh:      blAlh,
		LastInclusionProof: last,
		LinearProof:        lin,
	}, nil
}

// EntryDigests decodes the digests of a transaction's entries in order.
// The count must match what the header claims.
func (t *Tx) EntryDigests() ([]ledger.Digest, error) {
	if t == nil || t.Header == nil {
		return nil, fmt.Errorf("missing transaction: %w", ledger.ErrMalformedProof)
	}
	if len(t.Entries) != t.Header.Nentries {
		return nil, fmt.Errorf("transaction carries %d entries, header claims %d: %w",
			len(t.Entries), t.Header.Nentries, ledger.ErrMalformedProof)
	}
	out := make([]ledger.Digest, len(t.Entries))
	for i, e := range t.Entries {
		if e == nil {
			return nil, fmt.Errorf("entry %d missing: %w", i, ledger.ErrMalformedProof)
		}
		d, err := ledger.DigestFromBytes(e.Digest)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		out[i] = d
	}
	return out, nil
}
