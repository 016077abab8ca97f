package client

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/veralog-io/veralog-go/pkg/ledger"
	"github.com/veralog-io/veralog-go/pkg/schema"
	"github.com/veralog-io/veralog-go/pkg/state"
)

// VerifiedEntry is a read result whose binding to the append-only history
// has been checked locally. Verified is always true on a non-error return;
// it exists so results can be passed on with their provenance attached.
type VerifiedEntry struct {
	Key          []byte
	Value        []byte
	Tx           uint64
	Revision     uint64
	ReferencedBy *schema.Reference
	Verified     bool
}

// VerifiedGet reads the current value of key and verifies it: the entry's
// digest is recomputed locally, its inclusion in the transaction checked,
// and the transaction tied to the trust anchor with a dual proof. On
// success the anchor covers the read.
//
// When key is an alias resolved without a transaction pin, the proof covers
// the alias entry; the target value is the server's resolution of it.
func (c *Client) VerifiedGet(ctx context.Context, key []byte) (*VerifiedEntry, error) {
	return c.verifiedGet(ctx, &schema.KeyRequest{Key: key})
}

// VerifiedGetAt is VerifiedGet pinned to the revision written in
// transaction atTx.
func (c *Client) VerifiedGetAt(ctx context.Context, key []byte, atTx uint64) (*VerifiedEntry, error) {
	return c.verifiedGet(ctx, &schema.KeyRequest{Key: key, AtTx: atTx})
}

// VerifiedGetSince is VerifiedGet that requires the server to have reached
// transaction sinceTx before resolving.
func (c *Client) VerifiedGetSince(ctx context.Context, key []byte, sinceTx uint64) (*VerifiedEntry, error) {
	return c.verifiedGet(ctx, &schema.KeyRequest{Key: key, SinceTx: sinceTx})
}

func (c *Client) verifiedGet(ctx context.Context, kr *schema.KeyRequest) (entry *VerifiedEntry, err error) {
	start := time.Now()
	defer func() { recordVerifiedOp("get", start, err) }()

	anchor, db, err := c.anchor(ctx)
	if err != nil {
		return nil, err
	}

	resp := &schema.VerifiableEntry{}
	if err := c.invoke(ctx, schema.MethodVerifiableGet, &schema.VerifiableGetRequest{
		KeyRequest:   kr,
		ProveSinceTx: anchor.TxID,
	}, resp); err != nil {
		return nil, fmt.Errorf("verifiable get: %w", err)
	}
	if resp.Entry == nil || resp.VerifiableTx == nil {
		return nil, fmt.Errorf("incomplete verifiable entry: %w", ledger.ErrMalformedProof)
	}

	dp, err := resp.VerifiableTx.DualProof.Decode()
	if err != nil {
		return nil, err
	}
	ip, err := resp.InclusionProof.Decode()
	if err != nil {
		return nil, err
	}

	// The proven leaf is the alias entry when the lookup went through a
	// reference, the key/value entry itself otherwise.
	var leaf ledger.Entry
	vTx := resp.Entry.Tx
	if rb := resp.Entry.ReferencedBy; rb != nil {
		vTx = rb.Tx
		leaf = &ledger.Reference{Key: rb.Key, ReferredKey: resp.Entry.Key, AtTx: rb.AtTx}
	} else {
		leaf = &ledger.KV{Key: resp.Entry.Key, Value: resp.Entry.Value}
	}

	eh, sourceID, targetID, sourceAlh, targetAlh := splitDualProof(dp, anchor, vTx)

	if err := ledger.VerifyInclusion(ip, leaf.Digest(), eh); err != nil {
		return nil, err
	}
	if anchor.TxID > 0 {
		if err := ledger.VerifyDualProof(dp, sourceID, targetID, sourceAlh, targetAlh); err != nil {
			return nil, err
		}
	}

	if err := c.commitAnchor(ctx, db, anchor.TxID, targetID, targetAlh, resp.VerifiableTx.Signature); err != nil {
		return nil, err
	}

	return &VerifiedEntry{
		Key:          resp.Entry.Key,
		Value:        resp.Entry.Value,
		Tx:           resp.Entry.Tx,
		Revision:     resp.Entry.Revision,
		ReferencedBy: resp.Entry.ReferencedBy,
		Verified:     true,
	}, nil
}

// VerifiedSet writes one key/value pair and verifies the commit before
// returning: the new transaction must include the entry exactly as written
// and must extend the history the trust anchor pins.
func (c *Client) VerifiedSet(ctx context.Context, key, value []byte) (*ledger.TxHeader, error) {
	return c.VerifiedSetAll(ctx, &schema.KeyValue{Key: key, Value: value})
}

// VerifiedSetAll is VerifiedSet for several pairs in one transaction.
// Every written pair is individually checked for inclusion.
func (c *Client) VerifiedSetAll(ctx context.Context, kvs ...*schema.KeyValue) (hdr *ledger.TxHeader, err error) {
	start := time.Now()
	defer func() { recordVerifiedOp("set", start, err) }()

	if len(kvs) == 0 {
		return nil, fmt.Errorf("no key-value pairs")
	}
	own := make([]ledger.Entry, len(kvs))
	for i, kv := range kvs {
		if kv == nil {
			return nil, fmt.Errorf("nil key-value pair")
		}
		own[i] = &ledger.KV{Key: kv.Key, Value: kv.Value}
	}

	anchor, db, err := c.anchor(ctx)
	if err != nil {
		return nil, err
	}

	resp := &schema.VerifiableTx{}
	if err := c.invoke(ctx, schema.MethodVerifiableSet, &schema.VerifiableSetRequest{
		SetRequest:   &schema.SetRequest{KVs: kvs},
		ProveSinceTx: anchor.TxID,
	}, resp); err != nil {
		return nil, fmt.Errorf("verifiable set: %w", err)
	}

	return c.verifyWriteTx(ctx, db, anchor, resp, own)
}

// VerifiedSetReference aliases key to referredKey and verifies the commit.
func (c *Client) VerifiedSetReference(ctx context.Context, key, referredKey []byte) (*ledger.TxHeader, error) {
	return c.VerifiedSetReferenceAt(ctx, key, referredKey, 0)
}

// VerifiedSetReferenceAt is VerifiedSetReference pinning the alias to the
// referred entry as of transaction atTx.
func (c *Client) VerifiedSetReferenceAt(ctx context.Context, key, referredKey []byte, atTx uint64) (hdr *ledger.TxHeader, err error) {
	start := time.Now()
	defer func() { recordVerifiedOp("set_reference", start, err) }()

	anchor, db, err := c.anchor(ctx)
	if err != nil {
		return nil, err
	}

	resp := &schema.VerifiableTx{}
	if err := c.invoke(ctx, schema.MethodVerifiableSetReference, &schema.VerifiableReferenceRequest{
		ReferenceRequest: &schema.ReferenceRequest{Key: key, ReferredKey: referredKey, AtTx: atTx},
		ProveSinceTx:     anchor.TxID,
	}, resp); err != nil {
		return nil, fmt.Errorf("verifiable set reference: %w", err)
	}

	own := []ledger.Entry{&ledger.Reference{Key: key, ReferredKey: referredKey, AtTx: atTx}}
	return c.verifyWriteTx(ctx, db, anchor, resp, own)
}

// VerifiedZAdd scores key inside the sorted set and verifies the commit.
func (c *Client) VerifiedZAdd(ctx context.Context, set []byte, score float64, key []byte) (*ledger.TxHeader, error) {
	return c.VerifiedZAddAt(ctx, set, score, key, 0)
}

// VerifiedZAddAt is VerifiedZAdd binding the member to its revision at
// transaction atTx.
func (c *Client) VerifiedZAddAt(ctx context.Context, set []byte, score float64, key []byte, atTx uint64) (hdr *ledger.TxHeader, err error) {
	start := time.Now()
	defer func() { recordVerifiedOp("zadd", start, err) }()

	anchor, db, err := c.anchor(ctx)
	if err != nil {
		return nil, err
	}

	resp := &schema.VerifiableTx{}
	if err := c.invoke(ctx, schema.MethodVerifiableZAdd, &schema.VerifiableZAddRequest{
		ZAddRequest:  &schema.ZAddRequest{Set: set, Score: score, Key: key, AtTx: atTx},
		ProveSinceTx: anchor.TxID,
	}, resp); err != nil {
		return nil, fmt.Errorf("verifiable zadd: %w", err)
	}

	own := []ledger.Entry{&ledger.ZEntry{Set: set, Key: key, Score: score, AtTx: atTx}}
	return c.verifyWriteTx(ctx, db, anchor, resp, own)
}

// VerifiedTxByID fetches a transaction by id and verifies it against the
// trust anchor. This is the auditor's primitive: it works for transactions
// this client never wrote, and for ids both before and after the anchor.
func (c *Client) VerifiedTxByID(ctx context.Context, txID uint64) (tx *schema.Tx, err error) {
	start := time.Now()
	defer func() { recordVerifiedOp("tx_by_id", start, err) }()

	anchor, db, err := c.anchor(ctx)
	if err != nil {
		return nil, err
	}

	resp := &schema.VerifiableTx{}
	if err := c.invoke(ctx, schema.MethodVerifiableTxByID, &schema.VerifiableTxRequest{
		Tx:           txID,
		ProveSinceTx: anchor.TxID,
	}, resp); err != nil {
		return nil, fmt.Errorf("verifiable tx %d: %w", txID, err)
	}

	dp, err := resp.DualProof.Decode()
	if err != nil {
		return nil, err
	}

	_, sourceID, targetID, sourceAlh, targetAlh := splitDualProof(dp, anchor, txID)

	// Tie the returned transaction to the proof: its entry digests must
	// rebuild the entries root, and the header must reproduce the alh the
	// dual proof establishes for txID.
	hdr, err := decodeProvenTx(resp.Tx)
	if err != nil {
		return nil, err
	}
	provenAlh := targetAlh
	if anchor.TxID > txID {
		provenAlh = sourceAlh
	}
	if hdr.Alh() != provenAlh {
		return nil, fmt.Errorf("transaction does not match its proof: %w", ledger.ErrTamperDetected)
	}

	if anchor.TxID > 0 {
		if err := ledger.VerifyDualProof(dp, sourceID, targetID, sourceAlh, targetAlh); err != nil {
			return nil, err
		}
	}

	if err := c.commitAnchor(ctx, db, anchor.TxID, targetID, targetAlh, resp.Signature); err != nil {
		return nil, err
	}
	return resp.Tx, nil
}

// verifyWriteTx checks a write response end to end. The server's claimed
// entry digests must rebuild the entries root the dual proof binds, every
// entry this client wrote must be included with its locally recomputed
// digest, and the dual proof must chain the anchor to the new transaction.
func (c *Client) verifyWriteTx(ctx context.Context, db string, anchor *state.TrustState, resp *schema.VerifiableTx, own []ledger.Entry) (*ledger.TxHeader, error) {
	dp, err := resp.DualProof.Decode()
	if err != nil {
		return nil, err
	}
	if resp.Tx == nil {
		return nil, fmt.Errorf("missing transaction: %w", ledger.ErrMalformedProof)
	}
	hdr, err := resp.Tx.Header.Decode()
	if err != nil {
		return nil, err
	}
	digests, err := resp.Tx.EntryDigests()
	if err != nil {
		return nil, err
	}
	tree, err := ledger.NewHTree(digests)
	if err != nil {
		return nil, err
	}

	// The header's claimed entries root is replaced by the rebuilt one; a
	// server lying about any digest now has to defeat the dual proof.
	hdr.Eh = tree.Root()
	if hdr.Eh != dp.TargetTxHeader.Eh {
		return nil, fmt.Errorf("entries root does not match the proof header: %w", ledger.ErrTamperDetected)
	}

	for _, e := range own {
		idx := entryIndexByKey(resp.Tx.Entries, entryKey(e))
		if idx < 0 {
			return nil, fmt.Errorf("written entry missing from transaction: %w", ledger.ErrTamperDetected)
		}
		proof, err := tree.InclusionProof(idx)
		if err != nil {
			return nil, err
		}
		if err := ledger.VerifyInclusion(proof, e.Digest(), tree.Root()); err != nil {
			return nil, err
		}
	}

	targetAlh := hdr.Alh()
	if anchor.TxID > 0 {
		if err := ledger.VerifyDualProof(dp, anchor.TxID, hdr.ID, anchor.TxHash, targetAlh); err != nil {
			return nil, err
		}
	}

	if err := c.commitAnchor(ctx, db, anchor.TxID, hdr.ID, targetAlh, resp.Signature); err != nil {
		return nil, err
	}
	return hdr, nil
}

// splitDualProof orients a dual proof around the proven transaction vTx:
// vTx is the target when the anchor is at or behind it, and the source when
// the anchor is already ahead. eh is the entries root on vTx's side.
func splitDualProof(dp *ledger.DualProof, anchor *state.TrustState, vTx uint64) (eh ledger.Digest, sourceID, targetID uint64, sourceAlh, targetAlh ledger.Digest) {
	if anchor.TxID <= vTx {
		eh = dp.TargetTxHeader.Eh
		sourceID, sourceAlh = anchor.TxID, anchor.TxHash
		targetID, targetAlh = vTx, dp.TargetTxHeader.Alh()
		return
	}
	eh = dp.SourceTxHeader.Eh
	sourceID, sourceAlh = vTx, dp.SourceTxHeader.Alh()
	targetID, targetAlh = anchor.TxID, anchor.TxHash
	return
}

// decodeProvenTx decodes a transaction and replaces its claimed entries
// root with the one rebuilt from its entry digests.
func decodeProvenTx(tx *schema.Tx) (*ledger.TxHeader, error) {
	if tx == nil {
		return nil, fmt.Errorf("missing transaction: %w", ledger.ErrMalformedProof)
	}
	hdr, err := tx.Header.Decode()
	if err != nil {
		return nil, err
	}
	digests, err := tx.EntryDigests()
	if err != nil {
		return nil, err
	}
	tree, err := ledger.NewHTree(digests)
	if err != nil {
		return nil, err
	}
	hdr.Eh = tree.Root()
	return hdr, nil
}

// entryKey returns the key an entry is addressed by inside its
// transaction, mirroring what the server reports in TxEntry.Key.
func entryKey(e ledger.Entry) []byte {
	switch e := e.(type) {
	case *ledger.KV:
		return e.Key
	case *ledger.Reference:
		return e.Key
	case *ledger.ZEntry:
		return e.Key
	}
	return nil
}

func entryIndexByKey(entries []*schema.TxEntry, key []byte) int {
	for i, e := range entries {
		if e != nil && bytes.Equal(e.Key, key) {
			return i
		}
	}
	return -1
}
