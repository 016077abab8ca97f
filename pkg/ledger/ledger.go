// Package ledger implements the client-side verification engine for the
// VeraLog append-only transaction log.
//
// The server commits writes as transactions. Every transaction carries a
// Merkle root over its entry digests (Eh) and an accumulated linear hash
// (Alh) chaining its header to the whole history before it. Committed
// transaction Alh values are additionally collected into a global
// transaction tree whose per-size roots (BlRoot) let two states separated
// in time be proven consistent.
//
// Nothing in this package trusts a server-supplied digest: callers recompute
// entry digests from raw data with the Entry variants, then check the
// server's proofs against the recomputed values. VerifyInclusion binds an
// entry to a transaction, VerifyDualProof binds two transaction states to
// one append-only history.
//
// All verification is pure computation and safe for concurrent use.
package ledger

import "errors"

// ErrTamperDetected means a recomputed digest, an inclusion proof, or a
// dual proof did not match the data the server returned. It is the
// security-critical signal: the log was forked, rewritten, or the response
// was modified in flight. Never retried automatically.
var ErrTamperDetected = errors.New("tampering detected")

// ErrMalformedProof means a proof or transaction header is structurally
// invalid (index out of range, missing fields, wrong digest width). A
// protocol defect rather than a tamper signal, but it still aborts the call.
var ErrMalformedProof = errors.New("malformed proof")
