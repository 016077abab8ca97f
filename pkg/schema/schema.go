// Package schema defines the wire types of the VeraLog gRPC API and their
// validated conversion into the verifier types of pkg/ledger.
//
// Digest-valued fields travel as base64 []byte. Decoding enforces that every
// digest is either absent (the zero digest) or exactly 32 bytes wide; anything
// else is a malformed proof, never a verification failure.
package schema

// LoginRequest authenticates a user session.
type LoginRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

// LoginResponse carries the session token and an optional server warning,
// typically about an expiring password.
type LoginResponse struct {
	Token   string `json:"token"`
	Warning string `json:"warning,omitempty"`
}

// LogoutRequest terminates the current session.
type LogoutRequest struct{}

// LogoutResponse is empty.
type LogoutResponse struct{}

// UseDatabaseRequest selects the logical database for the session.
type UseDatabaseRequest struct {
	Database string `json:"database"`
}

// UseDatabaseReply may rotate the session token when the server scopes
// tokens per database.
type UseDatabaseReply struct {
	Token string `json:"token,omitempty"`
}

// CurrentStateRequest asks for the server's head state of the selected
// database.
type CurrentStateRequest struct{}

// LedgerState is the server-claimed head of one database: its latest
// transaction id and accumulated hash, optionally signed.
type LedgerState struct {
	Database  string     `json:"db,omitempty"`
	TxID      uint64     `json:"txId"`
	TxHash    []byte     `json:"txHash,omitempty"`
	Signature *Signature `json:"signature,omitempty"`
}

// Signature is an ECDSA signature (ASN.1 DER) over u64(txId) ‖ txHash.
// PublicKey, when present, is advisory only; verification always uses the
// locally configured key.
type Signature struct {
	Signature []byte `json:"signature,omitempty"`
	PublicKey []byte `json:"publicKey,omitempty"`
}

// HealthRequest probes the application-level health endpoint.
type HealthRequest struct{}

// HealthResponse reports server status and version.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// KeyRequest addresses one key, optionally pinned to a transaction (AtTx)
// or to the first transaction at or after SinceTx.
type KeyRequest struct {
	Key     []byte `json:"key"`
	AtTx    uint64 `json:"atTx,omitempty"`
	SinceTx uint64 `json:"sinceTx,omitempty"`
}

// KeyValue is one key/value pair of a write.
type KeyValue struct {
	Key   []byte `json:"key"`
	Value []byte `json:"value"`
}

// SetRequest writes one or more key/value pairs in a single transaction.
type SetRequest struct {
	KVs []*KeyValue `json:"kvs"`
}

// ReferenceRequest binds Key as an alias of ReferredKey. AtTx pins the
// referred entry to a specific transaction; zero references the latest.
type ReferenceRequest struct {
	Key         []byte `json:"key"`
	ReferredKey []byte `json:"referredKey"`
	AtTx        uint64 `json:"atTx,omitempty"`
}

// ZAddRequest adds Key to the sorted set Set with the given score. AtTx
// pins the member entry to a specific transaction; zero references the
// latest.
type ZAddRequest struct {
	Set   []byte  `json:"set"`
	Score float64 `json:"score"`
	Key   []byte  `json:"key"`
	AtTx  uint64  `json:"atTx,omitempty"`
}

// HistoryRequest lists the revisions of one key.
type HistoryRequest struct {
	Key    []byte `json:"key"`
	Offset uint64 `json:"offset,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Desc   bool   `json:"desc,omitempty"`
}

// Entry is one resolved key/value as stored in a transaction. When a lookup
// went through a reference, ReferencedBy describes the alias entry that was
// followed.
type Entry struct {
	Tx           uint64     `json:"tx"`
	Key          []byte     `json:"key"`
	Value        []byte     `json:"value,omitempty"`
	ReferencedBy *Reference `json:"referencedBy,omitempty"`
	Revision     uint64     `json:"revision,omitempty"`
}

// Reference describes an alias entry: the alias key, the transaction it was
// written in, and the transaction it pins its target to (zero = unbound).
type Reference struct {
	Tx   uint64 `json:"tx"`
	Key  []byte `json:"key"`
	AtTx uint64 `json:"atTx"`
}

// Entries is a list of entries, as returned by History.
type Entries struct {
	Entries []*Entry `json:"entries"`
}

// TxHeader is the wire form of a transaction header. Digest fields may be
// absent when their value is the zero digest.
type TxHeader struct {
	ID       uint64 `json:"id"`
	PrevAlh  []byte `json:"prevAlh,omitempty"`
	Ts       int64  `json:"ts"`
	Nentries int    `json:"nentries"`
	EH       []byte `json:"eH,omitempty"`
	BlTxID   uint64 `json:"blTxId,omitempty"`
	BlRoot   []byte `json:"blRoot,omitempty"`
}

// TxEntry is one entry of a transaction, carried as its key and its entry
// digest. The digest of an entry the caller wrote itself is never trusted
// from here; it is recomputed locally and required to match.
type TxEntry struct {
	Key    []byte `json:"key"`
	Digest []byte `json:"digest"`
}

// Tx is a full transaction: header plus the digests of its entries.
type Tx struct {
	Header  *TxHeader  `json:"header"`
	Entries []*TxEntry `json:"entries,omitempty"`
}

// InclusionProof proves the entry at Leaf is part of a transaction's
// entries tree of Width leaves.
type InclusionProof struct {
	Leaf  int      `json:"leaf"`
	Width int      `json:"width"`
	Terms [][]byte `json:"terms,omitempty"`
}

// LinearProof chains consecutive transaction headers from SourceTxID to
// TargetTxID. Terms[0] is the accumulated hash at SourceTxID, each further
// term the inner hash of the next transaction.
type LinearProof struct {
	SourceTxID uint64   `json:"sourceTxId"`
	TargetTxID uint64   `json:"targetTxId"`
	Terms      [][]byte `json:"terms,omitempty"`
}

// DualProof ties two transactions together: inclusion of the source in the
// target's transaction tree, consistency between both trees, last-leaf
// inclusion pinning TargetBlTxAlh, and the linear chain up to the target.
type DualProof struct {
	SourceTxHeader     *TxHeader    `json:"sourceTxHeader"`
	TargetTxHeader     *TxHeader    `json:"targetTxHeader"`
	InclusionProof     [][]byte     `json:"inclusionProof,omitempty"`
	ConsistencyProof   [][]byte     `json:"consistencyProof,omitempty"`
	TargetBlTxAlh      []byte       `json:"targetBlTxAlh,omitempty"`
	LastInclusionProof [][]byte     `json:"lastInclusionProof,omitempty"`
	LinearProof        *LinearProof `json:"linearProof"`
}

// VerifiableTx is a transaction bundled with the dual proof anchoring it to
// the caller's trusted state, and an optional state signature.
type VerifiableTx struct {
	Tx        *Tx        `json:"tx"`
	DualProof *DualProof `json:"dualProof"`
	Signature *Signature `json:"signature,omitempty"`
}

// VerifiableEntry is a resolved entry bundled with the proofs needed to
// verify it: inclusion in its transaction and the dual proof for the state
// transition.
type VerifiableEntry struct {
	Entry          *Entry          `json:"entry"`
	VerifiableTx   *VerifiableTx   `json:"verifiableTx"`
	InclusionProof *InclusionProof `json:"inclusionProof"`
}

// VerifiableGetRequest is a Get that must be provable since the caller's
// trust anchor.
type VerifiableGetRequest struct {
	KeyRequest   *KeyRequest `json:"keyRequest"`
	ProveSinceTx uint64      `json:"proveSinceTx"`
}

// VerifiableSetRequest is a Set that must be provable since the caller's
// trust anchor.
type VerifiableSetRequest struct {
	SetRequest   *SetRequest `json:"setRequest"`
	ProveSinceTx uint64      `json:"proveSinceTx"`
}

// VerifiableReferenceRequest is a SetReference that must be provable since
// the caller's trust anchor.
type VerifiableReferenceRequest struct {
	ReferenceRequest *ReferenceRequest `json:"referenceRequest"`
	ProveSinceTx     uint64            `json:"proveSinceTx"`
}

// VerifiableZAddRequest is a ZAdd that must be provable since the caller's
// trust anchor.
type VerifiableZAddRequest struct {
	ZAddRequest  *ZAddRequest `json:"zAddRequest"`
	ProveSinceTx uint64       `json:"proveSinceTx"`
}

// VerifiableTxRequest fetches transaction Tx with proofs anchored at the
// caller's trust anchor.
type VerifiableTxRequest struct {
	Tx           uint64 `json:"tx"`
	ProveSinceTx uint64 `json:"proveSinceTx"`
}
