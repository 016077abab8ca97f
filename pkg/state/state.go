// Package state maintains the client's root of trust: the highest verified
// transaction per logical database, keyed by server identity.
//
// Anchors only ever move forward. Set refuses any state that does not
// advance the stored transaction id (ErrSuperseded), which holds against
// both benign races between concurrent verified operations and rollback
// attempts by a misbehaving server. When a verification key is configured,
// a state must additionally carry a valid ECDSA signature to be accepted.
//
// Three implementations of the Service interface are provided:
//   - Cache: in-process, for tests and single-run tools.
//   - LevelDB: file-backed, anchors survive restarts.
//   - Postgres: shared across processes via a pgx pool.
package state

import (
	"context"
	"errors"

	"github.com/veralog-io/veralog-go/pkg/ledger"
)

var (
	// ErrSuperseded reports a Set that does not advance the stored anchor.
	// Callers racing each other forward treat it as success.
	ErrSuperseded = errors.New("state is superseded by the stored anchor")

	// ErrInvalidSignature reports a state whose signature is missing or not
	// valid under the configured verification key.
	ErrInvalidSignature = errors.New("invalid state signature")
)

// TrustState pins the highest verified transaction of one database: its id
// and accumulated hash, plus the server's state signature when signing is
// enabled.
type TrustState struct {
	TxID      uint64
	TxHash    ledger.Digest
	Signature []byte
}

// Service stores and retrieves trust anchors. Implementations serialise
// read-modify-write per (serverID, database) key.
type Service interface {
	// Get returns the anchor for (serverID, database), or an empty state
	// when none has been stored yet.
	Get(ctx context.Context, serverID, database string) (*TrustState, error)

	// Set advances the anchor. It returns ErrSuperseded when st.TxID does
	// not exceed the stored transaction id, leaving the anchor untouched,
	// and ErrInvalidSignature when a verification key is configured and
	// st is not properly signed.
	Set(ctx context.Context, serverID, database string, st *TrustState) error
}

func stateKey(serverID, database string) string {
	return serverID + "/" + database
}
