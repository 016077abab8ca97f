package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/veralog-io/veralog-go/pkg/ledger"
)

// advisoryLockKey serialises schema creation across processes sharing the
// anchor table. The value is arbitrary but must be consistent across all
// clients of the same database.
const advisoryLockKey = int64(7_643_902_118)

// Postgres is a Service implementation shared across processes, for fleets
// of clients that must agree on one root of trust. Monotonicity is enforced
// by a guarded upsert, so concurrent writers never need an external lock.
type Postgres struct {
	verifier
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres creates the store and ensures its schema exists.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) (*Postgres, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Postgres{pool: pool, logger: logger}
	if err := p.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Serialise concurrent schema creation with a transaction-scoped
	// advisory lock; released automatically on commit or rollback.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	if _, err := tx.Exec(ctx, `CREATE TABLE IF NOT EXISTS trust_anchors (
		server_id  TEXT NOT NULL,
		db_name    TEXT NOT NULL,
		tx_id      BIGINT NOT NULL,
		tx_hash    BYTEA NOT NULL,
		signature  BYTEA,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (server_id, db_name)
	)`); err != nil {
		return fmt.Errorf("create trust_anchors table: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// Get implements Service.
func (p *Postgres) Get(ctx context.Context, serverID, database string) (*TrustState, error) {
	var txID int64
	var hash, sig []byte
	err := p.pool.QueryRow(ctx,
		"SELECT tx_id, tx_hash, signature FROM trust_anchors WHERE server_id = $1 AND db_name = $2",
		serverID, database,
	).Scan(&txID, &hash, &sig)
	if errors.Is(err, pgx.ErrNoRows) {
		return &TrustState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load anchor: %w", err)
	}

	if len(hash) != ledger.DigestSize {
		return nil, fmt.Errorf("anchor hash has %d bytes, want %d", len(hash), ledger.DigestSize)
	}
	st := &TrustState{TxID: uint64(txID), Signature: sig}
	copy(st.TxHash[:], hash)
	return st, nil
}

// Set implements Service. The upsert only wins when it strictly advances
// the stored transaction id, so racing writers resolve to max(txId).
func (p *Postgres) Set(ctx context.Context, serverID, database string, st *TrustState) error {
	if err := p.check(st); err != nil {
		return err
	}

	tag, err := p.pool.Exec(ctx, `
		INSERT INTO trust_anchors (server_id, db_name, tx_id, tx_hash, signature)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (server_id, db_name) DO UPDATE
		SET tx_id = EXCLUDED.tx_id, tx_hash = EXCLUDED.tx_hash,
		    signature = EXCLUDED.signature, updated_at = now()
		WHERE trust_anchors.tx_id < EXCLUDED.tx_id`,
		serverID, database, int64(st.TxID), st.TxHash[:], st.Signature,
	)
	if err != nil {
		return fmt.Errorf("store anchor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("tx %d not beyond the stored anchor: %w", st.TxID, ErrSuperseded)
	}

	p.logger.Debug("anchor advanced",
		zap.String("server_id", serverID),
		zap.String("db", database),
		zap.Uint64("tx_id", st.TxID),
	)
	return nil
}
