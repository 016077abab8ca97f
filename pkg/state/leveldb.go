package state

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/veralog-io/veralog-go/pkg/ledger"
)

// LevelDB is a file-backed Service implementation; anchors survive process
// restarts. Writes are synced, an anchor lost to a crash would silently
// downgrade the client to trust-on-first-use.
type LevelDB struct {
	verifier
	mu sync.Mutex
	db *leveldb.DB
}

// OpenLevelDB opens, creating it if needed, the anchor store at dir.
func OpenLevelDB(dir string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("open anchor store: %w", err)
	}
	return &LevelDB{db: db}, nil
}

// Get implements Service.
func (l *LevelDB) Get(_ context.Context, serverID, database string) (*TrustState, error) {
	value, err := l.db.Get([]byte(stateKey(serverID, database)), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return &TrustState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load anchor: %w", err)
	}
	return decodeState(value)
}

// Set implements Service.
func (l *LevelDB) Set(_ context.Context, serverID, database string, st *TrustState) error {
	if err := l.check(st); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := []byte(stateKey(serverID, database))
	value, err := l.db.Get(key, nil)
	if err != nil && !errors.Is(err, leveldb.ErrNotFound) {
		return fmt.Errorf("load anchor: %w", err)
	}
	if err == nil {
		cur, err := decodeState(value)
		if err != nil {
			return err
		}
		if st.TxID <= cur.TxID {
			return fmt.Errorf("tx %d not beyond tx %d: %w", st.TxID, cur.TxID, ErrSuperseded)
		}
	}

	if err := l.db.Put(key, encodeState(st), &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("store anchor: %w", err)
	}
	return nil
}

// Close releases the underlying database.
func (l *LevelDB) Close() error {
	return l.db.Close()
}

func encodeState(st *TrustState) []byte {
	b := make([]byte, 8+ledger.DigestSize+len(st.Signature))
	binary.BigEndian.PutUint64(b, st.TxID)
	copy(b[8:], st.TxHash[:])
	copy(b[8+ledger.DigestSize:], st.Signature)
	return b
}

func decodeState(b []byte) (*TrustState, error) {
	if len(b) < 8+ledger.DigestSize {
		return nil, fmt.Errorf("anchor record is %d bytes, want at least %d", len(b), 8+ledger.DigestSize)
	}
	st := &TrustState{TxID: binary.BigEndian.Uint64(b)}
	copy(st.TxHash[:], b[8:])
	if rest := b[8+ledger.DigestSize:]; len(rest) > 0 {
		st.Signature = append([]byte(nil), rest...)
	}
	return st, nil
}
