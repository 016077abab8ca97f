package state

import (
	"context"
	"fmt"
	"sync"
)

// Cache is an in-memory, thread-safe Service implementation. Anchors live
// for the process lifetime only, so it suits tests and one-shot tools; a
// long-lived client should prefer a persistent store.
type Cache struct {
	verifier
	mu     sync.RWMutex
	states map[string]*TrustState
}

// NewCache creates an empty in-memory anchor store.
func NewCache() *Cache {
	return &Cache{states: map[string]*TrustState{}}
}

// Get implements Service.
func (c *Cache) Get(_ context.Context, serverID, database string) (*TrustState, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.states[stateKey(serverID, database)]
	if !ok {
		return &TrustState{}, nil
	}
	cp := *st
	return &cp, nil
}

// Set implements Service.
func (c *Cache) Set(_ context.Context, serverID, database string, st *TrustState) error {
	if err := c.check(st); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := stateKey(serverID, database)
	if cur, ok := c.states[key]; ok && st.TxID <= cur.TxID {
		return fmt.Errorf("tx %d not beyond tx %d: %w", st.TxID, cur.TxID, ErrSuperseded)
	}
	cp := *st
	c.states[key] = &cp
	return nil
}
