// Package auditor continuously re-verifies ledger heads against locally
// held trust anchors and publishes the verdicts over HTTP and Prometheus.
package auditor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/veralog-io/veralog-go/pkg/ledger"
	"github.com/veralog-io/veralog-go/pkg/schema"
	"github.com/veralog-io/veralog-go/pkg/state"
)

// Audit outcomes.
const (
	StatusOK             = "ok"
	StatusTamper         = "tamper"
	StatusTransportError = "transport_error"
)

// Config holds audit loop configuration.
type Config struct {
	// Interval between full sweeps over all databases.
	Interval time.Duration
	// Timeout bounds one database's audit round trip.
	Timeout time.Duration
	// RPCRate and RPCBurst pace outgoing RPCs across all databases.
	RPCRate  rate.Limit
	RPCBurst int
	// MaxConcurrent bounds databases audited in parallel.
	MaxConcurrent int
}

// LedgerClient is the slice of the client surface the auditor drives.
type LedgerClient interface {
	CurrentState(ctx context.Context) (*schema.LedgerState, error)
	VerifiedTxByID(ctx context.Context, txID uint64) (*schema.Tx, error)
	CurrentAnchor(ctx context.Context) (*state.TrustState, error)
}

// Result is the latest verdict for one database.
type Result struct {
	Database   string    `json:"database"`
	Status     string    `json:"status"`
	TxID       uint64    `json:"txId"`
	AnchorTxID uint64    `json:"anchorTxId"`
	Error      string    `json:"error,omitempty"`
	CheckedAt  time.Time `json:"checkedAt"`
}

// Auditor periodically fetches each database's head transaction and
// re-verifies it against the client's trust anchor. A head that fails
// verification is flagged and the anchor is left untouched, so the
// divergence stays observable.
type Auditor struct {
	clients map[string]LedgerClient
	limiter *rate.Limiter
	cfg     Config
	logger  *zap.Logger

	mu      sync.RWMutex
	results map[string]Result
}

// New creates an Auditor over the given database→client map.
func New(clients map[string]LedgerClient, cfg Config, logger *zap.Logger) *Auditor {
	if cfg.Interval == 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RPCRate == 0 {
		cfg.RPCRate = 10
	}
	if cfg.RPCBurst == 0 {
		cfg.RPCBurst = 20
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = 4
	}

	return &Auditor{
		clients: clients,
		limiter: rate.NewLimiter(cfg.RPCRate, cfg.RPCBurst),
		cfg:     cfg,
		logger:  logger,
		results: make(map[string]Result),
	}
}

// Run sweeps all databases on the configured interval until ctx is
// cancelled. The first sweep starts immediately.
func (a *Auditor) Run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	a.AuditAll(ctx)
	for {
		select {
		case <-ticker.C:
			a.AuditAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// AuditAll audits every configured database once, at most MaxConcurrent
// in parallel.
func (a *Auditor) AuditAll(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(a.cfg.MaxConcurrent)
	for db, cli := range a.clients {
		db, cli := db, cli
		g.Go(func() error {
			a.auditOne(ctx, db, cli)
			return nil
		})
	}
	_ = g.Wait()
}

func (a *Auditor) auditOne(parent context.Context, db string, cli LedgerClient) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, a.cfg.Timeout)
	defer cancel()

	res, done := a.check(ctx, db, cli)
	if !done {
		if parent.Err() != nil {
			// Shutting down; the previous verdict stands.
			return
		}
		res.Status = StatusTransportError
		res.Error = ctx.Err().Error()
	}
	if anchor, err := cli.CurrentAnchor(parent); err == nil && anchor != nil {
		res.AnchorTxID = anchor.TxID
	}
	res.CheckedAt = start.UTC()

	a.mu.Lock()
	a.results[db] = res
	a.mu.Unlock()

	recordAudit(db, res.Status, start)
	if res.Status == StatusOK && res.TxID > 0 {
		setLastVerified(db, res.TxID)
	}
}

// check runs one audit round trip. done is false when the context ended
// before a verdict was reached.
func (a *Auditor) check(ctx context.Context, db string, cli LedgerClient) (Result, bool) {
	res := Result{Database: db}

	if err := a.limiter.Wait(ctx); err != nil {
		return res, false
	}
	head, err := cli.CurrentState(ctx)
	if err != nil {
		a.logger.Warn("audit: fetch head", zap.String("database", db), zap.Error(err))
		res.Status = StatusTransportError
		res.Error = err.Error()
		return res, true
	}
	res.TxID = head.TxID

	// An empty ledger has nothing to verify.
	if head.TxID == 0 {
		res.Status = StatusOK
		return res, true
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return res, false
	}
	_, err = cli.VerifiedTxByID(ctx, head.TxID)
	switch {
	case err == nil:
		res.Status = StatusOK
		a.logger.Debug("audit: head verified", zap.String("database", db), zap.Uint64("tx", head.TxID))
	case errors.Is(err, ledger.ErrTamperDetected), errors.Is(err, state.ErrInvalidSignature):
		res.Status = StatusTamper
		res.Error = err.Error()
		a.logger.Error("audit: ledger tampering detected",
			zap.String("database", db),
			zap.Uint64("tx", head.TxID),
			zap.Error(err),
		)
	default:
		res.Status = StatusTransportError
		res.Error = err.Error()
		a.logger.Warn("audit: verify head",
			zap.String("database", db),
			zap.Uint64("tx", head.TxID),
			zap.Error(err),
		)
	}
	return res, true
}

// Results returns the latest verdict per database, sorted by name.
func (a *Auditor) Results() []Result {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Result, 0, len(a.results))
	for _, r := range a.results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Database < out[j].Database })
	return out
}

// Result returns the latest verdict for one database.
func (a *Auditor) Result(db string) (Result, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	res, ok := a.results[db]
	return res, ok
}
