package auditor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/veralog-io/veralog-go/internal/ledgertest"
	"github.com/veralog-io/veralog-go/pkg/client"
	"github.com/veralog-io/veralog-go/pkg/schema"
)

var ctx = context.Background()

func newLedgerClient(t *testing.T, srv *ledgertest.Server) *client.Client {
	t.Helper()
	c, err := client.New("ledger.test:3322", client.WithTransport(srv))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func seed(t *testing.T, srv *ledgertest.Server, n int) {
	t.Helper()
	c := newLedgerClient(t, srv)
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("seed:%03d", i))
		if _, err := c.VerifiedSet(ctx, key, []byte("v")); err != nil {
			t.Fatalf("seed write %d: %v", i, err)
		}
	}
}

func TestAuditAll_verifiesHead(t *testing.T) {
	srv := ledgertest.NewServer()
	seed(t, srv, 3)

	a := New(map[string]LedgerClient{"defaultdb": newLedgerClient(t, srv)}, Config{}, zap.NewNop())
	a.AuditAll(ctx)

	res, ok := a.Result("defaultdb")
	if !ok {
		t.Fatal("no result recorded")
	}
	if res.Status != StatusOK {
		t.Fatalf("status: got %q (%s), want %q", res.Status, res.Error, StatusOK)
	}
	if res.TxID != 3 {
		t.Errorf("head tx: got %d, want 3", res.TxID)
	}
	if res.AnchorTxID != 3 {
		t.Errorf("anchor tx: got %d, want 3", res.AnchorTxID)
	}
	if res.CheckedAt.IsZero() {
		t.Error("checkedAt not set")
	}
}

func TestAuditAll_emptyLedger(t *testing.T) {
	srv := ledgertest.NewServer()

	a := New(map[string]LedgerClient{"defaultdb": newLedgerClient(t, srv)}, Config{}, zap.NewNop())
	a.AuditAll(ctx)

	res, ok := a.Result("defaultdb")
	if !ok {
		t.Fatal("no result recorded")
	}
	if res.Status != StatusOK || res.TxID != 0 {
		t.Errorf("empty ledger: got status %q tx %d", res.Status, res.TxID)
	}
}

func TestAuditAll_flagsTamperedHead(t *testing.T) {
	srv := ledgertest.NewServer()
	seed(t, srv, 3)

	cli := newLedgerClient(t, srv)
	a := New(map[string]LedgerClient{"defaultdb": cli}, Config{}, zap.NewNop())

	// First sweep is honest and adopts the head as the anchor.
	a.AuditAll(ctx)
	if res, _ := a.Result("defaultdb"); res.Status != StatusOK {
		t.Fatalf("honest sweep: got %q (%s)", res.Status, res.Error)
	}

	// The ledger grows, but the server starts forging audit responses.
	seed(t, srv, 2)
	srv.Mutate = func(method string, resp any) {
		if method != schema.MethodVerifiableTxByID {
			return
		}
		vt := resp.(*schema.VerifiableTx)
		vt.Tx.Entries[0].Digest[0] ^= 0x01
	}

	a.AuditAll(ctx)

	res, _ := a.Result("defaultdb")
	if res.Status != StatusTamper {
		t.Fatalf("status: got %q (%s), want %q", res.Status, res.Error, StatusTamper)
	}
	if res.Error == "" {
		t.Error("tamper verdict carries no error detail")
	}
	if res.AnchorTxID != 3 {
		t.Errorf("anchor moved on tampered head: tx %d", res.AnchorTxID)
	}
}

func TestAuditAll_transportError(t *testing.T) {
	srv := ledgertest.NewServer()
	seed(t, srv, 2)

	cli := newLedgerClient(t, srv)
	a := New(map[string]LedgerClient{"defaultdb": cli}, Config{}, zap.NewNop())
	a.AuditAll(ctx)
	srv.Close()

	a.AuditAll(ctx)

	res, _ := a.Result("defaultdb")
	if res.Status != StatusTransportError {
		t.Fatalf("status: got %q, want %q", res.Status, StatusTransportError)
	}
	if res.AnchorTxID != 2 {
		t.Errorf("anchor: got tx %d, want 2", res.AnchorTxID)
	}
}

func TestAuditAll_multipleDatabases(t *testing.T) {
	srvA := ledgertest.NewServer()
	seed(t, srvA, 2)
	srvB := ledgertest.NewServer()
	seed(t, srvB, 4)

	a := New(map[string]LedgerClient{
		"payments": newLedgerClient(t, srvA),
		"invoices": newLedgerClient(t, srvB),
	}, Config{MaxConcurrent: 2}, zap.NewNop())
	a.AuditAll(ctx)

	results := a.Results()
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Database != "invoices" || results[1].Database != "payments" {
		t.Errorf("results not sorted by database: %q, %q", results[0].Database, results[1].Database)
	}
	for _, r := range results {
		if r.Status != StatusOK {
			t.Errorf("%s: got status %q (%s)", r.Database, r.Status, r.Error)
		}
	}
	if results[0].TxID != 4 || results[1].TxID != 2 {
		t.Errorf("head txs: got %d/%d, want 4/2", results[0].TxID, results[1].TxID)
	}
}

func TestRun_stopsOnCancel(t *testing.T) {
	srv := ledgertest.NewServer()

	a := New(map[string]LedgerClient{"defaultdb": newLedgerClient(t, srv)},
		Config{Interval: time.Hour}, zap.NewNop())

	runCtx, cancel := context.WithCancel(ctx)
	finished := make(chan struct{})
	go func() {
		a.Run(runCtx)
		close(finished)
	}()

	cancel()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestResult_absentDatabase(t *testing.T) {
	a := New(nil, Config{}, zap.NewNop())
	if _, ok := a.Result("nope"); ok {
		t.Error("got a result for an unaudited database")
	}
}
