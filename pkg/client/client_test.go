package client_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/veralog-io/veralog-go/internal/ledgertest"
	"github.com/veralog-io/veralog-go/pkg/client"
	"github.com/veralog-io/veralog-go/pkg/ledger"
	"github.com/veralog-io/veralog-go/pkg/schema"
	"github.com/veralog-io/veralog-go/pkg/state"
)

var ctx = context.Background()

const testAddr = "ledger.test:3322"

func newClient(t *testing.T, srv *ledgertest.Server, opts ...client.Option) *client.Client {
	t.Helper()
	c, err := client.New(testAddr, append([]client.Option{client.WithTransport(srv)}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// seed writes n key/value pairs through a throwaway client so the server
// holds history without touching the anchor store under test.
func seed(t *testing.T, srv *ledgertest.Server, n int) {
	t.Helper()
	c := newClient(t, srv)
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("seed:%03d", i))
		if _, err := c.VerifiedSet(ctx, key, []byte(fmt.Sprintf("value-%d", i))); err != nil {
			t.Fatalf("seed write %d: %v", i, err)
		}
	}
}

// ── Verified writes and reads ────────────────────────────────────────────

func TestVerifiedSet_advancesAnchor(t *testing.T) {
	srv := ledgertest.NewServer()
	c := newClient(t, srv)

	for i := 1; i <= 3; i++ {
		hdr, err := c.VerifiedSet(ctx, []byte(fmt.Sprintf("k%d", i)), []byte(fmt.Sprintf("v%d", i)))
		if err != nil {
			t.Fatalf("VerifiedSet %d: %v", i, err)
		}
		if hdr.ID != uint64(i) {
			t.Errorf("tx id: got %d, want %d", hdr.ID, i)
		}
	}

	anchor, err := c.CurrentAnchor(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if anchor.TxID != 3 {
		t.Errorf("anchor: got tx %d, want 3", anchor.TxID)
	}
	if want := srv.Ledger().Alh(3); anchor.TxHash != want {
		t.Errorf("anchor hash: got %x, want %x", anchor.TxHash, want)
	}
}

func TestVerifiedGet_returnsVerifiedEntry(t *testing.T) {
	srv := ledgertest.NewServer()
	c := newClient(t, srv)

	if _, err := c.VerifiedSet(ctx, []byte("invoice:1"), []byte("100 EUR")); err != nil {
		t.Fatal(err)
	}
	if _, err := c.VerifiedSet(ctx, []byte("invoice:1"), []byte("120 EUR")); err != nil {
		t.Fatal(err)
	}

	e, err := c.VerifiedGet(ctx, []byte("invoice:1"))
	if err != nil {
		t.Fatalf("VerifiedGet: %v", err)
	}
	if string(e.Value) != "120 EUR" {
		t.Errorf("value: got %q, want %q", e.Value, "120 EUR")
	}
	if e.Revision != 2 {
		t.Errorf("revision: got %d, want 2", e.Revision)
	}
	if !e.Verified {
		t.Error("entry not marked verified")
	}

	old, err := c.VerifiedGetAt(ctx, []byte("invoice:1"), 1)
	if err != nil {
		t.Fatalf("VerifiedGetAt: %v", err)
	}
	if string(old.Value) != "100 EUR" {
		t.Errorf("value at tx 1: got %q, want %q", old.Value, "100 EUR")
	}
}

func TestVerifiedGet_trustOnFirstUse(t *testing.T) {
	srv := ledgertest.NewServer()
	seed(t, srv, 4)

	// A fresh client holds no anchor; the first verified read adopts the
	// server's state after checking inclusion.
	c := newClient(t, srv)
	e, err := c.VerifiedGet(ctx, []byte("seed:002"))
	if err != nil {
		t.Fatalf("VerifiedGet: %v", err)
	}
	if string(e.Value) != "value-2" {
		t.Errorf("value: got %q", e.Value)
	}

	anchor, _ := c.CurrentAnchor(ctx)
	if anchor.TxID != 3 {
		t.Errorf("anchor after first use: got tx %d, want 3", anchor.TxID)
	}
}

func TestVerifiedGet_notFound(t *testing.T) {
	srv := ledgertest.NewServer()
	seed(t, srv, 1)
	c := newClient(t, srv)

	_, err := c.VerifiedGet(ctx, []byte("nope"))
	if status.Code(err) != codes.NotFound {
		t.Errorf("got %v, want NotFound", err)
	}
}

func TestVerifiedSetReference_resolvesThroughAlias(t *testing.T) {
	srv := ledgertest.NewServer()
	c := newClient(t, srv)

	if _, err := c.VerifiedSet(ctx, []byte("user:42"), []byte("alice")); err != nil {
		t.Fatal(err)
	}
	hdr, err := c.VerifiedSetReference(ctx, []byte("admin"), []byte("user:42"))
	if err != nil {
		t.Fatalf("VerifiedSetReference: %v", err)
	}
	if hdr.NEntries != 1 {
		t.Errorf("reference tx entries: got %d, want 1", hdr.NEntries)
	}

	e, err := c.VerifiedGet(ctx, []byte("admin"))
	if err != nil {
		t.Fatalf("VerifiedGet through alias: %v", err)
	}
	if string(e.Key) != "user:42" || string(e.Value) != "alice" {
		t.Errorf("resolved entry: got %q=%q", e.Key, e.Value)
	}
	if e.ReferencedBy == nil || string(e.ReferencedBy.Key) != "admin" {
		t.Errorf("referencedBy: got %+v", e.ReferencedBy)
	}
}

func TestVerifiedZAdd(t *testing.T) {
	srv := ledgertest.NewServer()
	c := newClient(t, srv)

	if _, err := c.VerifiedSet(ctx, []byte("player:1"), []byte("bob")); err != nil {
		t.Fatal(err)
	}
	hdr, err := c.VerifiedZAdd(ctx, []byte("highscores"), 1500, []byte("player:1"))
	if err != nil {
		t.Fatalf("VerifiedZAdd: %v", err)
	}
	if hdr.ID != 2 || hdr.NEntries != 1 {
		t.Errorf("zadd header: got id %d, %d entries", hdr.ID, hdr.NEntries)
	}

	anchor, _ := c.CurrentAnchor(ctx)
	if anchor.TxID != 2 {
		t.Errorf("anchor: got tx %d, want 2", anchor.TxID)
	}
}

func TestVerifiedTxByID_behindAnchor(t *testing.T) {
	srv := ledgertest.NewServer()
	c := newClient(t, srv)

	for i := 0; i < 5; i++ {
		if _, err := c.VerifiedSet(ctx, []byte(fmt.Sprintf("k%d", i)), []byte("v")); err != nil {
			t.Fatal(err)
		}
	}

	// Auditing a transaction older than the anchor verifies it as the
	// source side of the dual proof; the anchor must not move back.
	tx, err := c.VerifiedTxByID(ctx, 2)
	if err != nil {
		t.Fatalf("VerifiedTxByID: %v", err)
	}
	if tx.Header.ID != 2 || len(tx.Entries) != 1 {
		t.Errorf("tx: got id %d with %d entries", tx.Header.ID, len(tx.Entries))
	}

	anchor, _ := c.CurrentAnchor(ctx)
	if anchor.TxID != 5 {
		t.Errorf("anchor after audit: got tx %d, want 5", anchor.TxID)
	}
}

// ── Tampering ────────────────────────────────────────────────────────────

func TestVerifiedGet_detectsTamperedProof(t *testing.T) {
	srv := ledgertest.NewServer()
	c := newClient(t, srv)

	for i := 0; i < 3; i++ {
		if _, err := c.VerifiedSet(ctx, []byte(fmt.Sprintf("k%d", i)), []byte("v")); err != nil {
			t.Fatal(err)
		}
	}

	srv.Mutate = func(method string, resp any) {
		if method != schema.MethodVerifiableGet {
			return
		}
		ve := resp.(*schema.VerifiableEntry)
		ve.VerifiableTx.DualProof.TargetTxHeader.EH[0] ^= 0x01
	}

	_, err := c.VerifiedGet(ctx, []byte("k1"))
	if !errors.Is(err, ledger.ErrTamperDetected) {
		t.Fatalf("got %v, want ErrTamperDetected", err)
	}

	anchor, _ := c.CurrentAnchor(ctx)
	if anchor.TxID != 3 {
		t.Errorf("anchor moved on tampered response: tx %d", anchor.TxID)
	}
}

func TestVerifiedSet_detectsLyingEntryDigest(t *testing.T) {
	srv := ledgertest.NewServer()
	c := newClient(t, srv)

	if _, err := c.VerifiedSet(ctx, []byte("base"), []byte("v")); err != nil {
		t.Fatal(err)
	}

	srv.Mutate = func(method string, resp any) {
		if method != schema.MethodVerifiableSet {
			return
		}
		vt := resp.(*schema.VerifiableTx)
		vt.Tx.Entries[0].Digest[0] ^= 0x01
	}

	_, err := c.VerifiedSet(ctx, []byte("target"), []byte("w"))
	if !errors.Is(err, ledger.ErrTamperDetected) {
		t.Fatalf("got %v, want ErrTamperDetected", err)
	}

	anchor, _ := c.CurrentAnchor(ctx)
	if anchor.TxID != 1 {
		t.Errorf("anchor moved on tampered response: tx %d", anchor.TxID)
	}
}

func TestVerifiedTxByID_detectsForgedTransaction(t *testing.T) {
	srv := ledgertest.NewServer()
	c := newClient(t, srv)

	for i := 0; i < 4; i++ {
		if _, err := c.VerifiedSet(ctx, []byte(fmt.Sprintf("k%d", i)), []byte("v")); err != nil {
			t.Fatal(err)
		}
	}

	srv.Mutate = func(method string, resp any) {
		if method != schema.MethodVerifiableTxByID {
			return
		}
		vt := resp.(*schema.VerifiableTx)
		vt.Tx.Entries[0].Digest[0] ^= 0x01
	}

	_, err := c.VerifiedTxByID(ctx, 2)
	if !errors.Is(err, ledger.ErrTamperDetected) {
		t.Fatalf("got %v, want ErrTamperDetected", err)
	}
}

// ── Trust anchor behavior ────────────────────────────────────────────────

func TestVerifiedGet_anchorBeyondServer(t *testing.T) {
	srv := ledgertest.NewServer()
	seed(t, srv, 1)

	// An anchor ahead of the server's history means the server lost data
	// (or the anchor belongs to another server). The call must fail, not
	// silently re-adopt a shorter history.
	anchors := state.NewCache()
	if err := anchors.Set(ctx, testAddr, "defaultdb", &state.TrustState{
		TxID:   5,
		TxHash: ledger.DigestOf([]byte("elsewhere")),
	}); err != nil {
		t.Fatal(err)
	}

	c := newClient(t, srv, client.WithStateService(anchors))
	_, err := c.VerifiedGet(ctx, []byte("seed:000"))
	if status.Code(err) != codes.FailedPrecondition {
		t.Errorf("got %v, want FailedPrecondition", err)
	}
}

func TestUseDatabase_isolatesAnchors(t *testing.T) {
	srv := ledgertest.NewServer()
	c := newClient(t, srv)

	if _, err := c.VerifiedSet(ctx, []byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	if err := c.UseDatabase(ctx, "otherdb"); err != nil {
		t.Fatal(err)
	}

	anchor, err := c.CurrentAnchor(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if anchor.TxID != 0 {
		t.Errorf("anchor leaked across databases: tx %d", anchor.TxID)
	}
}

func TestVerifiedSet_concurrentWriters(t *testing.T) {
	srv := ledgertest.NewServer()
	c := newClient(t, srv)

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := []byte(fmt.Sprintf("w%d", i))
			if _, err := c.VerifiedSet(ctx, key, []byte("v")); err != nil {
				t.Errorf("VerifiedSet(%d): %v", i, err)
			}
		}()
	}
	wg.Wait()

	anchor, _ := c.CurrentAnchor(ctx)
	if anchor.TxID != srv.Ledger().Size() {
		t.Errorf("anchor: got tx %d, want %d", anchor.TxID, srv.Ledger().Size())
	}
}

// ── State signatures ─────────────────────────────────────────────────────

func signingKeyPEM(t *testing.T, key *ecdsa.PrivateKey) []byte {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func TestClient_acceptsSignedStates(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	srv := ledgertest.NewServer()
	srv.SignKey = key

	c := newClient(t, srv, client.WithServerSigningKey(signingKeyPEM(t, key)))
	if _, err := c.VerifiedSet(ctx, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("VerifiedSet with signed state: %v", err)
	}
	if _, err := c.VerifiedGet(ctx, []byte("k")); err != nil {
		t.Fatalf("VerifiedGet with signed state: %v", err)
	}
}

func TestClient_rejectsUnsignedStates(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	// The server does not sign, but the client demands signatures.
	srv := ledgertest.NewServer()
	c := newClient(t, srv, client.WithServerSigningKey(signingKeyPEM(t, key)))

	_, err = c.VerifiedSet(ctx, []byte("k"), []byte("v"))
	if !errors.Is(err, state.ErrInvalidSignature) {
		t.Fatalf("got %v, want ErrInvalidSignature", err)
	}

	anchor, _ := c.CurrentAnchor(ctx)
	if anchor.TxID != 0 {
		t.Errorf("anchor adopted an unsigned state: tx %d", anchor.TxID)
	}
}

// ── Sessions and plain operations ────────────────────────────────────────

func TestLogin_attachesToken(t *testing.T) {
	srv := ledgertest.NewServer()
	c := newClient(t, srv)

	if err := c.Login(ctx, "auditor", "secret"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := c.VerifiedSet(ctx, []byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(srv.LastAuthorization, "Bearer ") {
		t.Errorf("authorization metadata: got %q", srv.LastAuthorization)
	}

	if err := c.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
}

func TestLogin_emptyUser(t *testing.T) {
	srv := ledgertest.NewServer()
	c := newClient(t, srv)

	err := c.Login(ctx, "", "")
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("got %v, want Unauthenticated", err)
	}
}

func TestPlainOps(t *testing.T) {
	srv := ledgertest.NewServer()
	c := newClient(t, srv)

	if _, err := c.Set(ctx, []byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := c.Set(ctx, []byte("k"), []byte("v2")); err != nil {
		t.Fatal(err)
	}

	e, err := c.Get(ctx, []byte("k"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(e.Value) != "v2" {
		t.Errorf("Get value: got %q", e.Value)
	}

	hist, err := c.History(ctx, &schema.HistoryRequest{Key: []byte("k"), Desc: true, Limit: 1})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist.Entries) != 1 || string(hist.Entries[0].Value) != "v2" {
		t.Errorf("History: got %+v", hist.Entries)
	}

	st, err := c.CurrentState(ctx)
	if err != nil {
		t.Fatalf("CurrentState: %v", err)
	}
	if st.TxID != 2 {
		t.Errorf("CurrentState: got tx %d, want 2", st.TxID)
	}

	h, err := c.Health(ctx)
	if err != nil || h.Status != "ok" {
		t.Errorf("Health: got %+v, %v", h, err)
	}
	if err := c.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
}

func TestClient_transportUnavailable(t *testing.T) {
	srv := ledgertest.NewServer()
	c := newClient(t, srv)

	if _, err := c.VerifiedSet(ctx, []byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	srv.Close()

	_, err := c.VerifiedGet(ctx, []byte("k"))
	if status.Code(err) != codes.Unavailable {
		t.Errorf("got %v, want Unavailable", err)
	}

	anchor, _ := c.CurrentAnchor(ctx)
	if anchor.TxID != 1 {
		t.Errorf("anchor changed on transport failure: tx %d", anchor.TxID)
	}
}

func TestNewFromURI(t *testing.T) {
	srv := ledgertest.NewServer()
	c, err := client.NewFromURI("veralog://ledger.test:3322/audit_trail", client.WithTransport(srv))
	if err != nil {
		t.Fatal(err)
	}
	if c.Database() != "audit_trail" {
		t.Errorf("database: got %q, want %q", c.Database(), "audit_trail")
	}
	if c.ServerID() != "ledger.test:3322" {
		t.Errorf("server id: got %q", c.ServerID())
	}

	if _, err := client.NewFromURI("https://wrong.scheme/db"); err == nil {
		t.Error("expected error for a non-veralog URI")
	}
}
