// cmd/seed — populates a development ledger with verified sample data.
//
// Running twice is safe: the ledger is append-only, so a second run appends
// new revisions on top of the previous ones and every write is still proven
// against the local trust anchor. To fully reset, wipe the server's data
// directory and restart it.
//
// Usage:
//
//	go run ./cmd/seed
//	VERALOG_SERVER=localhost:3322 go run ./cmd/seed
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/veralog-io/veralog-go/pkg/client"
	"github.com/veralog-io/veralog-go/pkg/uri"
)

const defaultServer = "localhost:" + uri.DefaultPort

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	addr := os.Getenv("VERALOG_SERVER")
	if addr == "" {
		addr = defaultServer
	}
	db := os.Getenv("VERALOG_DATABASE")
	if db == "" {
		db = uri.DefaultDatabase
	}

	ctx := context.Background()
	c, err := client.NewFromURI(fmt.Sprintf("veralog://%s/%s", addr, db))
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer c.Close()

	if err := c.HealthCheck(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	fmt.Printf("connected to ledger %s/%s\n", addr, db)

	if err := seedAccounts(ctx, c); err != nil {
		return fmt.Errorf("seed accounts: %w", err)
	}
	if err := seedInvoices(ctx, c); err != nil {
		return fmt.Errorf("seed invoices: %w", err)
	}
	if err := seedAliases(ctx, c); err != nil {
		return fmt.Errorf("seed aliases: %w", err)
	}
	if err := seedIndexes(ctx, c); err != nil {
		return fmt.Errorf("seed indexes: %w", err)
	}

	// End with a head audit so a misbehaving dev server is caught here,
	// not the first time someone runs the CLI against it.
	head, err := c.CurrentState(ctx)
	if err != nil {
		return fmt.Errorf("fetch head: %w", err)
	}
	if _, err := c.VerifiedTxByID(ctx, head.TxID); err != nil {
		return fmt.Errorf("audit head tx %d: %w", head.TxID, err)
	}
	anchor, err := c.CurrentAnchor(ctx)
	if err != nil {
		return fmt.Errorf("read anchor: %w", err)
	}

	fmt.Printf("\nseed complete, anchor at tx %d\n", anchor.TxID)
	return nil
}

// ── Accounts ─────────────────────────────────────────────────────────────────

type seedAccount struct {
	Key   string
	Name  string
	Email string
	Plan  string
}

var accounts = []seedAccount{
	{Key: "account:acme", Name: "ACME Corp", Email: "billing@acme.com", Plan: "enterprise"},
	{Key: "account:techcorp", Name: "TechCorp GmbH", Email: "finance@techcorp.io", Plan: "business"},
	{Key: "account:startup", Name: "Startup.io", Email: "founders@startup.io", Plan: "free"},
}

func seedAccounts(ctx context.Context, c *client.Client) error {
	fmt.Println()
	for _, a := range accounts {
		doc, err := json.Marshal(map[string]string{
			"name":  a.Name,
			"email": a.Email,
			"plan":  a.Plan,
		})
		if err != nil {
			return err
		}
		hdr, err := c.VerifiedSet(ctx, []byte(a.Key), doc)
		if err != nil {
			return fmt.Errorf("write %s: %w", a.Key, err)
		}
		fmt.Printf("  account  %-22s  %-12s  tx %d\n", a.Key, a.Plan, hdr.ID)
	}
	return nil
}

// ── Invoices ─────────────────────────────────────────────────────────────────

type seedInvoice struct {
	Key      string
	Account  string
	Amount   int64 // smallest currency unit
	Currency string
	Statuses []string // one revision per status, in order
}

var invoices = []seedInvoice{
	{Key: "invoice:2026-0001", Account: "account:acme", Amount: 148000, Currency: "EUR", Statuses: []string{"draft", "issued", "paid"}},
	{Key: "invoice:2026-0002", Account: "account:acme", Amount: 95050, Currency: "EUR", Statuses: []string{"draft", "issued"}},
	{Key: "invoice:2026-0003", Account: "account:techcorp", Amount: 12000, Currency: "USD", Statuses: []string{"issued", "disputed"}},
	{Key: "invoice:2026-0004", Account: "account:startup", Amount: 2900, Currency: "USD", Statuses: []string{"issued"}},
}

func seedInvoices(ctx context.Context, c *client.Client) error {
	fmt.Println()
	for _, inv := range invoices {
		var last uint64
		for _, status := range inv.Statuses {
			doc, err := json.Marshal(map[string]any{
				"account":  inv.Account,
				"amount":   inv.Amount,
				"currency": inv.Currency,
				"status":   status,
			})
			if err != nil {
				return err
			}
			hdr, err := c.VerifiedSet(ctx, []byte(inv.Key), doc)
			if err != nil {
				return fmt.Errorf("write %s (%s): %w", inv.Key, status, err)
			}
			last = hdr.ID
		}
		fmt.Printf("  invoice  %-22s  %-10s  revisions:%d  tx %d\n",
			inv.Key, inv.Statuses[len(inv.Statuses)-1], len(inv.Statuses), last)
	}
	return nil
}

// ── Aliases ──────────────────────────────────────────────────────────────────

// Aliases are references: reading the alias resolves the target's latest
// revision, so "current-invoice:acme" keeps pointing at whatever the
// newest write made it.

type seedAlias struct {
	Key    string
	Target string
}

var aliases = []seedAlias{
	{Key: "current-invoice:acme", Target: "invoice:2026-0002"},
	{Key: "current-invoice:techcorp", Target: "invoice:2026-0003"},
	{Key: "primary-account", Target: "account:acme"},
}

func seedAliases(ctx context.Context, c *client.Client) error {
	fmt.Println()
	for _, al := range aliases {
		hdr, err := c.VerifiedSetReference(ctx, []byte(al.Key), []byte(al.Target))
		if err != nil {
			return fmt.Errorf("reference %s -> %s: %w", al.Key, al.Target, err)
		}
		fmt.Printf("  alias    %-26s  -> %-22s  tx %d\n", al.Key, al.Target, hdr.ID)
	}
	return nil
}

// ── Indexes ──────────────────────────────────────────────────────────────────

// Sorted sets index invoices by amount and accounts by signup date, so dev
// range scans come back ordered without reading every document.

type seedIndexEntry struct {
	Set    string
	Score  float64
	Member string
}

var indexes = []seedIndexEntry{
	{Set: "invoices-by-amount", Score: 148000, Member: "invoice:2026-0001"},
	{Set: "invoices-by-amount", Score: 95050, Member: "invoice:2026-0002"},
	{Set: "invoices-by-amount", Score: 12000, Member: "invoice:2026-0003"},
	{Set: "invoices-by-amount", Score: 2900, Member: "invoice:2026-0004"},
	{Set: "accounts-by-joined", Score: 20260105, Member: "account:acme"},
	{Set: "accounts-by-joined", Score: 20260219, Member: "account:techcorp"},
	{Set: "accounts-by-joined", Score: 20260404, Member: "account:startup"},
}

func seedIndexes(ctx context.Context, c *client.Client) error {
	fmt.Println()
	for _, e := range indexes {
		hdr, err := c.VerifiedZAdd(ctx, []byte(e.Set), e.Score, []byte(e.Member))
		if err != nil {
			return fmt.Errorf("zadd %s %s: %w", e.Set, e.Member, err)
		}
		fmt.Printf("  index    %-20s  %12.0f  %-22s  tx %d\n", e.Set, e.Score, e.Member, hdr.ID)
	}
	return nil
}
