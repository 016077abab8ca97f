//go:build ignore

// probe-ledgers.go checks a list of ledger endpoints for reachability and
// reports server version, head transaction, and round-trip latency per
// database. Handy before pointing the auditor at a new environment.
//
// Run with: go run scripts/probe-ledgers.go
package main

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/veralog-io/veralog-go/pkg/client"
)

// Endpoints to probe — local dev, docker-compose service names, and the
// shared staging ledgers.
var endpoints = []struct {
	env  string
	addr string
}{
	{"local", "localhost:3322"},
	{"local-alt", "localhost:3323"},
	{"compose", "veralog-server:3322"},
	{"staging-eu", "ledger-eu.staging.veralog.io:3322"},
	{"staging-us", "ledger-us.staging.veralog.io:3322"},
}

// Databases checked on every endpoint.
var databases = []string{"defaultdb", "audit_trail", "payments"}

type result struct {
	env     string
	addr    string
	db      string
	version string
	headTx  uint64
	err     string
	latency time.Duration
}

func probe(env, addr, db string) result {
	start := time.Now()

	c, err := client.NewFromURI(fmt.Sprintf("veralog://%s/%s", addr, db))
	if err != nil {
		return result{env: env, addr: addr, db: db, err: err.Error()}
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := c.Health(ctx)
	latency := time.Since(start)
	if err != nil {
		// Simplify transport errors for display
		msg := err.Error()
		if len(msg) > 60 {
			msg = msg[:60] + "..."
		}
		return result{env: env, addr: addr, db: db, err: msg, latency: latency}
	}

	r := result{env: env, addr: addr, db: db, version: health.Version, latency: latency}
	if head, err := c.CurrentState(ctx); err == nil {
		r.headTx = head.TxID
	}
	return r
}

func main() {
	type job struct {
		env, addr, db string
	}

	jobs := make(chan job, len(endpoints)*len(databases))
	results := make(chan result, len(endpoints)*len(databases))

	// Worker pool — 8 concurrent probes
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results <- probe(j.env, j.addr, j.db)
			}
		}()
	}

	total := 0
	for _, e := range endpoints {
		for _, db := range databases {
			jobs <- job{e.env, e.addr, db}
			total++
		}
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	// Collect
	var up []result
	var down []result
	checked := 0
	for r := range results {
		checked++
		fmt.Printf("\r  probing... %d/%d", checked, total)

		if r.err == "" {
			up = append(up, r)
		} else {
			down = append(down, r)
		}
	}
	fmt.Printf("\r  done — %d endpoints probed\n\n", total)

	sort.Slice(up, func(i, j int) bool {
		if up[i].env != up[j].env {
			return up[i].env < up[j].env
		}
		return up[i].db < up[j].db
	})
	sort.Slice(down, func(i, j int) bool {
		if down[i].env != down[j].env {
			return down[i].env < down[j].env
		}
		return down[i].db < down[j].db
	})

	// ── Report ────────────────────────────────────────────────────────────────
	fmt.Printf("══════════════════════════════════════════════════════\n")
	fmt.Printf("  VeraLog Ledger Probe Results\n")
	fmt.Printf("  Endpoints: %d  |  Databases per endpoint: %d\n", len(endpoints), len(databases))
	fmt.Printf("══════════════════════════════════════════════════════\n\n")

	if len(up) == 0 {
		fmt.Println("  No ledger answered on any endpoint.")
		fmt.Println("  Start a local server or check VPN access to staging.")
		return
	}

	fmt.Println("── Reachable ──")
	for _, r := range up {
		fmt.Printf("  ✦ %-12s %s/%s  v%s  head tx %d  (%dms)\n",
			r.env, r.addr, r.db, r.version, r.headTx, r.latency.Milliseconds())
	}
	fmt.Println()

	if len(down) > 0 {
		fmt.Println("── Unreachable ──")
		seen := map[string]bool{}
		for _, r := range down {
			// One line per endpoint is enough; the error repeats per database.
			key := r.env + r.addr
			if seen[key] {
				continue
			}
			seen[key] = true
			fmt.Printf("  • %-12s %s  %s\n", r.env, r.addr, r.err)
		}
		fmt.Println()
	}

	fmt.Println("══════════════════════════════════════════════════════")
}
