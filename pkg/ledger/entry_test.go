package ledger_test

import (
	"testing"

	"github.com/veralog-io/veralog-go/pkg/ledger"
)

func TestKVDigest_deterministic(t *testing.T) {
	a := (&ledger.KV{Key: []byte("account/42"), Value: []byte(`{"balance":100}`)}).Digest()
	b := (&ledger.KV{Key: []byte("account/42"), Value: []byte(`{"balance":100}`)}).Digest()
	if a != b {
		t.Errorf("same content hashed differently: %s vs %s", a.Hex(), b.Hex())
	}
}

func TestKVDigest_sensitivity(t *testing.T) {
	base := (&ledger.KV{Key: []byte("k"), Value: []byte("v")}).Digest()

	cases := []struct {
		name  string
		entry ledger.Entry
	}{
		{"different value", &ledger.KV{Key: []byte("k"), Value: []byte("w")}},
		{"different key", &ledger.KV{Key: []byte("l"), Value: []byte("v")}},
		{"key and value swapped", &ledger.KV{Key: []byte("v"), Value: []byte("k")}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.entry.Digest(); got == base {
				t.Errorf("digest collided with base entry: %s", got.Hex())
			}
		})
	}
}

func TestReferenceDigest_lengthPrefixed(t *testing.T) {
	// The key/referredKey boundary must be unambiguous.
	a := (&ledger.Reference{Key: []byte("ab"), ReferredKey: []byte("c")}).Digest()
	b := (&ledger.Reference{Key: []byte("a"), ReferredKey: []byte("bc")}).Digest()
	if a == b {
		t.Errorf("shifted field boundary collided: %s", a.Hex())
	}
}

func TestReferenceDigest_atTx(t *testing.T) {
	unbound := (&ledger.Reference{Key: []byte("alias"), ReferredKey: []byte("target")}).Digest()
	bound := (&ledger.Reference{Key: []byte("alias"), ReferredKey: []byte("target"), AtTx: 7}).Digest()
	if unbound == bound {
		t.Error("bound and unbound references hashed identically")
	}
}

func TestZEntryDigest_score(t *testing.T) {
	a := (&ledger.ZEntry{Set: []byte("scores"), Key: []byte("k"), Score: 1.5}).Digest()
	b := (&ledger.ZEntry{Set: []byte("scores"), Key: []byte("k"), Score: 2.5}).Digest()
	c := (&ledger.ZEntry{Set: []byte("scores"), Key: []byte("k"), Score: 1.5}).Digest()
	if a == b {
		t.Error("different scores hashed identically")
	}
	if a != c {
		t.Error("same score hashed differently")
	}
}

func TestEntryDigest_variantsNeverCollide(t *testing.T) {
	// Overlapping raw fields across entry kinds must still hash apart.
	entries := []ledger.Entry{
		&ledger.KV{Key: []byte("a"), Value: []byte("b")},
		&ledger.Reference{Key: []byte("a"), ReferredKey: []byte("b")},
		&ledger.ZEntry{Set: []byte("a"), Key: []byte("b")},
	}
	seen := map[ledger.Digest]int{}
	for i, e := range entries {
		d := e.Digest()
		if prev, ok := seen[d]; ok {
			t.Errorf("entry %d collided with entry %d: %s", i, prev, d.Hex())
		}
		seen[d] = i
	}
}
