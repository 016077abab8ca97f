package ledger_test

import (
	"encoding/binary"
	"testing"

	"github.com/veralog-io/veralog-go/pkg/ledger"
)

func testHeader() *ledger.TxHeader {
	return &ledger.TxHeader{
		ID:       9,
		Ts:       1724112009,
		NEntries: 3,
		Eh:       ledger.DigestOf([]byte("entries-root")),
		BlTxID:   8,
		BlRoot:   ledger.DigestOf([]byte("tree-root")),
		PrevAlh:  ledger.DigestOf([]byte("previous")),
	}
}

func TestTxHeaderInnerHash_layout(t *testing.T) {
	h := testHeader()

	b := make([]byte, 8+4+2*ledger.DigestSize+8)
	binary.BigEndian.PutUint64(b, uint64(h.Ts))
	binary.BigEndian.PutUint32(b[8:], uint32(h.NEntries))
	copy(b[12:], h.Eh[:])
	binary.BigEndian.PutUint64(b[12+ledger.DigestSize:], h.BlTxID)
	copy(b[20+ledger.DigestSize:], h.BlRoot[:])

	if got, want := h.InnerHash(), ledger.DigestOf(b); got != want {
		t.Errorf("InnerHash: got %s, want %s", got.Hex(), want.Hex())
	}
}

func TestTxHeaderAlh_layout(t *testing.T) {
	h := testHeader()
	inner := h.InnerHash()

	b := make([]byte, 8+2*ledger.DigestSize)
	binary.BigEndian.PutUint64(b, h.ID)
	copy(b[8:], h.PrevAlh[:])
	copy(b[8+ledger.DigestSize:], inner[:])

	if got, want := h.Alh(), ledger.DigestOf(b); got != want {
		t.Errorf("Alh: got %s, want %s", got.Hex(), want.Hex())
	}
}

func TestTxHeaderAlh_fieldSensitivity(t *testing.T) {
	base := testHeader().Alh()

	cases := []struct {
		name   string
		mutate func(*ledger.TxHeader)
	}{
		{"id", func(h *ledger.TxHeader) { h.ID++ }},
		{"ts", func(h *ledger.TxHeader) { h.Ts++ }},
		{"nentries", func(h *ledger.TxHeader) { h.NEntries++ }},
		{"eh", func(h *ledger.TxHeader) { h.Eh[0] ^= 0x01 }},
		{"blTxId", func(h *ledger.TxHeader) { h.BlTxID++ }},
		{"blRoot", func(h *ledger.TxHeader) { h.BlRoot[31] ^= 0x80 }},
		{"prevAlh", func(h *ledger.TxHeader) { h.PrevAlh[15] ^= 0x01 }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			h := testHeader()
			tc.mutate(h)
			if h.Alh() == base {
				t.Errorf("mutating %s left the accumulated hash unchanged", tc.name)
			}
		})
	}
}
