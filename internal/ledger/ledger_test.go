package ledger

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTest(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordSettlementOncePerNonce(t *testing.T) {
	l := openTest(t)
	first := Settlement{Nonce: "0xAB01", Payer: "0xAA", Amount: "20000", TxID: "0x1"}

	got, created, err := l.RecordSettlement(first)
	if err != nil || !created {
		t.Fatalf("first record: created=%v err=%v", created, err)
	}
	if got.SettledAt.IsZero() {
		t.Fatalf("settled_at not stamped")
	}

	again, created, err := l.RecordSettlement(Settlement{Nonce: "0xab01", Payer: "0xaa", TxID: "0x2"})
	if err != nil {
		t.Fatalf("second record: %v", err)
	}
	if created || again.TxID != "0x1" {
		t.Fatalf("expected the original settlement back, got %+v created=%v", again, created)
	}

	found, err := l.Settlement("0xaa", "0xAB01")
	if err != nil || found.TxID != "0x1" {
		t.Fatalf("lookup: %+v %v", found, err)
	}
	if _, err := l.Settlement("0xaa", "0xffff"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Nonces are scoped to their authorizer.
	other, created, err := l.RecordSettlement(Settlement{Nonce: "0xab01", Payer: "0xbb", TxID: "0x3"})
	if err != nil || !created || other.TxID != "0x3" {
		t.Fatalf("other payer's nonce rejected: %+v created=%v err=%v", other, created, err)
	}
}

func TestJournal(t *testing.T) {
	l := openTest(t)
	base := time.Unix(1_700_000_000, 0)

	if err := l.Append(Entry{TxID: "0xb", Error: "disk full", At: base.Add(time.Second)}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.Append(Entry{TxID: "0xa", Error: "disk full", At: base}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.Append(Entry{TxID: "0xa", Error: "still full", At: base}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.Append(Entry{}); err == nil {
		t.Fatalf("expected error for entry without tx id")
	}

	pending, err := l.Pending()
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 || pending[0].TxID != "0xa" || pending[1].TxID != "0xb" {
		t.Fatalf("unexpected pending %+v", pending)
	}
	if pending[0].Attempts != 2 || pending[0].Error != "still full" {
		t.Fatalf("repeat append not merged: %+v", pending[0])
	}

	if err := l.Resolve("0xa"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := l.Resolve("0xa"); err != nil {
		t.Fatalf("resolve twice: %v", err)
	}
	pending, _ = l.Pending()
	if len(pending) != 1 || pending[0].TxID != "0xb" {
		t.Fatalf("unexpected pending after resolve %+v", pending)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, _, err := l.RecordSettlement(Settlement{Nonce: "0x01", Payer: "0xaa", TxID: "0x1"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	l.Close()

	l, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l.Close()
	if s, err := l.Settlement("0xaa", "0x01"); err != nil || s.TxID != "0x1" {
		t.Fatalf("settlement lost across reopen: %+v %v", s, err)
	}
}
