// Package ledger keeps two small bolt buckets next to the main store: the
// settlements the local network has already executed, keyed by authorizer and
// nonce, and a journal of settled payments whose reply could not be stored.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	bolt "github.com/boltdb/bolt"
)

var (
	settlementsBucket = []byte("settlements")
	journalBucket     = []byte("reconciliation")
)

var ErrNotFound = errors.New("ledger: not found")

// Settlement is one executed transfer. A (payer, nonce) pair settles at most
// once.
type Settlement struct {
	Nonce     string    `json:"nonce"`
	Payer     string    `json:"payer"`
	PayTo     string    `json:"pay_to"`
	Amount    string    `json:"amount"`
	Network   string    `json:"network"`
	TxID      string    `json:"tx_id"`
	SettledAt time.Time `json:"settled_at"`
}

// Entry records money that moved without a matching reply.
type Entry struct {
	TxID     string    `json:"tx_id"`
	PostID   string    `json:"post_id"`
	AuthorID string    `json:"author_id"`
	Amount   string    `json:"amount"`
	Error    string    `json:"error"`
	Attempts int       `json:"attempts"`
	At       time.Time `json:"at"`
}

type Ledger struct {
	db  *bolt.DB
	now func() time.Time
}

func Open(path string) (*Ledger, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{settlementsBucket, journalBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init ledger: %w", err)
	}
	return &Ledger{db: db, now: time.Now}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func settlementKey(payer, nonce string) []byte {
	return []byte(strings.ToLower(payer + ":" + nonce))
}

// Settlement looks up the transfer executed for the payer's nonce.
func (l *Ledger) Settlement(payer, nonce string) (Settlement, error) {
	var s Settlement
	err := l.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(settlementsBucket).Get(settlementKey(payer, nonce))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &s)
	})
	return s, err
}

// RecordSettlement stores s unless its payer and nonce already settled. It returns the
// stored record and whether this call created it.
func (l *Ledger) RecordSettlement(s Settlement) (Settlement, bool, error) {
	var result Settlement
	created := false
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(settlementsBucket)
		key := settlementKey(s.Payer, s.Nonce)
		if existing := b.Get(key); existing != nil {
			return json.Unmarshal(existing, &result)
		}
		if s.SettledAt.IsZero() {
			s.SettledAt = l.now().UTC()
		}
		data, err := json.Marshal(s)
		if err != nil {
			return err
		}
		result = s
		created = true
		return b.Put(key, data)
	})
	if err != nil {
		return Settlement{}, false, fmt.Errorf("record settlement: %w", err)
	}
	return result, created, nil
}

// Append adds e to the reconciliation journal. Appending the same TxID again
// bumps its attempt count and keeps the latest error.
func (l *Ledger) Append(e Entry) error {
	if e.TxID == "" {
		return errors.New("ledger: entry without tx id")
	}
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(journalBucket)
		if existing := b.Get([]byte(e.TxID)); existing != nil {
			var prev Entry
			if err := json.Unmarshal(existing, &prev); err != nil {
				return err
			}
			e.Attempts = prev.Attempts
		}
		e.Attempts++
		if e.At.IsZero() {
			e.At = l.now().UTC()
		}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put([]byte(e.TxID), data)
	})
	if err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	return nil
}

// Pending lists unresolved journal entries, oldest first.
func (l *Ledger) Pending() ([]Entry, error) {
	entries := []Entry{}
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(journalBucket).ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].At.Before(entries[j].At) })
	return entries, nil
}

// Resolve drops a journal entry. Resolving an unknown entry is a no-op.
func (l *Ledger) Resolve(txID string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(journalBucket).Delete([]byte(txID))
	})
}
