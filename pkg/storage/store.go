// Package storage persists exchange state in Pebble: the custodied
// balance table, the order registry, and the append-only event journal.
package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/uhyunpark/minidex/pkg/exchange"
)

type Store struct {
	db *pebble.DB
}

func Open(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(64 << 20),
		MemTableSize: 32 << 20,
		MaxOpenFiles: 1000,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// SaveBalance writes one balance record. Zero balances are kept so a
// record's history stays observable after a full withdrawal.
func (s *Store) SaveBalance(rec exchange.BalanceRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal balance: %w", err)
	}
	if err := s.db.Set(balanceKey(rec.Token, rec.User), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save balance: %w", err)
	}
	return nil
}

func (s *Store) SaveOrder(o *exchange.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}
	if err := s.db.Set(orderKey(o.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

// AppendEvent writes one journal entry. NoSync: the journal is
// reconstructible from balances and orders, so the fsync is skipped for
// write throughput.
func (s *Store) AppendEvent(ev exchange.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := s.db.Set(eventKey(ev.Seq), data, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

var _ exchange.Store = (*Store)(nil)

// Load reads the full persisted state for exchange rehydration.
func (s *Store) Load() (exchange.Snapshot, error) {
	var snap exchange.Snapshot

	if err := s.scan(prefixBalance, func(val []byte) error {
		var rec exchange.BalanceRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return err
		}
		if rec.Amount > 0 {
			snap.Balances = append(snap.Balances, rec)
		}
		return nil
	}); err != nil {
		return snap, fmt.Errorf("failed to load balances: %w", err)
	}

	if err := s.scan(prefixOrder, func(val []byte) error {
		var o exchange.Order
		if err := json.Unmarshal(val, &o); err != nil {
			return err
		}
		snap.Orders = append(snap.Orders, &o)
		return nil
	}); err != nil {
		return snap, fmt.Errorf("failed to load orders: %w", err)
	}

	if err := s.scan(prefixEvent, func(val []byte) error {
		var ev exchange.Event
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		snap.Events = append(snap.Events, ev)
		return nil
	}); err != nil {
		return snap, fmt.Errorf("failed to load events: %w", err)
	}

	return snap, nil
}

func (s *Store) scan(prefix string, fn func(val []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: keyUpperBound([]byte(prefix)),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}
