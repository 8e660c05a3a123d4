// Package store persists ledger accounts and resting orders in a
// pebble key-value store so the engine can be rebuilt after a restart.
//
// Keys:
//
//	a:<trader>\x00<asset>  -> JSON ledger.Account
//	o:<asset>\x00<seq BE8> -> JSON book.Order
//	s:<symbol>             -> empty (tradable-asset marker)
//
// Order keys sort by sequence number within an asset, so replaying a
// prefix scan re-inserts orders in arrival order and preserves FIFO
// within price levels.
package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"skoll/internal/book"
	"skoll/internal/ledger"
)

const keySep = 0x00

var (
	accountPrefix = []byte("a:")
	orderPrefix   = []byte("o:")
	assetPrefix   = []byte("s:")
)

type Store struct {
	db *pebble.DB
}

func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening pebble at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func accountKey(trader, asset string) []byte {
	key := make([]byte, 0, len(accountPrefix)+len(trader)+1+len(asset))
	key = append(key, accountPrefix...)
	key = append(key, trader...)
	key = append(key, keySep)
	key = append(key, asset...)
	return key
}

func orderKey(asset string, seq uint64) []byte {
	key := make([]byte, 0, len(orderPrefix)+len(asset)+1+8)
	key = append(key, orderPrefix...)
	key = append(key, asset...)
	key = append(key, keySep)
	key = binary.BigEndian.AppendUint64(key, seq)
	return key
}

func assetKey(symbol string) []byte {
	key := make([]byte, 0, len(assetPrefix)+len(symbol))
	key = append(key, assetPrefix...)
	key = append(key, symbol...)
	return key
}

// keyUpperBound returns the smallest key greater than every key with
// the given prefix.
func keyUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (s *Store) set(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := s.db.Set(key, data, pebble.Sync); err != nil {
		return fmt.Errorf("set: %w", err)
	}
	return nil
}

// SaveAccount writes one (trader, asset) escrow state.
func (s *Store) SaveAccount(trader, asset string, acct ledger.Account) error {
	return s.set(accountKey(trader, asset), acct)
}

// SaveOrder writes a resting order keyed by (asset, seq).
func (s *Store) SaveOrder(o *book.Order) error {
	return s.set(orderKey(o.Asset, o.Seq), o)
}

// SaveAsset records a tradable asset so registrations made at runtime
// survive a restart. Idempotent.
func (s *Store) SaveAsset(symbol string) error {
	if err := s.db.Set(assetKey(symbol), nil, pebble.Sync); err != nil {
		return fmt.Errorf("set: %w", err)
	}
	return nil
}

// DeleteOrder removes a fully filled order.
func (s *Store) DeleteOrder(asset string, seq uint64) error {
	if err := s.db.Delete(orderKey(asset, seq), pebble.Sync); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// Assets iterates every persisted tradable-asset symbol. Replay these
// before orders so the orders find their markets.
func (s *Store) Assets(fn func(symbol string) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: assetPrefix,
		UpperBound: keyUpperBound(assetPrefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(string(iter.Key()[len(assetPrefix):])); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Accounts iterates every persisted account.
func (s *Store) Accounts(fn func(trader, asset string, acct ledger.Account) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: accountPrefix,
		UpperBound: keyUpperBound(accountPrefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		rest := iter.Key()[len(accountPrefix):]
		sep := bytes.IndexByte(rest, keySep)
		if sep < 0 {
			return fmt.Errorf("malformed account key %q", iter.Key())
		}
		trader, asset := string(rest[:sep]), string(rest[sep+1:])

		var acct ledger.Account
		if err := json.Unmarshal(iter.Value(), &acct); err != nil {
			return fmt.Errorf("unmarshal account %q: %w", iter.Key(), err)
		}
		if err := fn(trader, asset, acct); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Orders iterates every persisted resting order, in ascending sequence
// order per asset.
func (s *Store) Orders(fn func(o book.Order) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: orderPrefix,
		UpperBound: keyUpperBound(orderPrefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var o book.Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			return fmt.Errorf("unmarshal order %q: %w", iter.Key(), err)
		}
		if err := fn(o); err != nil {
			return err
		}
	}
	return iter.Error()
}
