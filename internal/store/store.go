// Package store provides a pebble-backed, namespaced key-value store. In
// this repository only ledger.Snapshot writes to it; markets, orders,
// pools, vaults, positions and fee-vault balances are not persisted here.
// Adapted from uhyunpark/hyperlicked's pkg/storage
// (pebble_store.go, account_keys.go) and pkg/app/core/account/store.go,
// generalized from a single account/order/position/trade schema into a
// namespaced key-value schema any component can use.
package store

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// Store is a namespaced, JSON-encoded key-value store over Pebble. Callers
// pick a namespace per object kind ("order", "pool", "vault", ...) and a
// caller-chosen key within it; Store takes care of prefixing and range
// scans so components never hand-roll key schemes themselves.
type Store struct {
	db *pebble.DB
}

// Open opens (creating if necessary) a Pebble database at path, tuned the
// way the teacher's account Store is tuned for write-heavy workloads.
func Open(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                       pebble.NewCache(128 << 20),
		MemTableSize:                64 << 20,
		MaxConcurrentCompactions:    func() int { return 3 },
		L0CompactionThreshold:       2,
		L0StopWritesThreshold:       12,
		LBaseMaxBytes:               64 << 20,
		MaxOpenFiles:                1000,
		BytesPerSync:                512 << 10,
		DisableAutomaticCompactions: false,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func namespacedKey(namespace, key string) []byte {
	return []byte(namespace + ":" + key)
}

func namespacePrefix(namespace string) []byte {
	return []byte(namespace + ":")
}

func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

// Put persists v (JSON-encoded) under namespace/key, synced to disk — the
// core never accepts a write that isn't durable before acknowledging it,
// matching the teacher's use of pebble.Sync for account/order/position
// writes.
func (s *Store) Put(namespace, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: marshal %s/%s: %w", namespace, key, err)
	}
	if err := s.db.Set(namespacedKey(namespace, key), data, pebble.Sync); err != nil {
		return fmt.Errorf("store: put %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Get loads namespace/key into v. Returns (false, nil) if the key is
// absent.
func (s *Store) Get(namespace, key string, v any) (bool, error) {
	data, closer, err := s.db.Get(namespacedKey(namespace, key))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: get %s/%s: %w", namespace, key, err)
	}
	defer closer.Close()
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("store: unmarshal %s/%s: %w", namespace, key, err)
	}
	return true, nil
}

// Delete removes namespace/key, synced to disk.
func (s *Store) Delete(namespace, key string) error {
	if err := s.db.Delete(namespacedKey(namespace, key), pebble.Sync); err != nil {
		return fmt.Errorf("store: delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Scan iterates every key with the given prefix within namespace (e.g. all
// orders owned by one address, all positions in one market) and invokes fn
// with the raw JSON value for each. Iteration stops early if fn returns
// false.
func (s *Store) Scan(namespace, keyPrefix string, fn func(key string, raw []byte) bool) error {
	prefix := namespacedKey(namespace, keyPrefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("store: scan %s/%s: %w", namespace, keyPrefix, err)
	}
	defer iter.Close()

	nsLen := len(namespace) + 1
	for iter.First(); iter.Valid(); iter.Next() {
		k := string(iter.Key()[nsLen:])
		if !fn(k, iter.Value()) {
			break
		}
	}
	return nil
}
