// Copyright (C) 2026 Ntropish
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package badgerstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/Ntropish/ptri"
)

// chunkKeyPrefix namespaces chunk keys within the shared DB.
const chunkKeyPrefix = "ptri/chunk/"

// ChunkStore is a content-addressed blob store over BadgerDB. Chunk ids are
// the hex SHA-256 of the blob bytes, so Put is idempotent for equal bytes.
//
// The mark set for a GC cycle is held in memory: marks are cheap and a crash
// mid-cycle simply requires a new cycle, never deletes unmarked data.
//
// Thread Safety: safe for concurrent use. Sweep holds the mark lock while
// deleting, so a cycle's marks are stable during its sweep.
type ChunkStore struct {
	db *DB

	mu     sync.Mutex
	marked map[ptri.ChunkID]struct{}
}

var _ ptri.ChunkStore = (*ChunkStore)(nil)

// NewChunkStore creates a chunk store over an open DB. The DB is owned by
// the caller.
func NewChunkStore(db *DB) *ChunkStore {
	return &ChunkStore{db: db}
}

func chunkKey(id ptri.ChunkID) []byte {
	return []byte(chunkKeyPrefix + string(id))
}

// Put stores a blob under its content address and returns the address.
func (s *ChunkStore) Put(ctx context.Context, data []byte) (ptri.ChunkID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	sum := sha256.Sum256(data)
	id := ptri.ChunkID(hex.EncodeToString(sum[:]))

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(chunkKey(id), data)
	})
	if err != nil {
		return "", fmt.Errorf("put chunk %s: %w", id, err)
	}
	return id, nil
}

// Get returns the blob for an id, with present=false when absent.
func (s *ChunkStore) Get(ctx context.Context, id ptri.ChunkID) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(chunkKey(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get chunk %s: %w", id, err)
	}
	return data, true, nil
}

// Has reports whether a blob exists for the id.
func (s *ChunkStore) Has(ctx context.Context, id ptri.ChunkID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(chunkKey(id))
		return err
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has chunk %s: %w", id, err)
	}
	return true, nil
}

// BeginGCCycle starts a mark-and-sweep cycle, discarding prior marks.
func (s *ChunkStore) BeginGCCycle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = make(map[ptri.ChunkID]struct{})
	return nil
}

// MarkReachable marks a chunk as live for the current cycle. A mark outside
// a cycle is a no-op.
func (s *ChunkStore) MarkReachable(ctx context.Context, id ptri.ChunkID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.marked != nil {
		s.marked[id] = struct{}{}
	}
	return nil
}

// Sweep removes every chunk not marked since BeginGCCycle and ends the
// cycle. Without a preceding BeginGCCycle it removes nothing.
func (s *ChunkStore) Sweep(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.marked == nil {
		return 0, nil
	}

	var victims []ptri.ChunkID
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(chunkKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			id := ptri.ChunkID(it.Item().Key()[len(chunkKeyPrefix):])
			if _, live := s.marked[id]; !live {
				victims = append(victims, id)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sweep scan: %w", err)
	}

	removed := 0
	for _, id := range victims {
		err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(chunkKey(id))
		})
		if err != nil {
			return removed, fmt.Errorf("sweep delete %s: %w", id, err)
		}
		removed++
	}

	s.marked = nil
	return removed, nil
}

// Stats returns current chunk count and total payload bytes.
func (s *ChunkStore) Stats(ctx context.Context) (ptri.ChunkStoreStats, error) {
	if err := ctx.Err(); err != nil {
		return ptri.ChunkStoreStats{}, err
	}

	var stats ptri.ChunkStoreStats
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(chunkKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			stats.Chunks++
			stats.Bytes += it.Item().ValueSize()
		}
		return nil
	})
	if err != nil {
		return ptri.ChunkStoreStats{}, fmt.Errorf("stats scan: %w", err)
	}
	return stats, nil
}
