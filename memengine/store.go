// Copyright (C) 2026 Ntropish
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package memengine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/Ntropish/ptri"
)

// ChunkStore is an in-memory content-addressed blob store implementing
// ptri.ChunkStore, including the mark-and-sweep cycle. Chunk ids are the
// hex SHA-256 of the blob bytes.
//
// Thread Safety: safe for concurrent use.
type ChunkStore struct {
	mu     sync.Mutex
	blobs  map[ptri.ChunkID][]byte
	marked map[ptri.ChunkID]struct{}
}

var _ ptri.ChunkStore = (*ChunkStore)(nil)

// NewChunkStore creates an empty in-memory chunk store.
func NewChunkStore() *ChunkStore {
	return &ChunkStore{blobs: make(map[ptri.ChunkID][]byte)}
}

// Put stores a blob under its content address. Idempotent for equal bytes.
func (s *ChunkStore) Put(_ context.Context, data []byte) (ptri.ChunkID, error) {
	sum := sha256.Sum256(data)
	id := ptri.ChunkID(hex.EncodeToString(sum[:]))

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.blobs[id]; !exists {
		stored := make([]byte, len(data))
		copy(stored, data)
		s.blobs[id] = stored
	}
	return id, nil
}

// Get returns the blob for an id.
func (s *ChunkStore) Get(_ context.Context, id ptri.ChunkID) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, ok := s.blobs[id]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, true, nil
}

// Has reports whether a blob exists for the id.
func (s *ChunkStore) Has(_ context.Context, id ptri.ChunkID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blobs[id]
	return ok, nil
}

// BeginGCCycle starts a mark-and-sweep cycle, clearing prior marks.
func (s *ChunkStore) BeginGCCycle(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = make(map[ptri.ChunkID]struct{})
	return nil
}

// MarkReachable marks a chunk as live for the current cycle.
func (s *ChunkStore) MarkReachable(_ context.Context, id ptri.ChunkID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.marked != nil {
		s.marked[id] = struct{}{}
	}
	return nil
}

// Sweep removes every chunk not marked since BeginGCCycle.
func (s *ChunkStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.marked == nil {
		return 0, nil
	}
	removed := 0
	for id := range s.blobs {
		if _, live := s.marked[id]; !live {
			delete(s.blobs, id)
			removed++
		}
	}
	s.marked = nil
	return removed, nil
}

// Stats returns current storage usage.
func (s *ChunkStore) Stats(_ context.Context) (ptri.ChunkStoreStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := ptri.ChunkStoreStats{Chunks: len(s.blobs)}
	for _, blob := range s.blobs {
		stats.Bytes += int64(len(blob))
	}
	return stats, nil
}

// MetadataStore is an in-memory ptri.MetadataStore. FailSave and FailLoad
// inject errors for exercising the degraded-durability paths.
//
// Thread Safety: safe for concurrent use.
type MetadataStore struct {
	mu    sync.Mutex
	metas map[string]ptri.Metadata

	// FailSave, when non-nil, is returned by every Save.
	FailSave error

	// FailLoad, when non-nil, is returned by every Load.
	FailLoad error
}

var _ ptri.MetadataStore = (*MetadataStore)(nil)

// NewMetadataStore creates an empty in-memory metadata store.
func NewMetadataStore() *MetadataStore {
	return &MetadataStore{metas: make(map[string]ptri.Metadata)}
}

// Save records the metadata under the store name.
func (s *MetadataStore) Save(_ context.Context, name string, meta ptri.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailSave != nil {
		return s.FailSave
	}
	ids := make([]ptri.SnapshotID, len(meta.Timeline))
	copy(ids, meta.Timeline)
	s.metas[name] = ptri.Metadata{Timeline: ids, Index: meta.Index}
	return nil
}

// Load returns the metadata for a store name.
func (s *MetadataStore) Load(_ context.Context, name string) (ptri.Metadata, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailLoad != nil {
		return ptri.Metadata{}, false, s.FailLoad
	}
	meta, ok := s.metas[name]
	if !ok {
		return ptri.Metadata{}, false, nil
	}
	ids := make([]ptri.SnapshotID, len(meta.Timeline))
	copy(ids, meta.Timeline)
	return ptri.Metadata{Timeline: ids, Index: meta.Index}, true, nil
}
