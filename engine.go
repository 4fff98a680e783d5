// Copyright (C) 2026 Ntropish
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ptri

import "context"

// SnapshotID is an opaque, content-derived identifier naming one immutable
// state of the index. Two ids are equal iff the states they name are
// byte-identical.
type SnapshotID string

// Digest is a deterministic, size-cheap content summary of a read's result.
// Digest equality implies content equality for the same descriptor; digest
// inequality implies some observable difference.
type Digest string

// ChunkID is a content address in the chunk store.
type ChunkID string

// Entry is a single key/value pair from the index.
type Entry struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// WriteSet is a batch of mutations applied atomically against one snapshot.
type WriteSet struct {
	// Set contains entries to insert or replace.
	Set []Entry `json:"set,omitempty"`

	// Del contains keys to remove. Deleting an absent key is a no-op.
	Del []string `json:"del,omitempty"`
}

// Empty reports whether the write set contains no operations.
func (w WriteSet) Empty() bool {
	return len(w.Set) == 0 && len(w.Del) == 0
}

// RangeQuery describes a bounded, directional, paginated view over ordered
// keys. The zero value matches the engine defaults: unbounded, start
// inclusive, end exclusive, no offset, no limit, ascending.
//
// Every field is part of the fingerprint's input domain: changing any field
// can change the digest even when the matched rows are identical, because the
// digest reflects the read's enumeration, not only its content.
type RangeQuery struct {
	// Start is the lower key bound. Nil means unbounded.
	Start *string `json:"start,omitempty"`

	// End is the upper key bound. Nil means unbounded.
	End *string `json:"end,omitempty"`

	// StartExclusive excludes the Start key itself. The default (false)
	// makes the lower bound inclusive.
	StartExclusive bool `json:"startExclusive,omitempty"`

	// EndInclusive includes the End key itself. The default (false) makes
	// the upper bound exclusive.
	EndInclusive bool `json:"endInclusive,omitempty"`

	// Offset skips that many matched entries after ordering.
	Offset int `json:"offset,omitempty"`

	// Limit caps the number of returned entries. Zero means no limit.
	Limit int `json:"limit,omitempty"`

	// Reverse enumerates in descending key order.
	Reverse bool `json:"reverse,omitempty"`
}

// Paginated reports whether the query carries an offset or limit.
// Count rejects paginated queries.
func (q RangeQuery) Paginated() bool {
	return q.Offset != 0 || q.Limit != 0
}

// DiffEntry is one key-wise difference between two snapshots.
type DiffEntry struct {
	Key          string `json:"key"`
	Left         []byte `json:"left,omitempty"`
	LeftPresent  bool   `json:"leftPresent"`
	Right        []byte `json:"right,omitempty"`
	RightPresent bool   `json:"rightPresent"`
}

// Engine is the contract the immutable tree index must satisfy. All methods
// are keyed by snapshot id; no call mutates an existing snapshot.
//
// The coordinator treats the engine as an external collaborator: it never
// inspects tree internals, only snapshot ids and read results.
//
// Thread Safety: implementations must be safe for concurrent use. Reads
// against distinct snapshots must not block each other.
type Engine interface {
	// Create produces a new empty snapshot.
	Create(ctx context.Context) (SnapshotID, error)

	// Mutate applies a write set against a base snapshot and returns the id
	// of the resulting snapshot. The base snapshot is unchanged.
	Mutate(ctx context.Context, base SnapshotID, ws WriteSet) (SnapshotID, error)

	// Get returns the value for a key, with present=false when absent.
	// An absent key is distinct from a present key with an empty value.
	Get(ctx context.Context, snap SnapshotID, key string) (value []byte, present bool, err error)

	// Scan returns the entries matched by the query, in enumeration order.
	Scan(ctx context.Context, snap SnapshotID, q RangeQuery) ([]Entry, error)

	// Count returns the number of entries matched by the query bounds.
	// It rejects queries carrying Offset or Limit.
	Count(ctx context.Context, snap SnapshotID, q RangeQuery) (int, error)

	// Diff returns the key-wise differences between two snapshots within
	// the query's view.
	Diff(ctx context.Context, a, b SnapshotID, q RangeQuery) ([]DiffEntry, error)

	// FingerprintGet returns the digest of a point read without fetching
	// the value.
	FingerprintGet(ctx context.Context, snap SnapshotID, key string) (Digest, error)

	// FingerprintScan returns the digest of a range read without fetching
	// the entries. Cost is proportional to structural components touched,
	// not result size.
	FingerprintScan(ctx context.Context, snap SnapshotID, q RangeQuery) (Digest, error)

	// GetWithFingerprint returns value and digest in one round trip.
	GetWithFingerprint(ctx context.Context, snap SnapshotID, key string) (value []byte, present bool, d Digest, err error)

	// ScanWithFingerprint returns entries and digest in one round trip.
	ScanWithFingerprint(ctx context.Context, snap SnapshotID, q RangeQuery) ([]Entry, Digest, error)
}

// ChunkStoreStats summarizes physical storage usage.
type ChunkStoreStats struct {
	Chunks int   `json:"chunks"`
	Bytes  int64 `json:"bytes"`
}

// ChunkStore is the contract for physical content-addressed blob storage.
// The coordinator reaches it only transitively through the engine and never
// invokes the GC cycle itself; the cycle is exposed for the store's owner.
//
// Thread Safety: implementations must be safe for concurrent use.
type ChunkStore interface {
	// Put stores a blob and returns its content address. Storing the same
	// bytes twice yields the same id.
	Put(ctx context.Context, data []byte) (ChunkID, error)

	// Get returns the blob for an id, with present=false when absent.
	Get(ctx context.Context, id ChunkID) (data []byte, present bool, err error)

	// Has reports whether a blob exists for the id.
	Has(ctx context.Context, id ChunkID) (bool, error)

	// BeginGCCycle starts a mark-and-sweep cycle, clearing any prior marks.
	BeginGCCycle(ctx context.Context) error

	// MarkReachable marks a chunk as live for the current cycle.
	MarkReachable(ctx context.Context, id ChunkID) error

	// Sweep removes every chunk not marked since BeginGCCycle and returns
	// the number of chunks removed.
	Sweep(ctx context.Context) (removed int, err error)

	// Stats returns current storage usage.
	Stats(ctx context.Context) (ChunkStoreStats, error)
}
