// Copyright (C) 2026 Ntropish
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package memengine provides an in-memory reference implementation of the
// ptri.Engine contract.
//
// Snapshots are immutable sorted entry sets named by the SHA-256 of their
// canonical encoding, so ids are content-derived: two snapshots with
// byte-identical state share one id. When constructed with a chunk store,
// encoded snapshots are written through it and unknown ids are resolved from
// it, so engines sharing a store resolve each other's snapshots.
//
// Fingerprints hash the read's enumeration, not only its content: every
// descriptor parameter (bounds, inclusivity, offset, limit, direction) is
// part of the digest input, and a present key with an empty value digests
// differently from an absent key.
package memengine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Ntropish/ptri"
)

var (
	// ErrUnknownSnapshot is returned when an operation references a
	// snapshot id this engine cannot resolve.
	ErrUnknownSnapshot = errors.New("unknown snapshot id")

	// ErrCountPaginated is returned when Count receives a query carrying
	// an offset or limit.
	ErrCountPaginated = errors.New("count does not accept offset or limit")
)

// Engine is an in-memory ptri.Engine.
//
// Thread Safety: safe for concurrent use. Snapshots are immutable once
// created; the map of snapshots is guarded by a RWMutex.
type Engine struct {
	mu     sync.RWMutex
	snaps  map[ptri.SnapshotID][]ptri.Entry
	chunks ptri.ChunkStore
}

var _ ptri.Engine = (*Engine)(nil)

// New creates an engine. The chunk store is optional; nil keeps snapshots in
// memory only. A non-nil store must be content-addressed by SHA-256 so the
// chunk id of an encoded snapshot equals its snapshot id.
func New(chunks ptri.ChunkStore) *Engine {
	return &Engine{
		snaps:  make(map[ptri.SnapshotID][]ptri.Entry),
		chunks: chunks,
	}
}

// Create produces a new empty snapshot.
func (e *Engine) Create(ctx context.Context) (ptri.SnapshotID, error) {
	return e.store(ctx, nil)
}

// Mutate applies a write set against a base snapshot. The base is unchanged;
// the result's id is derived from the resulting content.
func (e *Engine) Mutate(ctx context.Context, base ptri.SnapshotID, ws ptri.WriteSet) (ptri.SnapshotID, error) {
	entries, err := e.resolve(ctx, base)
	if err != nil {
		return "", err
	}

	next := make([]ptri.Entry, len(entries))
	copy(next, entries)

	for _, set := range ws.Set {
		i := sort.Search(len(next), func(i int) bool { return next[i].Key >= set.Key })
		value := make([]byte, len(set.Value))
		copy(value, set.Value)
		if i < len(next) && next[i].Key == set.Key {
			next[i] = ptri.Entry{Key: set.Key, Value: value}
			continue
		}
		next = append(next, ptri.Entry{})
		copy(next[i+1:], next[i:])
		next[i] = ptri.Entry{Key: set.Key, Value: value}
	}

	for _, key := range ws.Del {
		i := sort.Search(len(next), func(i int) bool { return next[i].Key >= key })
		if i < len(next) && next[i].Key == key {
			next = append(next[:i], next[i+1:]...)
		}
	}

	return e.store(ctx, next)
}

// Get returns the value for a key. An absent key is distinct from a present
// key with an empty value.
func (e *Engine) Get(ctx context.Context, snap ptri.SnapshotID, key string) ([]byte, bool, error) {
	entries, err := e.resolve(ctx, snap)
	if err != nil {
		return nil, false, err
	}

	i := sort.Search(len(entries), func(i int) bool { return entries[i].Key >= key })
	if i < len(entries) && entries[i].Key == key {
		value := make([]byte, len(entries[i].Value))
		copy(value, entries[i].Value)
		return value, true, nil
	}
	return nil, false, nil
}

// Scan returns the entries matched by the query in enumeration order.
func (e *Engine) Scan(ctx context.Context, snap ptri.SnapshotID, q ptri.RangeQuery) ([]ptri.Entry, error) {
	entries, err := e.resolve(ctx, snap)
	if err != nil {
		return nil, err
	}
	return enumerate(entries, q), nil
}

// Count returns the number of entries within the query bounds. Queries
// carrying offset or limit are rejected.
func (e *Engine) Count(ctx context.Context, snap ptri.SnapshotID, q ptri.RangeQuery) (int, error) {
	if q.Paginated() {
		return 0, ErrCountPaginated
	}

	entries, err := e.resolve(ctx, snap)
	if err != nil {
		return 0, err
	}
	lo, hi := boundsOf(entries, q)
	return hi - lo, nil
}

// Diff returns the key-wise differences between two snapshots within the
// query's view.
func (e *Engine) Diff(ctx context.Context, a, b ptri.SnapshotID, q ptri.RangeQuery) ([]ptri.DiffEntry, error) {
	left, err := e.resolve(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("left snapshot: %w", err)
	}
	right, err := e.resolve(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("right snapshot: %w", err)
	}

	llo, lhi := boundsOf(left, q)
	rlo, rhi := boundsOf(right, q)
	left, right = left[llo:lhi], right[rlo:rhi]

	// Two-pointer merge over the sorted slices.
	var diffs []ptri.DiffEntry
	i, j := 0, 0
	for i < len(left) || j < len(right) {
		switch {
		case j >= len(right) || (i < len(left) && left[i].Key < right[j].Key):
			diffs = append(diffs, ptri.DiffEntry{
				Key: left[i].Key, Left: left[i].Value, LeftPresent: true,
			})
			i++
		case i >= len(left) || right[j].Key < left[i].Key:
			diffs = append(diffs, ptri.DiffEntry{
				Key: right[j].Key, Right: right[j].Value, RightPresent: true,
			})
			j++
		default:
			if !bytes.Equal(left[i].Value, right[j].Value) {
				diffs = append(diffs, ptri.DiffEntry{
					Key:  left[i].Key,
					Left: left[i].Value, LeftPresent: true,
					Right: right[j].Value, RightPresent: true,
				})
			}
			i++
			j++
		}
	}

	if q.Reverse {
		for lo, hi := 0, len(diffs)-1; lo < hi; lo, hi = lo+1, hi-1 {
			diffs[lo], diffs[hi] = diffs[hi], diffs[lo]
		}
	}
	diffs = paginate(diffs, q)
	return diffs, nil
}

// FingerprintGet returns the digest of a point read.
func (e *Engine) FingerprintGet(ctx context.Context, snap ptri.SnapshotID, key string) (ptri.Digest, error) {
	value, present, err := e.Get(ctx, snap, key)
	if err != nil {
		return "", err
	}
	return getDigest(key, value, present), nil
}

// FingerprintScan returns the digest of a range read.
func (e *Engine) FingerprintScan(ctx context.Context, snap ptri.SnapshotID, q ptri.RangeQuery) (ptri.Digest, error) {
	entries, err := e.resolve(ctx, snap)
	if err != nil {
		return "", err
	}
	return scanDigest(q, enumerate(entries, q)), nil
}

// GetWithFingerprint returns value and digest in one round trip.
func (e *Engine) GetWithFingerprint(ctx context.Context, snap ptri.SnapshotID, key string) ([]byte, bool, ptri.Digest, error) {
	value, present, err := e.Get(ctx, snap, key)
	if err != nil {
		return nil, false, "", err
	}
	return value, present, getDigest(key, value, present), nil
}

// ScanWithFingerprint returns entries and digest in one round trip.
func (e *Engine) ScanWithFingerprint(ctx context.Context, snap ptri.SnapshotID, q ptri.RangeQuery) ([]ptri.Entry, ptri.Digest, error) {
	entries, err := e.resolve(ctx, snap)
	if err != nil {
		return nil, "", err
	}
	matched := enumerate(entries, q)
	return matched, scanDigest(q, matched), nil
}

// -----------------------------------------------------------------------------
// Snapshot storage
// -----------------------------------------------------------------------------

// store registers a sorted entry set under its content-derived id and writes
// the encoding through the chunk store when one is configured.
func (e *Engine) store(ctx context.Context, entries []ptri.Entry) (ptri.SnapshotID, error) {
	enc := encodeEntries(entries)
	sum := sha256.Sum256(enc)
	id := ptri.SnapshotID(hex.EncodeToString(sum[:]))

	e.mu.Lock()
	if _, exists := e.snaps[id]; !exists {
		e.snaps[id] = entries
	}
	e.mu.Unlock()

	if e.chunks != nil {
		if _, err := e.chunks.Put(ctx, enc); err != nil {
			return "", fmt.Errorf("persist snapshot %s: %w", id, err)
		}
	}
	return id, nil
}

// resolve returns the entry set for a snapshot id, consulting the chunk
// store for ids created by another engine instance.
func (e *Engine) resolve(ctx context.Context, snap ptri.SnapshotID) ([]ptri.Entry, error) {
	e.mu.RLock()
	entries, ok := e.snaps[snap]
	e.mu.RUnlock()
	if ok {
		return entries, nil
	}

	if e.chunks == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSnapshot, snap)
	}

	data, present, err := e.chunks.Get(ctx, ptri.ChunkID(snap))
	if err != nil {
		return nil, fmt.Errorf("resolve snapshot %s: %w", snap, err)
	}
	if !present {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSnapshot, snap)
	}

	entries, err = decodeEntries(data)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", snap, err)
	}

	e.mu.Lock()
	e.snaps[snap] = entries
	e.mu.Unlock()
	return entries, nil
}

// -----------------------------------------------------------------------------
// Canonical encoding
// -----------------------------------------------------------------------------

// encodeEntries produces the canonical byte encoding of a sorted entry set:
// a uvarint count followed by length-prefixed key and value bytes per entry.
func encodeEntries(entries []ptri.Entry) []byte {
	var buf bytes.Buffer
	var scratch [binary.MaxVarintLen64]byte

	writeUvarint := func(v uint64) {
		n := binary.PutUvarint(scratch[:], v)
		buf.Write(scratch[:n])
	}

	writeUvarint(uint64(len(entries)))
	for _, entry := range entries {
		writeUvarint(uint64(len(entry.Key)))
		buf.WriteString(entry.Key)
		writeUvarint(uint64(len(entry.Value)))
		buf.Write(entry.Value)
	}
	return buf.Bytes()
}

func decodeEntries(data []byte) ([]ptri.Entry, error) {
	r := bytes.NewReader(data)

	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("read count: %w", err)
	}

	readBytes := func() ([]byte, error) {
		n, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		if n > uint64(r.Len()) {
			return nil, fmt.Errorf("length %d exceeds remaining %d bytes", n, r.Len())
		}
		b := make([]byte, n)
		if _, err := r.Read(b); err != nil {
			return nil, err
		}
		return b, nil
	}

	entries := make([]ptri.Entry, 0, count)
	for i := uint64(0); i < count; i++ {
		key, err := readBytes()
		if err != nil {
			return nil, fmt.Errorf("read key %d: %w", i, err)
		}
		value, err := readBytes()
		if err != nil {
			return nil, fmt.Errorf("read value %d: %w", i, err)
		}
		entries = append(entries, ptri.Entry{Key: string(key), Value: value})
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after %d entries", r.Len(), count)
	}
	return entries, nil
}

// -----------------------------------------------------------------------------
// Range enumeration
// -----------------------------------------------------------------------------

// boundsOf returns the [lo, hi) window of a sorted entry slice matched by
// the query bounds, ignoring pagination and direction.
func boundsOf(entries []ptri.Entry, q ptri.RangeQuery) (int, int) {
	lo := 0
	if q.Start != nil {
		start := *q.Start
		if q.StartExclusive {
			lo = sort.Search(len(entries), func(i int) bool { return entries[i].Key > start })
		} else {
			lo = sort.Search(len(entries), func(i int) bool { return entries[i].Key >= start })
		}
	}

	hi := len(entries)
	if q.End != nil {
		end := *q.End
		if q.EndInclusive {
			hi = sort.Search(len(entries), func(i int) bool { return entries[i].Key > end })
		} else {
			hi = sort.Search(len(entries), func(i int) bool { return entries[i].Key >= end })
		}
	}

	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// enumerate applies the full query pipeline: bounds, direction, offset,
// limit. The returned slice is freshly allocated.
func enumerate(entries []ptri.Entry, q ptri.RangeQuery) []ptri.Entry {
	lo, hi := boundsOf(entries, q)
	window := entries[lo:hi]

	matched := make([]ptri.Entry, len(window))
	if q.Reverse {
		for i, entry := range window {
			matched[len(window)-1-i] = entry
		}
	} else {
		copy(matched, window)
	}

	return paginate(matched, q)
}

func paginate[T any](items []T, q ptri.RangeQuery) []T {
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > len(items) {
		offset = len(items)
	}
	items = items[offset:]
	if q.Limit > 0 && len(items) > q.Limit {
		items = items[:q.Limit]
	}
	return items
}

// -----------------------------------------------------------------------------
// Digests
// -----------------------------------------------------------------------------

// getDigest hashes a point read: the key, presence, and value bytes. An
// absent key digests differently from a present key with an empty value.
func getDigest(key string, value []byte, present bool) ptri.Digest {
	h := sha256.New()
	var scratch [binary.MaxVarintLen64]byte

	writeUvarint := func(v uint64) {
		n := binary.PutUvarint(scratch[:], v)
		h.Write(scratch[:n])
	}

	h.Write([]byte("ptri.get\x00"))
	writeUvarint(uint64(len(key)))
	h.Write([]byte(key))
	if present {
		h.Write([]byte{1})
		writeUvarint(uint64(len(value)))
		h.Write(value)
	} else {
		h.Write([]byte{0})
	}
	return ptri.Digest(hex.EncodeToString(h.Sum(nil)))
}

// scanDigest hashes a range read's enumeration: every descriptor parameter
// plus the matched entries in enumeration order. Toggling any parameter,
// including Reverse, can change the digest even over an identical row set.
func scanDigest(q ptri.RangeQuery, matched []ptri.Entry) ptri.Digest {
	h := sha256.New()
	var scratch [binary.MaxVarintLen64]byte

	writeUvarint := func(v uint64) {
		n := binary.PutUvarint(scratch[:], v)
		h.Write(scratch[:n])
	}
	writeBool := func(b bool) {
		if b {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	}
	writeOptString := func(s *string) {
		if s == nil {
			h.Write([]byte{0})
			return
		}
		h.Write([]byte{1})
		writeUvarint(uint64(len(*s)))
		h.Write([]byte(*s))
	}

	h.Write([]byte("ptri.scan\x00"))
	writeOptString(q.Start)
	writeOptString(q.End)
	writeBool(q.StartExclusive)
	writeBool(q.EndInclusive)
	writeUvarint(uint64(q.Offset))
	writeUvarint(uint64(q.Limit))
	writeBool(q.Reverse)

	writeUvarint(uint64(len(matched)))
	for _, entry := range matched {
		writeUvarint(uint64(len(entry.Key)))
		h.Write([]byte(entry.Key))
		writeUvarint(uint64(len(entry.Value)))
		h.Write(entry.Value)
	}
	return ptri.Digest(hex.EncodeToString(h.Sum(nil)))
}
