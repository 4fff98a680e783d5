// Copyright (C) 2026 Ntropish
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package badgerstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ntropish/ptri"
	"github.com/Ntropish/ptri/memengine"
	"github.com/Ntropish/ptri/storage/badgerstore"
)

func openDB(t *testing.T) *badgerstore.DB {
	t.Helper()
	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("close database: %v", err)
		}
	})
	return db
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := badgerstore.Open(badgerstore.Config{})
	assert.Error(t, err)
}

func TestOpen_Persistent(t *testing.T) {
	cfg := badgerstore.DefaultConfig()
	cfg.Path = t.TempDir()
	cfg.SyncWrites = false
	cfg.GCInterval = 0

	db, err := badgerstore.Open(cfg)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestMetadataStore(t *testing.T) {
	ctx := context.Background()
	store := badgerstore.NewMetadataStore(openDB(t))

	t.Run("load before save reports absent", func(t *testing.T) {
		_, present, err := store.Load(ctx, "unknown")
		require.NoError(t, err)
		assert.False(t, present)
	})

	t.Run("save then load round trips", func(t *testing.T) {
		meta := ptri.Metadata{
			Timeline: []ptri.SnapshotID{"s0", "s1", "s2"},
			Index:    1,
		}
		require.NoError(t, store.Save(ctx, "main", meta))

		got, present, err := store.Load(ctx, "main")
		require.NoError(t, err)
		require.True(t, present)
		assert.Equal(t, meta, got)
	})

	t.Run("save replaces the previous record", func(t *testing.T) {
		first := ptri.Metadata{Timeline: []ptri.SnapshotID{"a", "b"}, Index: 1}
		second := ptri.Metadata{Timeline: []ptri.SnapshotID{"a"}, Index: 0}
		require.NoError(t, store.Save(ctx, "replaced", first))
		require.NoError(t, store.Save(ctx, "replaced", second))

		got, present, err := store.Load(ctx, "replaced")
		require.NoError(t, err)
		require.True(t, present)
		assert.Equal(t, second, got)
	})

	t.Run("store names are isolated", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, "one", ptri.Metadata{
			Timeline: []ptri.SnapshotID{"x"}, Index: 0,
		}))

		_, present, err := store.Load(ctx, "two")
		require.NoError(t, err)
		assert.False(t, present)
	})

	t.Run("cancelled context is rejected", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()

		err := store.Save(cancelled, "x", ptri.Metadata{Timeline: []ptri.SnapshotID{"s"}})
		assert.ErrorIs(t, err, context.Canceled)
		_, _, err = store.Load(cancelled, "x")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestChunkStore(t *testing.T) {
	ctx := context.Background()
	store := badgerstore.NewChunkStore(openDB(t))

	t.Run("put get has round trip", func(t *testing.T) {
		id, err := store.Put(ctx, []byte("hello"))
		require.NoError(t, err)

		data, present, err := store.Get(ctx, id)
		require.NoError(t, err)
		require.True(t, present)
		assert.Equal(t, []byte("hello"), data)

		ok, err := store.Has(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("put is idempotent for equal bytes", func(t *testing.T) {
		a, err := store.Put(ctx, []byte("same"))
		require.NoError(t, err)
		b, err := store.Put(ctx, []byte("same"))
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("missing chunk reports absent", func(t *testing.T) {
		_, present, err := store.Get(ctx, "no-such-chunk")
		require.NoError(t, err)
		assert.False(t, present)

		ok, err := store.Has(ctx, "no-such-chunk")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestChunkStore_GC(t *testing.T) {
	ctx := context.Background()
	store := badgerstore.NewChunkStore(openDB(t))

	keep, err := store.Put(ctx, []byte("keep"))
	require.NoError(t, err)
	drop, err := store.Put(ctx, []byte("drop"))
	require.NoError(t, err)

	t.Run("sweep without a cycle removes nothing", func(t *testing.T) {
		removed, err := store.Sweep(ctx)
		require.NoError(t, err)
		assert.Zero(t, removed)
	})

	t.Run("mark outside a cycle is a no-op", func(t *testing.T) {
		require.NoError(t, store.MarkReachable(ctx, keep))
		removed, err := store.Sweep(ctx)
		require.NoError(t, err)
		assert.Zero(t, removed)
	})

	t.Run("sweep removes unmarked chunks only", func(t *testing.T) {
		require.NoError(t, store.BeginGCCycle(ctx))
		require.NoError(t, store.MarkReachable(ctx, keep))

		removed, err := store.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		ok, err := store.Has(ctx, keep)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = store.Has(ctx, drop)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("stats reflect the surviving chunks", func(t *testing.T) {
		stats, err := store.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Chunks)
		assert.Positive(t, stats.Bytes)
	})
}

// TestSessionOverBadger runs a session against a badger-backed metadata store
// and an engine writing through a badger-backed chunk store, then reopens the
// same state from the stores alone.
func TestSessionOverBadger(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	chunks := badgerstore.NewChunkStore(db)
	metas := badgerstore.NewMetadataStore(db)

	first, err := ptri.New(ptri.Config{
		Engine:    memengine.New(chunks),
		Metadata:  metas,
		StoreName: "over-badger",
	})
	require.NoError(t, err)
	require.NoError(t, first.Start(ctx))

	_, err = first.Mutate(ctx, ptri.WriteSet{
		Set: []ptri.Entry{{Key: "k", Value: []byte("v")}},
	})
	require.NoError(t, err)
	want, err := first.Current()
	require.NoError(t, err)
	first.Close()

	// A fresh engine resolves the persisted timeline through the chunk store.
	second, err := ptri.New(ptri.Config{
		Engine:    memengine.New(chunks),
		Metadata:  metas,
		StoreName: "over-badger",
	})
	require.NoError(t, err)
	require.NoError(t, second.Start(ctx))
	defer second.Close()

	got, err := second.Current()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	value, present, err := second.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, present)
	assert.Equal(t, []byte("v"), value)
}
