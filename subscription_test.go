// Copyright (C) 2026 Ntropish
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ptri_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ntropish/ptri"
	"github.com/Ntropish/ptri/memengine"
)

func nextUpdate(t *testing.T, sub *ptri.Subscription) ptri.WatchUpdate {
	t.Helper()
	select {
	case u, ok := <-sub.Updates():
		if !ok {
			t.Fatal("updates channel closed")
		}
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscription update")
	}
	return ptri.WatchUpdate{}
}

func TestWatch_InitialEvaluation(t *testing.T) {
	ctx := context.Background()
	session := startSession(t, ptri.Config{})

	_, err := session.Mutate(ctx, set("a", "1"))
	require.NoError(t, err)

	sub, err := session.Watch("a")
	require.NoError(t, err)
	defer sub.Close()

	u := nextUpdate(t, sub)
	assert.True(t, u.Changed, "first evaluation must report changed")
	assert.True(t, u.Present)
	assert.Equal(t, []byte("1"), u.Value)

	current, err := session.Current()
	require.NoError(t, err)
	assert.Equal(t, current, u.Snapshot)
}

func TestWatch_ChangeDetection(t *testing.T) {
	ctx := context.Background()
	session := startSession(t, ptri.Config{})

	_, err := session.Mutate(ctx, set("a", "1"))
	require.NoError(t, err)

	sub, err := session.Watch("a")
	require.NoError(t, err)
	defer sub.Close()

	first := nextUpdate(t, sub)
	require.True(t, first.Changed)

	t.Run("unrelated commit reports unchanged with the cached value", func(t *testing.T) {
		_, err := session.Mutate(ctx, set("zzz", "other"))
		require.NoError(t, err)

		u := nextUpdate(t, sub)
		assert.False(t, u.Changed)
		assert.Equal(t, first.Digest, u.Digest)
		require.True(t, u.Present)
		require.NotEmpty(t, u.Value)
		// Same backing array: no new value object is produced.
		assert.Same(t, &first.Value[0], &u.Value[0])
	})

	t.Run("relevant commit reports changed with the new value", func(t *testing.T) {
		_, err := session.Mutate(ctx, set("a", "2"))
		require.NoError(t, err)

		u := nextUpdate(t, sub)
		assert.True(t, u.Changed)
		assert.Equal(t, []byte("2"), u.Value)
		assert.NotEqual(t, first.Digest, u.Digest)
	})

	t.Run("deletion reports changed and absent", func(t *testing.T) {
		_, err := session.Mutate(ctx, ptri.WriteSet{Del: []string{"a"}})
		require.NoError(t, err)

		u := nextUpdate(t, sub)
		assert.True(t, u.Changed)
		assert.False(t, u.Present)
	})

	t.Run("absent key and empty value are distinct", func(t *testing.T) {
		_, err := session.Mutate(ctx, set("a", ""))
		require.NoError(t, err)

		u := nextUpdate(t, sub)
		assert.True(t, u.Changed, "absent -> empty value must be a change")
		assert.True(t, u.Present)
		assert.Empty(t, u.Value)
	})
}

func TestWatch_UndoRedoDrivesEvaluations(t *testing.T) {
	ctx := context.Background()
	session := startSession(t, ptri.Config{})

	_, err := session.Mutate(ctx, set("a", "1"))
	require.NoError(t, err)

	sub, err := session.Watch("a")
	require.NoError(t, err)
	defer sub.Close()
	require.True(t, nextUpdate(t, sub).Changed)

	moved, err := session.Undo(ctx)
	require.NoError(t, err)
	require.True(t, moved)

	u := nextUpdate(t, sub)
	assert.True(t, u.Changed)
	assert.False(t, u.Present, "undo must expose the pre-commit state")

	moved, err = session.Redo(ctx)
	require.NoError(t, err)
	require.True(t, moved)

	u = nextUpdate(t, sub)
	assert.True(t, u.Changed)
	assert.Equal(t, []byte("1"), u.Value)
}

func TestWatchScan(t *testing.T) {
	ctx := context.Background()
	session := startSession(t, ptri.Config{})

	_, err := session.Mutate(ctx, ptri.WriteSet{Set: []ptri.Entry{
		{Key: "p/1", Value: []byte("a")},
		{Key: "p/2", Value: []byte("b")},
		{Key: "q/1", Value: []byte("outside")},
	}})
	require.NoError(t, err)

	start, end := "p/", "p0"
	sub, err := session.WatchScan(ptri.RangeQuery{Start: &start, End: &end})
	require.NoError(t, err)
	defer sub.Close()

	first := nextUpdate(t, sub)
	require.True(t, first.Changed)
	require.Len(t, first.Entries, 2)

	t.Run("write outside the range is unchanged", func(t *testing.T) {
		_, err := session.Mutate(ctx, set("q/2", "still outside"))
		require.NoError(t, err)

		u := nextUpdate(t, sub)
		assert.False(t, u.Changed)
		require.Len(t, u.Entries, 2)
	})

	t.Run("write inside the range is changed", func(t *testing.T) {
		_, err := session.Mutate(ctx, set("p/3", "c"))
		require.NoError(t, err)

		u := nextUpdate(t, sub)
		assert.True(t, u.Changed)
		assert.Len(t, u.Entries, 3)
	})
}

func TestWatch_CloseStopsEvaluations(t *testing.T) {
	ctx := context.Background()
	session := startSession(t, ptri.Config{})

	_, err := session.Mutate(ctx, set("a", "1"))
	require.NoError(t, err)

	sub, err := session.Watch("a")
	require.NoError(t, err)
	require.True(t, nextUpdate(t, sub).Changed)

	sub.Close()

	// The channel is closed and commits no longer evaluate.
	_, err = session.Mutate(ctx, set("a", "2"))
	require.NoError(t, err)

	select {
	case _, ok := <-sub.Updates():
		assert.False(t, ok, "updates channel must be closed after Close")
	case <-time.After(time.Second):
		t.Fatal("updates channel not closed")
	}

	// Closing twice is safe.
	sub.Close()
}

func TestWatch_SubscriptionsAreIndependent(t *testing.T) {
	ctx := context.Background()
	session := startSession(t, ptri.Config{})

	_, err := session.Mutate(ctx, ptri.WriteSet{Set: []ptri.Entry{
		{Key: "a", Value: []byte("1")},
		{Key: "b", Value: []byte("2")},
	}})
	require.NoError(t, err)

	subA, err := session.Watch("a")
	require.NoError(t, err)
	defer subA.Close()
	subB, err := session.Watch("b")
	require.NoError(t, err)
	defer subB.Close()

	require.NotEqual(t, subA.ID(), subB.ID())
	require.True(t, nextUpdate(t, subA).Changed)
	require.True(t, nextUpdate(t, subB).Changed)

	_, err = session.Mutate(ctx, set("b", "22"))
	require.NoError(t, err)

	uA := nextUpdate(t, subA)
	assert.False(t, uA.Changed, "watcher of an untouched key sees unchanged")
	uB := nextUpdate(t, subB)
	assert.True(t, uB.Changed)
	assert.Equal(t, []byte("22"), uB.Value)
}

// slowEngine delays fingerprint evaluation so a newer transition can
// supersede an in-flight one.
type slowEngine struct {
	ptri.Engine
	delay   time.Duration
	release chan struct{}
}

func (s *slowEngine) FingerprintGet(ctx context.Context, snap ptri.SnapshotID, key string) (ptri.Digest, error) {
	if s.release != nil {
		<-s.release
	} else {
		time.Sleep(s.delay)
	}
	return s.Engine.FingerprintGet(ctx, snap, key)
}

func TestWatch_StaleEvaluationDiscarded(t *testing.T) {
	ctx := context.Background()
	eng := &slowEngine{Engine: memengine.New(nil), release: make(chan struct{})}
	session := startSession(t, ptri.Config{Engine: eng})

	sub, err := session.Watch("a")
	require.NoError(t, err)
	defer sub.Close()

	// Two rapid commits while the first evaluation is blocked: the stale
	// target must never surface as the final state.
	_, err = session.Mutate(ctx, set("a", "1"))
	require.NoError(t, err)
	last, err := session.Mutate(ctx, set("a", "2"))
	require.NoError(t, err)
	close(eng.release)

	deadline := time.After(2 * time.Second)
	for {
		var u ptri.WatchUpdate
		select {
		case u = <-sub.Updates():
		case <-deadline:
			t.Fatal("never observed the latest snapshot")
		}
		if u.Snapshot == last {
			assert.Equal(t, []byte("2"), u.Value)
			return
		}
		// Earlier targets may surface while still current; a superseded
		// evaluation must not, so anything delivered here must predate
		// the final commit's value.
		assert.NotEqual(t, []byte("2"), u.Value)
	}
}
