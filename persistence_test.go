// Copyright (C) 2026 Ntropish
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ptri

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// recordingStore captures saves for assertions.
type recordingStore struct {
	mu    sync.Mutex
	saved []Metadata
	fail  error
}

func (r *recordingStore) Save(_ context.Context, _ string, meta Metadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.saved = append(r.saved, meta)
	return nil
}

func (r *recordingStore) Load(context.Context, string) (Metadata, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.saved) == 0 {
		return Metadata{}, false, nil
	}
	return r.saved[len(r.saved)-1], true, nil
}

func (r *recordingStore) last(t *testing.T) Metadata {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.saved) == 0 {
		t.Fatal("no saves recorded")
	}
	return r.saved[len(r.saved)-1]
}

func TestMetaWriter(t *testing.T) {
	t.Run("persists scheduled metadata", func(t *testing.T) {
		store := &recordingStore{}
		w := newMetaWriter(store, "test", nil)

		w.schedule(Metadata{Timeline: []SnapshotID{"a", "b"}, Index: 1})
		w.close()

		meta := store.last(t)
		if len(meta.Timeline) != 2 || meta.Index != 1 {
			t.Errorf("saved meta = %+v, want timeline len 2 index 1", meta)
		}
	})

	t.Run("close flushes the pending save", func(t *testing.T) {
		store := &recordingStore{}
		w := newMetaWriter(store, "test", nil)

		for i := 0; i < 50; i++ {
			w.schedule(Metadata{Timeline: []SnapshotID{"a"}, Index: 0})
		}
		w.schedule(Metadata{Timeline: []SnapshotID{"a", "b", "c"}, Index: 2})
		w.close()

		// Intermediate states may coalesce away, but the final one must land.
		meta := store.last(t)
		if len(meta.Timeline) != 3 || meta.Index != 2 {
			t.Errorf("final meta = %+v, want timeline len 3 index 2", meta)
		}
	})

	t.Run("save failure is swallowed", func(t *testing.T) {
		store := &recordingStore{fail: errors.New("disk on fire")}
		w := newMetaWriter(store, "test", nil)

		// Must not panic or block the caller.
		w.schedule(Metadata{Timeline: []SnapshotID{"a"}, Index: 0})
		time.Sleep(20 * time.Millisecond)
		w.close()
	})

	t.Run("nil store is a no-op", func(t *testing.T) {
		w := newMetaWriter(nil, "test", nil)
		w.schedule(Metadata{Timeline: []SnapshotID{"a"}, Index: 0})
		w.close()
	})

	t.Run("schedule after close does not block", func(t *testing.T) {
		store := &recordingStore{}
		w := newMetaWriter(store, "test", nil)
		w.close()

		done := make(chan struct{})
		go func() {
			w.schedule(Metadata{Timeline: []SnapshotID{"a"}, Index: 0})
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("schedule blocked after close")
		}
	})
}
