// Copyright (C) 2026 Ntropish
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ptri

import (
	"fmt"
	"testing"
)

func TestTimeline_Commit(t *testing.T) {
	t.Run("linear commits grow the log and track the tip", func(t *testing.T) {
		tl := newTimeline("s0")

		for i := 1; i <= 5; i++ {
			tl.commit(SnapshotID(fmt.Sprintf("s%d", i)))
			if got := tl.length(); got != i+1 {
				t.Errorf("after commit %d: length = %d, want %d", i, got, i+1)
			}
			if tl.index != tl.length()-1 {
				t.Errorf("after commit %d: index = %d, want %d", i, tl.index, tl.length()-1)
			}
		}
		if got := tl.current(); got != "s5" {
			t.Errorf("current = %s, want s5", got)
		}
		if got := tl.head(); got != "s5" {
			t.Errorf("head = %s, want s5", got)
		}
	})

	t.Run("commit off the tip truncates the redo tail", func(t *testing.T) {
		tl := newTimeline("s0")
		tl.commit("s1")
		tl.commit("s2")
		tl.commit("s3")

		tl.undo()
		tl.undo() // now at s1

		tl.commit("s4")

		if got := tl.length(); got != 3 {
			t.Fatalf("length = %d, want 3", got)
		}
		want := []SnapshotID{"s0", "s1", "s4"}
		for i, id := range want {
			if tl.ids[i] != id {
				t.Errorf("ids[%d] = %s, want %s", i, tl.ids[i], id)
			}
		}
		if tl.redoAvailable() {
			t.Error("redoAvailable = true immediately after commit, want false")
		}
	})
}

func TestTimeline_UndoRedo(t *testing.T) {
	t.Run("undo then redo restores the current snapshot", func(t *testing.T) {
		tl := newTimeline("s0")
		tl.commit("s1")

		before := tl.current()
		if !tl.undo() {
			t.Fatal("undo = false, want true")
		}
		if got := tl.current(); got != "s0" {
			t.Errorf("current after undo = %s, want s0", got)
		}
		if !tl.redo() {
			t.Fatal("redo = false, want true")
		}
		if got := tl.current(); got != before {
			t.Errorf("current after redo = %s, want %s", got, before)
		}
	})

	t.Run("undo at the oldest entry is a no-op", func(t *testing.T) {
		tl := newTimeline("s0")
		if tl.undo() {
			t.Error("undo = true at index 0, want false")
		}
		if got := tl.current(); got != "s0" {
			t.Errorf("current = %s, want s0", got)
		}
	})

	t.Run("redo at the tip is a no-op", func(t *testing.T) {
		tl := newTimeline("s0")
		tl.commit("s1")
		if tl.redo() {
			t.Error("redo = true at tip, want false")
		}
	})
}

func TestTimeline_Scan(t *testing.T) {
	// Timeline: s0 s1 s2 s3 s4, pointer at s2.
	build := func() *timeline {
		tl := newTimeline("s0")
		for i := 1; i <= 4; i++ {
			tl.commit(SnapshotID(fmt.Sprintf("s%d", i)))
		}
		tl.undo()
		tl.undo()
		return tl
	}

	t.Run("undo side is nearest first with total = index", func(t *testing.T) {
		tl := build()
		page := tl.scan(HistoryQuery{Reverse: true})

		if page.Total != 2 {
			t.Errorf("total = %d, want 2", page.Total)
		}
		want := []SnapshotID{"s1", "s0"}
		if len(page.Items) != len(want) {
			t.Fatalf("len(items) = %d, want %d", len(page.Items), len(want))
		}
		for i, id := range want {
			if page.Items[i] != id {
				t.Errorf("items[%d] = %s, want %s", i, page.Items[i], id)
			}
		}
	})

	t.Run("redo side is chronological with total = len-1-index", func(t *testing.T) {
		tl := build()
		page := tl.scan(HistoryQuery{})

		if page.Total != 2 {
			t.Errorf("total = %d, want 2", page.Total)
		}
		want := []SnapshotID{"s3", "s4"}
		for i, id := range want {
			if page.Items[i] != id {
				t.Errorf("items[%d] = %s, want %s", i, page.Items[i], id)
			}
		}
	})

	t.Run("offset and limit clip silently", func(t *testing.T) {
		tl := build()

		page := tl.scan(HistoryQuery{Reverse: true, Offset: 1, Limit: 5})
		if page.Total != 2 {
			t.Errorf("total = %d, want 2", page.Total)
		}
		if len(page.Items) != 1 || page.Items[0] != "s0" {
			t.Errorf("items = %v, want [s0]", page.Items)
		}

		page = tl.scan(HistoryQuery{Reverse: true, Offset: 99})
		if len(page.Items) != 0 {
			t.Errorf("out-of-range offset: items = %v, want empty", page.Items)
		}
		if page.Total != 2 {
			t.Errorf("out-of-range offset: total = %d, want 2", page.Total)
		}

		page = tl.scan(HistoryQuery{Offset: -3, Limit: 1})
		if len(page.Items) != 1 || page.Items[0] != "s3" {
			t.Errorf("negative offset: items = %v, want [s3]", page.Items)
		}
	})

	t.Run("checkout scenario pages the replacement entry", func(t *testing.T) {
		// The P7-style walk: commit, commit, undo, checkout, undo.
		tl := newTimeline("s0")
		tl.commit("s1")
		tl.commit("s2")
		tl.undo() // at s1

		page := tl.scan(HistoryQuery{})
		if page.Total != 1 || page.Items[0] != "s2" {
			t.Fatalf("redo page = %+v, want total 1 items [s2]", page)
		}

		tl.commit("sx") // checkout is a commit with an external id
		if tl.length() != 3 || tl.ids[2] != "sx" {
			t.Fatalf("ids = %v, want [s0 s1 sx]", tl.ids)
		}

		tl.undo()
		if got := tl.current(); got != "s1" {
			t.Errorf("current = %s, want s1", got)
		}
		page = tl.scan(HistoryQuery{})
		if page.Total != 1 || page.Items[0] != "sx" {
			t.Errorf("redo page = %+v, want total 1 items [sx]", page)
		}
	})
}

func TestMetadata_Valid(t *testing.T) {
	cases := []struct {
		name string
		meta Metadata
		want bool
	}{
		{"empty timeline", Metadata{}, false},
		{"index negative", Metadata{Timeline: []SnapshotID{"a"}, Index: -1}, false},
		{"index past end", Metadata{Timeline: []SnapshotID{"a"}, Index: 1}, false},
		{"single entry", Metadata{Timeline: []SnapshotID{"a"}, Index: 0}, true},
		{"mid pointer", Metadata{Timeline: []SnapshotID{"a", "b", "c"}, Index: 1}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.meta.Valid(); got != tc.want {
				t.Errorf("Valid() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTimeline_MetaIsDetached(t *testing.T) {
	tl := newTimeline("s0")
	tl.commit("s1")

	meta := tl.meta()
	meta.Timeline[0] = "mutated"

	if tl.ids[0] != "s0" {
		t.Error("meta() shares backing storage with the timeline")
	}
	if meta.Index != 1 {
		t.Errorf("meta.Index = %d, want 1", meta.Index)
	}
}
