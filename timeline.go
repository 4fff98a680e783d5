// Copyright (C) 2026 Ntropish
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ptri

// HistoryQuery selects a page of timeline history relative to the current
// position. Reverse=true pages through the undo side (entries before the
// current snapshot, nearest first); Reverse=false pages through the redo side
// (entries after the current snapshot, nearest first).
type HistoryQuery struct {
	// Offset skips that many entries after ordering. Out-of-range offsets
	// clip silently to an empty page.
	Offset int `json:"offset,omitempty"`

	// Limit caps the page size. Zero means no limit.
	Limit int `json:"limit,omitempty"`

	// Reverse selects the undo side when true, the redo side when false.
	Reverse bool `json:"reverse,omitempty"`
}

// HistoryPage is one page of timeline history.
type HistoryPage struct {
	// Total is the number of entries on the queried side of the current
	// position, before offset/limit are applied.
	Total int `json:"total"`

	// Items holds the page entries, nearest-first.
	Items []SnapshotID `json:"items"`
}

// Metadata is the durable mirror of the timeline state. Timeline and index
// are always written together so a torn read cannot reference an index
// outside the timeline's bounds.
type Metadata struct {
	Timeline []SnapshotID `json:"timeline"`
	Index    int          `json:"index"`
}

// Valid reports whether persisted metadata is well-formed: a non-empty
// timeline with the index in range.
func (m Metadata) Valid() bool {
	return len(m.Timeline) > 0 && m.Index >= 0 && m.Index < len(m.Timeline)
}

// timeline is the append-only log of snapshot ids plus the current-position
// pointer. It is a pure state machine; the owning session provides locking.
//
// Invariants: len(ids) >= 1 after initialization; 0 <= index < len(ids).
type timeline struct {
	ids   []SnapshotID
	index int
}

// newTimeline seeds a timeline from a single genesis snapshot.
func newTimeline(genesis SnapshotID) *timeline {
	return &timeline{ids: []SnapshotID{genesis}, index: 0}
}

// adoptTimeline restores a timeline from persisted metadata. The caller must
// have validated the metadata.
func adoptTimeline(m Metadata) *timeline {
	ids := make([]SnapshotID, len(m.Timeline))
	copy(ids, m.Timeline)
	return &timeline{ids: ids, index: m.Index}
}

// current returns the snapshot at the current position.
func (t *timeline) current() SnapshotID {
	return t.ids[t.index]
}

// head returns the most recent commit ever made, regardless of the current
// position.
func (t *timeline) head() SnapshotID {
	return t.ids[len(t.ids)-1]
}

// undoAvailable reports whether the pointer can move backwards.
func (t *timeline) undoAvailable() bool {
	return t.index > 0
}

// redoAvailable reports whether the pointer can move forwards.
func (t *timeline) redoAvailable() bool {
	return t.index < len(t.ids)-1
}

// commit appends a snapshot id after the current position and advances the
// pointer to it. A commit issued while not at the tip permanently discards
// the redo tail from the timeline; the underlying snapshots are not deleted
// from storage, only unreferenced here.
//
// The base is always computed relative to the current index, never the
// physical end of the log.
func (t *timeline) commit(id SnapshotID) {
	base := t.ids[:t.index+1]
	next := make([]SnapshotID, len(base), len(base)+1)
	copy(next, base)
	t.ids = append(next, id)
	t.index = len(t.ids) - 1
}

// undo moves the pointer one entry backwards. Returns false without change
// when already at the oldest entry.
func (t *timeline) undo() bool {
	if t.index == 0 {
		return false
	}
	t.index--
	return true
}

// redo moves the pointer one entry forwards. Returns false without change
// when already at the tip.
func (t *timeline) redo() bool {
	if t.index == len(t.ids)-1 {
		return false
	}
	t.index++
	return true
}

// scan enumerates one side of the history relative to the current position.
// Reverse=true walks ids[0:index) nearest-first (reverse chronological);
// Reverse=false walks ids[index+1:] nearest-first (chronological). Offset and
// limit apply after ordering and clip silently.
func (t *timeline) scan(q HistoryQuery) HistoryPage {
	var ordered []SnapshotID
	if q.Reverse {
		ordered = make([]SnapshotID, 0, t.index)
		for i := t.index - 1; i >= 0; i-- {
			ordered = append(ordered, t.ids[i])
		}
	} else {
		ordered = make([]SnapshotID, 0, len(t.ids)-1-t.index)
		ordered = append(ordered, t.ids[t.index+1:]...)
	}

	total := len(ordered)
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	page := ordered[offset:]
	if q.Limit > 0 && len(page) > q.Limit {
		page = page[:q.Limit]
	}

	items := make([]SnapshotID, len(page))
	copy(items, page)
	return HistoryPage{Total: total, Items: items}
}

// meta returns a defensive copy of the timeline state for persistence.
func (t *timeline) meta() Metadata {
	ids := make([]SnapshotID, len(t.ids))
	copy(ids, t.ids)
	return Metadata{Timeline: ids, Index: t.index}
}

// length returns the number of entries in the log.
func (t *timeline) length() int {
	return len(t.ids)
}
