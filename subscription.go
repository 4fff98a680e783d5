// Copyright (C) 2026 Ntropish
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ptri

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultUpdateBuffer is the buffer size of a subscription's update channel.
const DefaultUpdateBuffer = 16

type watchKind int

const (
	watchKey watchKind = iota
	watchRange
)

// WatchUpdate is one evaluation result delivered to a subscriber.
//
// Changed=false means the fingerprint matched the previous evaluation: the
// carried value is the cached one, same backing as the previous delivery, and
// no engine fetch happened beyond the fingerprint itself.
type WatchUpdate struct {
	// Snapshot is the snapshot id this evaluation targeted.
	Snapshot SnapshotID

	// Changed reports whether the observed content differs from the
	// previous evaluation.
	Changed bool

	// Digest is the fingerprint of the observed read.
	Digest Digest

	// Value and Present carry the result of a key watch.
	Value   []byte
	Present bool

	// Entries carries the result of a range watch.
	Entries []Entry

	// Err is non-nil when the evaluation failed. The subscription stays
	// active; the error is local to this evaluation.
	Err error
}

// Subscription is a live read over one descriptor. It re-evaluates at most
// once per distinct current-snapshot transition while active, using a cheap
// fingerprint to decide whether the full result must be re-fetched.
//
// Evaluations are tagged with the snapshot id they target. A completion whose
// tag no longer matches the latest requested snapshot is discarded, so a slow
// evaluation of an older snapshot can never overwrite a newer result.
//
// Thread Safety: safe for concurrent use. The cache is owned by the worker
// goroutine.
type Subscription struct {
	id     string
	kind   watchKind
	key    string
	query  RangeQuery
	engine Engine
	logger *slog.Logger

	updates   chan WatchUpdate
	notifyCh  chan SnapshotID
	closeCh   chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once

	// latest is the most recently requested target snapshot; set at notify
	// time so an in-flight evaluation of an older snapshot observes the
	// supersession.
	latest atomic.Value // SnapshotID

	// unregister detaches this subscription from the owning session.
	unregister func(id string)

	// Worker-owned cache. Never touched outside run().
	hasDigest   bool
	lastDigest  Digest
	lastValue   []byte
	lastPresent bool
	lastEntries []Entry
}

func newSubscription(kind watchKind, key string, q RangeQuery, engine Engine, buffer int, unregister func(string), logger *slog.Logger) *Subscription {
	if buffer <= 0 {
		buffer = DefaultUpdateBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Subscription{
		id:         uuid.NewString(),
		kind:       kind,
		key:        key,
		query:      q,
		engine:     engine,
		updates:    make(chan WatchUpdate, buffer),
		notifyCh:   make(chan SnapshotID, 1),
		closeCh:    make(chan struct{}),
		doneCh:     make(chan struct{}),
		unregister: unregister,
		logger:     logger.With(slog.String("component", "subscription")),
	}

	go s.run()
	return s
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() string {
	return s.id
}

// Updates returns the channel evaluation results are delivered on. The
// channel is closed after Close.
func (s *Subscription) Updates() <-chan WatchUpdate {
	return s.updates
}

// Close unsubscribes. Future evaluations stop immediately; an already
// in-flight fetch completes and is discarded rather than aborted. Safe to
// call multiple times.
func (s *Subscription) Close() {
	s.unregister(s.id)

	s.closeOnce.Do(func() {
		close(s.closeCh)
		<-s.doneCh
		close(s.updates)
	})
}

// notify records a new target snapshot, displacing any not-yet-evaluated
// older one. Non-blocking; called by the session with its lock held.
func (s *Subscription) notify(id SnapshotID) {
	s.latest.Store(id)
	for {
		select {
		case <-s.closeCh:
			return
		case s.notifyCh <- id:
			return
		default:
		}
		// Slot holds an older pending target; displace it.
		select {
		case <-s.notifyCh:
		default:
		}
	}
}

// stale reports whether a newer target snapshot has been requested since
// this evaluation started.
func (s *Subscription) stale(snap SnapshotID) bool {
	latest, _ := s.latest.Load().(SnapshotID)
	return latest != snap
}

func (s *Subscription) run() {
	defer close(s.doneCh)

	for {
		select {
		case <-s.closeCh:
			return
		case snap := <-s.notifyCh:
			s.evaluate(snap)
		}
	}
}

// evaluate runs the two-phase protocol for one snapshot transition:
// fingerprint first, full fetch only when the fingerprint differs.
func (s *Subscription) evaluate(snap SnapshotID) {
	ctx := context.Background()

	var (
		d   Digest
		err error
	)
	switch s.kind {
	case watchKey:
		d, err = s.engine.FingerprintGet(ctx, snap, s.key)
	case watchRange:
		d, err = s.engine.FingerprintScan(ctx, snap, s.query)
	}

	if s.stale(snap) {
		subscriptionEvalsTotal.WithLabelValues("stale").Inc()
		return
	}
	if err != nil {
		subscriptionEvalsTotal.WithLabelValues("error").Inc()
		s.logger.Warn("fingerprint evaluation failed",
			slog.String("subscription", s.id),
			slog.String("snapshot", string(snap)),
			slog.String("error", err.Error()),
		)
		s.deliver(WatchUpdate{Snapshot: snap, Err: err})
		return
	}

	if s.hasDigest && d == s.lastDigest {
		// Unchanged: retain the cached value and its identity. No new
		// value object is produced.
		subscriptionEvalsTotal.WithLabelValues("unchanged").Inc()
		s.deliver(WatchUpdate{
			Snapshot: snap,
			Digest:   d,
			Value:    s.lastValue,
			Present:  s.lastPresent,
			Entries:  s.lastEntries,
		})
		return
	}

	update := WatchUpdate{Snapshot: snap, Changed: true, Digest: d}
	switch s.kind {
	case watchKey:
		update.Value, update.Present, err = s.engine.Get(ctx, snap, s.key)
	case watchRange:
		update.Entries, err = s.engine.Scan(ctx, snap, s.query)
	}

	if s.stale(snap) {
		// A newer transition superseded this one while the full fetch was
		// in flight; drop the result, the newer evaluation will replace it.
		subscriptionEvalsTotal.WithLabelValues("stale").Inc()
		return
	}
	if err != nil {
		subscriptionEvalsTotal.WithLabelValues("error").Inc()
		s.deliver(WatchUpdate{Snapshot: snap, Err: err})
		return
	}

	s.hasDigest = true
	s.lastDigest = d
	s.lastValue = update.Value
	s.lastPresent = update.Present
	s.lastEntries = update.Entries
	subscriptionEvalsTotal.WithLabelValues("changed").Inc()
	s.deliver(update)
}

// deliver hands one update to the subscriber, giving up only on Close.
func (s *Subscription) deliver(u WatchUpdate) {
	select {
	case s.updates <- u:
	case <-s.closeCh:
	}
}
