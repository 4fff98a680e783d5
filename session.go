// Copyright (C) 2026 Ntropish
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ptri

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var sessionTracer = otel.Tracer("ptri.session")

// DefaultStoreName scopes persisted metadata when Config.StoreName is empty.
const DefaultStoreName = "default"

const (
	stateNew int32 = iota
	stateStarting
	stateReady
	stateClosed
)

// Config configures a Session.
type Config struct {
	// Engine is the immutable tree index client. Required.
	Engine Engine

	// Metadata is the durable mirror for timeline metadata. Optional;
	// nil keeps the timeline in memory only for this session.
	Metadata MetadataStore

	// StoreName scopes the persisted metadata key. Default: "default".
	StoreName string

	// MutationQueueSize is the write serializer's channel buffer.
	// Default: DefaultMutationQueueSize.
	MutationQueueSize int

	// UpdateBuffer is the per-subscription update channel buffer.
	// Default: DefaultUpdateBuffer.
	UpdateBuffer int

	// Logger for session operations. Default: slog.Default().
	Logger *slog.Logger
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.Engine == nil {
		return ErrNilEngine
	}
	return nil
}

// Session coordinates one logical session over an immutable content-addressed
// index: it serializes mutations, maintains the undoable commit timeline,
// mirrors timeline metadata to durable storage, and drives fingerprint-based
// live reads.
//
// Construct one Session per logical session and thread all operations through
// it explicitly; independent instances never interfere.
//
// Thread Safety: safe for concurrent use after Start.
type Session struct {
	engine    Engine
	store     MetadataStore
	storeName string
	queueSize int
	updateBuf int
	logger    *slog.Logger

	state atomic.Int32

	mu   sync.Mutex
	tl   *timeline
	subs map[string]*Subscription

	writer *writeSerializer
	meta   *metaWriter
}

// New creates a Session. No engine or store calls happen until Start.
func New(cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	name := cfg.StoreName
	if name == "" {
		name = DefaultStoreName
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		engine:    cfg.Engine,
		store:     cfg.Metadata,
		storeName: name,
		queueSize: cfg.MutationQueueSize,
		updateBuf: cfg.UpdateBuffer,
		logger:    logger.With(slog.String("component", "session"), slog.String("store", name)),
		subs:      make(map[string]*Subscription),
	}, nil
}

// Start initializes the timeline and launches the background workers.
//
// Persisted metadata is adopted when well-formed; otherwise (absent,
// unreadable, or malformed) a fresh empty snapshot seeds the timeline. A
// load failure never fails Start.
//
// Idempotent: calling Start on a ready session is a no-op.
func (s *Session) Start(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	switch s.state.Load() {
	case stateReady:
		return nil
	case stateClosed:
		return ErrClosed
	}
	if !s.state.CompareAndSwap(stateNew, stateStarting) {
		return ErrNotReady
	}

	tl, err := s.initTimeline(ctx)
	if err != nil {
		s.state.Store(stateNew)
		return err
	}

	s.mu.Lock()
	s.tl = tl
	s.mu.Unlock()

	s.meta = newMetaWriter(s.store, s.storeName, s.logger)
	s.writer = newWriteSerializer(s.queueSize, s.currentLocked, s.applyCommit, s.logger)

	// Record the adopted-or-seeded state so a fresh store is readable even
	// before the first commit.
	s.meta.schedule(tl.meta())

	s.state.Store(stateReady)
	s.logger.Info("session started",
		slog.Int("timeline_len", tl.length()),
		slog.Int("index", tl.index),
		slog.String("current", string(tl.current())),
	)
	return nil
}

// initTimeline adopts persisted metadata or seeds a fresh timeline.
func (s *Session) initTimeline(ctx context.Context) (*timeline, error) {
	if s.store != nil {
		meta, present, err := s.store.Load(ctx, s.storeName)
		switch {
		case err != nil:
			s.logger.Warn("metadata load failed, seeding fresh timeline",
				slog.String("error", err.Error()),
			)
		case present && meta.Valid():
			s.logger.Debug("adopted persisted timeline",
				slog.Int("timeline_len", len(meta.Timeline)),
				slog.Int("index", meta.Index),
			)
			return adoptTimeline(meta), nil
		case present:
			s.logger.Warn("persisted metadata malformed, seeding fresh timeline",
				slog.Int("timeline_len", len(meta.Timeline)),
				slog.Int("index", meta.Index),
			)
		}
	}

	genesis, err := s.engine.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("seed empty snapshot: %w", err)
	}
	return newTimeline(genesis), nil
}

// Close stops the workers and all subscriptions. Queued mutations fail with
// ErrClosed; the final metadata save is flushed. The engine and metadata
// store are owned by the caller and stay open. Safe to call multiple times.
func (s *Session) Close() {
	if !s.state.CompareAndSwap(stateReady, stateClosed) {
		s.state.CompareAndSwap(stateNew, stateClosed)
		return
	}

	s.mu.Lock()
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}

	s.writer.close()
	s.meta.close()
	s.logger.Info("session closed")
}

// guard rejects operations on a session that is not running.
func (s *Session) guard() error {
	switch s.state.Load() {
	case stateReady:
		return nil
	case stateClosed:
		return ErrClosed
	default:
		return ErrNotReady
	}
}

// currentLocked reads the current snapshot under the session lock. Used by
// the write serializer at dequeue time.
func (s *Session) currentLocked() SnapshotID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tl.current()
}

// applyCommit records a successful mutation or checkout on the timeline and
// fans the transition out to persistence and subscriptions. Called from the
// serializer worker, so no two commits ever race.
func (s *Session) applyCommit(id SnapshotID, origin string) {
	s.mu.Lock()
	s.tl.commit(id)
	meta := s.tl.meta()
	s.broadcastLocked(id)
	s.mu.Unlock()

	s.meta.schedule(meta)
}

// broadcastLocked notifies every active subscription of a current-snapshot
// transition. Caller holds s.mu; notify never blocks.
func (s *Session) broadcastLocked(id SnapshotID) {
	for _, sub := range s.subs {
		sub.notify(id)
	}
}

// -----------------------------------------------------------------------------
// Timeline operations
// -----------------------------------------------------------------------------

// Mutate submits a write batch. Batches commit strictly in submission order,
// each applied against the snapshot current at its dequeue time, so
// concurrent submitters never lose updates. The returned id is the committed
// snapshot.
//
// A rejected batch fails only this call; subsequent submissions continue
// against the last successfully committed snapshot.
func (s *Session) Mutate(ctx context.Context, ws WriteSet) (SnapshotID, error) {
	if ctx == nil {
		return "", ErrNilContext
	}
	if err := s.guard(); err != nil {
		return "", err
	}

	ctx, span := sessionTracer.Start(ctx, "ptri.Session.Mutate",
		trace.WithAttributes(
			attribute.Int("set_count", len(ws.Set)),
			attribute.Int("del_count", len(ws.Del)),
		),
	)
	defer span.End()

	id, err := s.writer.submit(ctx, originMutate, func(ctx context.Context, base SnapshotID) (SnapshotID, error) {
		return s.engine.Mutate(ctx, base, ws)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.String("snapshot", string(id)))
	return id, nil
}

// Checkout commits an externally supplied snapshot id. It behaves exactly
// like a mutation commit, including redo-tail truncation, and is undoable:
// an Undo immediately after Checkout restores the prior current snapshot.
//
// Flows through the write serializer so checkouts and mutations share one
// total order.
func (s *Session) Checkout(ctx context.Context, id SnapshotID) error {
	if ctx == nil {
		return ErrNilContext
	}
	if err := s.guard(); err != nil {
		return err
	}
	if id == "" {
		return ErrInvalidCheckout
	}

	ctx, span := sessionTracer.Start(ctx, "ptri.Session.Checkout",
		trace.WithAttributes(attribute.String("snapshot", string(id))),
	)
	defer span.End()

	_, err := s.writer.submit(ctx, originCheckout, func(context.Context, SnapshotID) (SnapshotID, error) {
		return id, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Undo moves the current position one commit backwards. Returns false
// without change when no older commit exists. The move is atomic with
// respect to in-flight commits: callers never observe a half-applied state.
func (s *Session) Undo(ctx context.Context) (bool, error) {
	return s.move(ctx, "undo")
}

// Redo moves the current position one commit forwards. Returns false without
// change when already at the most recent commit.
func (s *Session) Redo(ctx context.Context) (bool, error) {
	return s.move(ctx, "redo")
}

func (s *Session) move(ctx context.Context, direction string) (bool, error) {
	if ctx == nil {
		return false, ErrNilContext
	}
	if err := s.guard(); err != nil {
		return false, err
	}

	s.mu.Lock()
	var moved bool
	if direction == "undo" {
		moved = s.tl.undo()
	} else {
		moved = s.tl.redo()
	}
	var (
		id   SnapshotID
		meta Metadata
	)
	if moved {
		id = s.tl.current()
		meta = s.tl.meta()
		s.broadcastLocked(id)
	}
	s.mu.Unlock()

	if !moved {
		timelineMovesTotal.WithLabelValues(direction, "noop").Inc()
		return false, nil
	}

	timelineMovesTotal.WithLabelValues(direction, "moved").Inc()
	s.meta.schedule(meta)
	s.logger.Debug("timeline pointer moved",
		slog.String("direction", direction),
		slog.String("current", string(id)),
	)
	return true, nil
}

// HistoryScan returns one page of history relative to the current position.
// Reverse=true enumerates the undo side, Reverse=false the redo side, both
// nearest-first. Out-of-range offsets clip silently.
func (s *Session) HistoryScan(ctx context.Context, q HistoryQuery) (HistoryPage, error) {
	if ctx == nil {
		return HistoryPage{}, ErrNilContext
	}
	if err := s.guard(); err != nil {
		return HistoryPage{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tl.scan(q), nil
}

// Current returns the snapshot at the current timeline position.
func (s *Session) Current() (SnapshotID, error) {
	if err := s.guard(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tl.current(), nil
}

// Head returns the most recent commit ever made, regardless of the current
// position.
func (s *Session) Head() (SnapshotID, error) {
	if err := s.guard(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tl.head(), nil
}

// UndoAvailable reports whether Undo would move the pointer.
func (s *Session) UndoAvailable() (bool, error) {
	if err := s.guard(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tl.undoAvailable(), nil
}

// RedoAvailable reports whether Redo would move the pointer.
func (s *Session) RedoAvailable() (bool, error) {
	if err := s.guard(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tl.redoAvailable(), nil
}

// -----------------------------------------------------------------------------
// Reads
//
// Each read captures the current snapshot id at the moment it starts, so a
// concurrent write cannot change the semantics of an in-flight read. Read
// errors are local to the call and never affect timeline state.
// -----------------------------------------------------------------------------

// Create produces a new empty snapshot without committing it. Useful with
// Checkout to reset a session to an empty index.
func (s *Session) Create(ctx context.Context) (SnapshotID, error) {
	if ctx == nil {
		return "", ErrNilContext
	}
	if err := s.guard(); err != nil {
		return "", err
	}
	return s.engine.Create(ctx)
}

// Get returns the value for a key in the current snapshot.
func (s *Session) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if ctx == nil {
		return nil, false, ErrNilContext
	}
	if err := s.guard(); err != nil {
		return nil, false, err
	}

	ctx, span := sessionTracer.Start(ctx, "ptri.Session.Get")
	defer span.End()

	value, present, err := s.engine.Get(ctx, s.currentLocked(), key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return value, present, err
}

// Scan returns the entries matched by the query in the current snapshot.
func (s *Session) Scan(ctx context.Context, q RangeQuery) ([]Entry, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if err := s.guard(); err != nil {
		return nil, err
	}

	ctx, span := sessionTracer.Start(ctx, "ptri.Session.Scan",
		trace.WithAttributes(attribute.Bool("reverse", q.Reverse)),
	)
	defer span.End()

	entries, err := s.engine.Scan(ctx, s.currentLocked(), q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("result_count", len(entries)))
	return entries, nil
}

// Count returns the number of entries matched by the query bounds in the
// current snapshot. Paginated queries are rejected by the engine.
func (s *Session) Count(ctx context.Context, q RangeQuery) (int, error) {
	if ctx == nil {
		return 0, ErrNilContext
	}
	if err := s.guard(); err != nil {
		return 0, err
	}
	return s.engine.Count(ctx, s.currentLocked(), q)
}

// Diff returns the key-wise differences between two snapshots. The snapshots
// are supplied by the caller and need not be on the timeline.
func (s *Session) Diff(ctx context.Context, a, b SnapshotID, q RangeQuery) ([]DiffEntry, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if err := s.guard(); err != nil {
		return nil, err
	}

	ctx, span := sessionTracer.Start(ctx, "ptri.Session.Diff",
		trace.WithAttributes(
			attribute.String("left", string(a)),
			attribute.String("right", string(b)),
		),
	)
	defer span.End()

	diffs, err := s.engine.Diff(ctx, a, b, q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("result_count", len(diffs)))
	return diffs, nil
}

// FingerprintGet returns the digest of a point read against the current
// snapshot.
func (s *Session) FingerprintGet(ctx context.Context, key string) (Digest, error) {
	if ctx == nil {
		return "", ErrNilContext
	}
	if err := s.guard(); err != nil {
		return "", err
	}
	return s.engine.FingerprintGet(ctx, s.currentLocked(), key)
}

// FingerprintScan returns the digest of a range read against the current
// snapshot.
func (s *Session) FingerprintScan(ctx context.Context, q RangeQuery) (Digest, error) {
	if ctx == nil {
		return "", ErrNilContext
	}
	if err := s.guard(); err != nil {
		return "", err
	}
	return s.engine.FingerprintScan(ctx, s.currentLocked(), q)
}

// GetWithFingerprint returns value and digest in one engine round trip.
func (s *Session) GetWithFingerprint(ctx context.Context, key string) ([]byte, bool, Digest, error) {
	if ctx == nil {
		return nil, false, "", ErrNilContext
	}
	if err := s.guard(); err != nil {
		return nil, false, "", err
	}
	return s.engine.GetWithFingerprint(ctx, s.currentLocked(), key)
}

// ScanWithFingerprint returns entries and digest in one engine round trip.
func (s *Session) ScanWithFingerprint(ctx context.Context, q RangeQuery) ([]Entry, Digest, error) {
	if ctx == nil {
		return nil, "", ErrNilContext
	}
	if err := s.guard(); err != nil {
		return nil, "", err
	}
	return s.engine.ScanWithFingerprint(ctx, s.currentLocked(), q)
}

// -----------------------------------------------------------------------------
// Subscriptions
// -----------------------------------------------------------------------------

// Watch begins observing a single key. The first evaluation runs against the
// snapshot current at call time; afterwards the subscription re-evaluates on
// every current-snapshot transition.
func (s *Session) Watch(key string) (*Subscription, error) {
	return s.watch(watchKey, key, RangeQuery{})
}

// WatchScan begins observing a range descriptor.
func (s *Session) WatchScan(q RangeQuery) (*Subscription, error) {
	return s.watch(watchRange, "", q)
}

func (s *Session) watch(kind watchKind, key string, q RangeQuery) (*Subscription, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	sub := newSubscription(kind, key, q, s.engine, s.updateBuf, s.removeSubscription, s.logger)

	s.mu.Lock()
	s.subs[sub.id] = sub
	sub.notify(s.tl.current())
	s.mu.Unlock()

	return sub, nil
}

// removeSubscription detaches a subscription so it receives no further
// transitions. Called from Subscription.Close.
func (s *Session) removeSubscription(id string) {
	s.mu.Lock()
	delete(s.subs, id)
	s.mu.Unlock()
}
