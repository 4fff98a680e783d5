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
	"time"
)

// DefaultMutationQueueSize is the buffer size for the serializer channel.
const DefaultMutationQueueSize = 64

const (
	originMutate   = "mutate"
	originCheckout = "checkout"
)

// mutationRequest is one queued commit-producing operation.
type mutationRequest struct {
	ctx    context.Context
	origin string

	// apply produces the snapshot to commit from the base snapshot read at
	// dequeue time. For checkouts it ignores the base and returns the
	// externally supplied id.
	apply func(ctx context.Context, base SnapshotID) (SnapshotID, error)

	// done receives exactly one result. Buffered so an abandoned caller
	// never blocks the worker.
	done chan mutationResult
}

type mutationResult struct {
	id  SnapshotID
	err error
}

// writeSerializer owns exclusive mutation access to the engine. A single
// goroutine dequeues requests one at a time, so at most one call into the
// engine's mutate path is outstanding and submissions complete in FIFO order.
//
// Each request reads the timeline's current snapshot at the moment it is
// dequeued, not at submission time. This is what prevents lost updates when
// multiple callers submit concurrently: the second submission always applies
// on top of the first one's committed snapshot.
//
// Thread Safety: safe for concurrent use. All state transitions happen on
// the worker goroutine.
type writeSerializer struct {
	submitCh chan mutationRequest
	closeCh  chan struct{}
	doneCh   chan struct{}

	// base reads the current snapshot under the session lock.
	base func() SnapshotID

	// commit records a successful apply on the timeline.
	commit func(id SnapshotID, origin string)

	logger *slog.Logger
}

// newWriteSerializer creates the serializer and starts its worker goroutine.
func newWriteSerializer(queueSize int, base func() SnapshotID, commit func(SnapshotID, string), logger *slog.Logger) *writeSerializer {
	if queueSize <= 0 {
		queueSize = DefaultMutationQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	w := &writeSerializer{
		submitCh: make(chan mutationRequest, queueSize),
		closeCh:  make(chan struct{}),
		doneCh:   make(chan struct{}),
		base:     base,
		commit:   commit,
		logger:   logger.With(slog.String("component", "write_serializer")),
	}

	go w.run()
	return w
}

// run is the worker loop. Single goroutine, no mutex needed for its state.
func (w *writeSerializer) run() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.closeCh:
			w.failPending()
			return

		case req := <-w.submitCh:
			mutationQueueDepth.Dec()
			w.handle(req)
		}
	}
}

// handle applies one request against the current snapshot and commits on
// success. A rejected batch fails only that submission; the queue continues
// against the last successfully committed snapshot.
func (w *writeSerializer) handle(req mutationRequest) {
	base := w.base()

	// Once dequeued the mutation is no longer cancellable; the caller's
	// deadline must not abort a half-applied engine call.
	ctx := context.WithoutCancel(req.ctx)

	start := time.Now()
	id, err := req.apply(ctx, base)
	mutationApplyDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		mutationFailuresTotal.Inc()
		w.logger.Warn("mutation batch rejected",
			slog.String("base", string(base)),
			slog.String("origin", req.origin),
			slog.String("error", err.Error()),
		)
		req.done <- mutationResult{err: err}
		return
	}

	// Commit strictly before completing the caller, so a caller awaiting a
	// submission observes the timeline already advanced.
	w.commit(id, req.origin)
	commitsTotal.WithLabelValues(req.origin).Inc()

	w.logger.Debug("mutation committed",
		slog.String("base", string(base)),
		slog.String("snapshot", string(id)),
		slog.String("origin", req.origin),
	)
	req.done <- mutationResult{id: id}
}

// failPending completes every still-queued request with ErrClosed.
func (w *writeSerializer) failPending() {
	for {
		select {
		case req := <-w.submitCh:
			mutationQueueDepth.Dec()
			req.done <- mutationResult{err: ErrClosed}
		default:
			return
		}
	}
}

// submit enqueues a commit-producing operation and waits for its result.
//
// The submission cannot be cancelled once enqueued: if ctx expires while
// waiting, submit returns ctx.Err() but the mutation still applies and
// commits in its queue position.
func (w *writeSerializer) submit(ctx context.Context, origin string, apply func(context.Context, SnapshotID) (SnapshotID, error)) (SnapshotID, error) {
	req := mutationRequest{
		ctx:    ctx,
		origin: origin,
		apply:  apply,
		done:   make(chan mutationResult, 1),
	}

	select {
	case <-w.closeCh:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	case w.submitCh <- req:
		mutationQueueDepth.Inc()
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-req.done:
		return res.id, res.err
	case <-w.doneCh:
		// Worker exited. The request either got a result before the
		// drain finished or was never seen.
		select {
		case res := <-req.done:
			return res.id, res.err
		default:
			return "", ErrClosed
		}
	}
}

// close stops the worker and fails any queued submissions.
func (w *writeSerializer) close() {
	select {
	case <-w.closeCh:
		return
	default:
		close(w.closeCh)
	}
	<-w.doneCh
}
