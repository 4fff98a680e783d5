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
)

// MetadataStore is the contract for the durable mirror of timeline metadata.
// Only {timeline, index} is persisted, never tree data.
//
// Thread Safety: implementations must be safe for concurrent use.
type MetadataStore interface {
	// Save durably records the metadata under the given store name,
	// replacing any previous record. Timeline and index must be written
	// together (single atomic write).
	Save(ctx context.Context, name string, meta Metadata) error

	// Load returns the metadata for a store name, with present=false when
	// nothing has been saved yet.
	Load(ctx context.Context, name string) (meta Metadata, present bool, err error)
}

// metaWriter persists timeline metadata fire-and-forget. Saves never block a
// timeline operation and their outcome is never surfaced to the caller that
// triggered them: a failed save degrades the session to in-memory durability
// and is only logged.
//
// The worker coalesces: while a save is in flight, newer metadata replaces
// any still-pending one, so the store always converges to the latest state
// without queueing every intermediate transition.
//
// Thread Safety: safe for concurrent use.
type metaWriter struct {
	store MetadataStore
	name  string

	saveCh  chan Metadata
	closeCh chan struct{}
	doneCh  chan struct{}

	logger *slog.Logger
}

// newMetaWriter creates the writer and starts its worker goroutine.
// A nil store yields a writer whose schedule is a no-op.
func newMetaWriter(store MetadataStore, name string, logger *slog.Logger) *metaWriter {
	if logger == nil {
		logger = slog.Default()
	}

	w := &metaWriter{
		store:   store,
		name:    name,
		saveCh:  make(chan Metadata, 1),
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
		logger:  logger.With(slog.String("component", "meta_writer")),
	}

	go w.run()
	return w
}

func (w *metaWriter) run() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.closeCh:
			// Flush whatever is still pending before exiting.
			select {
			case meta := <-w.saveCh:
				w.save(meta)
			default:
			}
			return

		case meta := <-w.saveCh:
			w.save(meta)
		}
	}
}

func (w *metaWriter) save(meta Metadata) {
	if w.store == nil {
		return
	}

	err := w.store.Save(context.Background(), w.name, meta)
	if err != nil {
		metadataSavesTotal.WithLabelValues("error").Inc()
		w.logger.Warn("metadata save failed, session degrades to in-memory durability",
			slog.String("store", w.name),
			slog.Int("timeline_len", len(meta.Timeline)),
			slog.String("error", err.Error()),
		)
		return
	}

	metadataSavesTotal.WithLabelValues("ok").Inc()
	w.logger.Debug("metadata saved",
		slog.String("store", w.name),
		slog.Int("timeline_len", len(meta.Timeline)),
		slog.Int("index", meta.Index),
	)
}

// schedule hands the latest metadata to the worker without blocking,
// replacing any not-yet-written pending metadata.
func (w *metaWriter) schedule(meta Metadata) {
	if w.store == nil {
		return
	}

	for {
		select {
		case <-w.closeCh:
			return
		case w.saveCh <- meta:
			return
		default:
		}
		// Slot occupied by an older pending save; displace it.
		select {
		case <-w.saveCh:
		default:
		}
	}
}

// close flushes the pending save, if any, and stops the worker.
func (w *metaWriter) close() {
	select {
	case <-w.closeCh:
		return
	default:
		close(w.closeCh)
	}
	<-w.doneCh
}
