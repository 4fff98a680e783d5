// Copyright (C) 2026 Ntropish
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ptri is a client-side coordinator for an immutable,
// content-addressed key-value index.
//
// It sits between an application and an external snapshot store and owns
// three responsibilities:
//
//   - serializing mutations so concurrent writers never race or lose updates
//   - maintaining a linear, undoable/redoable history of committed snapshots
//     with explicit checkout to arbitrary snapshots
//   - driving live read subscriptions that update only when the observed data
//     actually changes, using cheap content fingerprints instead of
//     re-fetching full results
//
// The index itself (insertion, chunking, Merkle fingerprints, diff) and the
// physical content-addressed blob store are external collaborators behind the
// Engine and ChunkStore interfaces. Package memengine provides an in-memory
// reference Engine; package storage/badgerstore provides BadgerDB-backed
// metadata and chunk stores.
//
// # Basic usage
//
//	eng := memengine.New(nil)
//	session, err := ptri.New(ptri.Config{Engine: eng})
//	if err != nil { ... }
//	if err := session.Start(ctx); err != nil { ... }
//	defer session.Close()
//
//	id, err := session.Mutate(ctx, ptri.WriteSet{
//	    Set: []ptri.Entry{{Key: "a", Value: []byte("1")}},
//	})
//	moved, err := session.Undo(ctx)
//
// # Live reads
//
//	sub, err := session.Watch("a")
//	for u := range sub.Updates() {
//	    if u.Changed { ... }
//	}
//
// Each evaluation first fetches a fingerprint for the watched descriptor; the
// full result is re-fetched only when the fingerprint differs from the
// previous evaluation.
package ptri
