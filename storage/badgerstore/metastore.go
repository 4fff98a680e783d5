// Copyright (C) 2026 Ntropish
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/Ntropish/ptri"
)

// metaKeyPrefix namespaces timeline metadata keys within the shared DB.
const metaKeyPrefix = "ptri/meta/"

// MetadataStore persists timeline metadata in BadgerDB, one JSON record per
// store name. Timeline and index live in a single value written in one
// transaction, so a reader can never observe an index outside the saved
// timeline's bounds.
//
// Thread Safety: safe for concurrent use.
type MetadataStore struct {
	db *DB
}

var _ ptri.MetadataStore = (*MetadataStore)(nil)

// NewMetadataStore creates a metadata store over an open DB. The DB is owned
// by the caller.
func NewMetadataStore(db *DB) *MetadataStore {
	return &MetadataStore{db: db}
}

func metaKey(name string) []byte {
	return []byte(metaKeyPrefix + name)
}

// Save durably records the metadata under the store name, replacing any
// previous record.
func (s *MetadataStore) Save(ctx context.Context, name string, meta ptri.Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaKey(name), payload)
	})
	if err != nil {
		return fmt.Errorf("save metadata %q: %w", name, err)
	}
	return nil
}

// Load returns the metadata for a store name, with present=false when
// nothing has been saved yet.
func (s *MetadataStore) Load(ctx context.Context, name string) (ptri.Metadata, bool, error) {
	if err := ctx.Err(); err != nil {
		return ptri.Metadata{}, false, err
	}

	var meta ptri.Metadata
	present := false

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &meta); err != nil {
				return fmt.Errorf("decode metadata: %w", err)
			}
			present = true
			return nil
		})
	})
	if err != nil {
		return ptri.Metadata{}, false, fmt.Errorf("load metadata %q: %w", name, err)
	}
	return meta, present, nil
}
