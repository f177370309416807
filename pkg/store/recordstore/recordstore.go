/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package recordstore implements the structured record collaborator on top of a
// storage provider. Every table is a store of JSON records keyed by their "id";
// selected columns are tagged so equality filters on them become store queries.
package recordstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowsec/flowsec-go/pkg/common/log"
	"github.com/flowsec/flowsec-go/spi/backend"
	"github.com/flowsec/flowsec-go/spi/storage"
)

const (
	// FieldID is the primary key column.
	FieldID = "id"
	// FieldCreatedAt is filled on insert when absent.
	FieldCreatedAt = "created_at"

	recordTag = "record"
)

var logger = log.New("flowsec/store/records")

// DefaultIndexes are the columns tagged for lookup.
//
//nolint:gochecknoglobals
var DefaultIndexes = []string{FieldID, "sender_id", "receiver_id", "user_id", "vt_status"}

// Store is a backend.RecordStore over a storage.Provider.
type Store struct {
	provider storage.Provider
	indexes  []string
	now      func() time.Time

	mu     sync.Mutex
	tables map[string]storage.Store
}

// Option configures a Store.
type Option func(*Store)

// WithIndexes replaces the set of indexed columns.
func WithIndexes(columns ...string) Option {
	return func(s *Store) {
		s.indexes = columns
	}
}

// New returns a record store backed by provider.
func New(provider storage.Provider, opts ...Option) *Store {
	s := &Store{
		provider: provider,
		indexes:  DefaultIndexes,
		now:      time.Now,
		tables:   make(map[string]storage.Store),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Insert stores rec, generating "id" and "created_at" when absent.
func (s *Store) Insert(ctx context.Context, table string, rec backend.Record) (backend.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	st, err := s.table(table)
	if err != nil {
		return nil, err
	}

	stored := make(backend.Record, len(rec)+2)
	for k, v := range rec {
		stored[k] = v
	}

	id, ok := stored[FieldID].(string)
	if !ok || id == "" {
		id = uuid.New().String()
		stored[FieldID] = id
	}

	if _, ok = stored[FieldCreatedAt]; !ok {
		stored[FieldCreatedAt] = s.now().UTC().Format(time.RFC3339Nano)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err = st.Get(id); err == nil {
		return nil, fmt.Errorf("recordstore: %s %s: %w", table, id, backend.ErrAlreadyExists)
	}

	if err = s.put(st, id, stored); err != nil {
		return nil, err
	}

	return normalize(stored)
}

// Select returns every record of table matching filter.
func (s *Store) Select(ctx context.Context, table string, filter backend.Filter) ([]backend.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	st, err := s.table(table)
	if err != nil {
		return nil, err
	}

	return s.selectFrom(st, filter)
}

// Update merges patch into every record matching filter. Matching nothing is not an error.
func (s *Store) Update(ctx context.Context, table string, filter backend.Filter, patch backend.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	st, err := s.table(table)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.selectFrom(st, filter)
	if err != nil {
		return err
	}

	for _, rec := range records {
		for k, v := range patch {
			if k == FieldID {
				continue
			}

			rec[k] = v
		}

		id, _ := rec[FieldID].(string) //nolint:errcheck

		if err = s.put(st, id, rec); err != nil {
			return err
		}
	}

	logger.Debugf("updated %d record(s) in %s", len(records), table)

	return nil
}

func (s *Store) table(name string) (storage.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.tables[name]; ok {
		return st, nil
	}

	st, err := s.provider.OpenStore(name)
	if err != nil {
		return nil, fmt.Errorf("recordstore: open table %s: %w", name, err)
	}

	s.tables[name] = st

	return st, nil
}

func (s *Store) put(st storage.Store, id string, rec backend.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("recordstore: marshal record: %w", err)
	}

	if err = st.Put(id, raw, s.tags(rec)...); err != nil {
		return fmt.Errorf("recordstore: put record %s: %w", id, err)
	}

	return nil
}

func (s *Store) tags(rec backend.Record) []storage.Tag {
	tags := []storage.Tag{{Name: recordTag}}

	for _, column := range s.indexes {
		if v, ok := indexValue(rec[column]); ok {
			tags = append(tags, storage.Tag{Name: column, Value: v})
		}
	}

	return tags
}

func (s *Store) selectFrom(st storage.Store, filter backend.Filter) ([]backend.Record, error) {
	expression := recordTag

	for _, column := range s.indexes {
		if v, ok := indexValue(filter[column]); ok {
			expression = column + ":" + v

			break
		}
	}

	it, err := st.Query(expression)
	if err != nil {
		return nil, fmt.Errorf("recordstore: query %s: %w", expression, err)
	}

	defer storage.Close(it, logger)

	var records []backend.Record

	for {
		more, err := it.Next()
		if err != nil {
			return nil, fmt.Errorf("recordstore: iterate: %w", err)
		}

		if !more {
			break
		}

		raw, err := it.Value()
		if err != nil {
			return nil, fmt.Errorf("recordstore: read value: %w", err)
		}

		var rec backend.Record

		if err = json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("recordstore: unmarshal record: %w", err)
		}

		if matches(rec, filter) {
			records = append(records, rec)
		}
	}

	return records, nil
}

func matches(rec backend.Record, filter backend.Filter) bool {
	for k, want := range filter {
		got, ok := rec[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}

	return true
}

// indexValue returns the tag value of a column, if it can be indexed.
func indexValue(v interface{}) (string, bool) {
	s, ok := v.(string)
	if !ok || s == "" || strings.Contains(s, ":") {
		return "", false
	}

	return s, true
}

// normalize returns rec as it would be read back, with JSON-typed values.
func normalize(rec backend.Record) (backend.Record, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("recordstore: marshal record: %w", err)
	}

	var out backend.Record

	if err = json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("recordstore: unmarshal record: %w", err)
	}

	return out, nil
}
