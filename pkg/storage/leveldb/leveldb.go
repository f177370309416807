/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package leveldb implements the storage provider on top of goleveldb, one database
// directory per store.
package leveldb

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/flowsec/flowsec-go/spi/storage"
)

const (
	pathPattern = "%s-%s"

	// data entries live under "d:<key>", tag index entries under "t:<tagName>:<key>".
	// Tag names never contain ':' so the index prefix of one tag never matches another.
	dataPrefix = "d:"
	tagPrefix  = "t:"

	invalidTagName                  = `"%s" is an invalid tag name since it contains one or more ':' characters`
	invalidTagValue                 = `"%s" is an invalid tag value since it contains one or more ':' characters`
	expressionTagNameOnlyLength     = 1
	expressionTagNameAndValueLength = 2
	invalidQueryExpressionFormat    = `"%s" is not in a valid expression format. ` +
		"it must be in the following format: TagName:TagValue"
)

// Provider leveldb implementation of storage.Provider interface.
type Provider struct {
	dbPath string
	dbs    map[string]*store
	lock   sync.RWMutex
}

type dbEntry struct {
	Value []byte        `json:"value,omitempty"`
	Tags  []storage.Tag `json:"tags,omitempty"`
}

// NewProvider instantiates Provider. Each store is kept at <dbPath>-<storeName>.
func NewProvider(dbPath string) *Provider {
	return &Provider{dbs: make(map[string]*store), dbPath: dbPath}
}

// OpenStore opens a store with the given name and returns a handle.
// If the store has never been opened before, then it is created.
func (p *Provider) OpenStore(name string) (storage.Store, error) {
	if name == "" {
		return nil, errors.New("store name cannot be blank")
	}

	name = strings.ToLower(name)

	p.lock.Lock()
	defer p.lock.Unlock()

	if s, ok := p.dbs[name]; ok {
		return s, nil
	}

	db, err := leveldb.OpenFile(fmt.Sprintf(pathPattern, p.dbPath, name), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb store %s: %w", name, err)
	}

	s := &store{db: db, name: name, close: p.removeStore}
	p.dbs[name] = s

	return s, nil
}

// Close closes all stores created under this store provider.
func (p *Provider) Close() error {
	p.lock.RLock()

	openStoresSnapshot := make([]*store, 0, len(p.dbs))
	for _, openStore := range p.dbs {
		openStoresSnapshot = append(openStoresSnapshot, openStore)
	}
	p.lock.RUnlock()

	for _, openStore := range openStoresSnapshot {
		err := openStore.Close()
		if err != nil {
			return fmt.Errorf(`failed to close open store with name "%s": %w`, openStore.name, err)
		}
	}

	return nil
}

func (p *Provider) removeStore(name string) {
	p.lock.Lock()
	defer p.lock.Unlock()

	delete(p.dbs, name)
}

type store struct {
	db    *leveldb.DB
	name  string
	close func(name string)
	// serialises index rewrites on Put/Delete
	lock sync.Mutex
}

func (s *store) Put(key string, value []byte, tags ...storage.Tag) error {
	if key == "" {
		return errors.New("key cannot be blank")
	}

	if value == nil {
		return errors.New("value cannot be nil")
	}

	for _, tag := range tags {
		if strings.Contains(tag.Name, ":") {
			return fmt.Errorf(invalidTagName, tag.Name)
		}

		if strings.Contains(tag.Value, ":") {
			return fmt.Errorf(invalidTagValue, tag.Value)
		}
	}

	entryBytes, err := json.Marshal(dbEntry{Value: value, Tags: tags})
	if err != nil {
		return fmt.Errorf("failed to marshal new DB entry: %w", err)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	batch := new(leveldb.Batch)

	if err = s.unindex(batch, key); err != nil {
		return err
	}

	batch.Put(dataKey(key), entryBytes)

	for _, tag := range tags {
		batch.Put(indexKey(tag.Name, key), nil)
	}

	if err = s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}

	return nil
}

func (s *store) Get(key string) ([]byte, error) {
	entry, err := s.getDBEntry(key)
	if err != nil {
		return nil, fmt.Errorf("failed to get DB entry: %w", err)
	}

	return entry.Value, nil
}

func (s *store) GetTags(key string) ([]storage.Tag, error) {
	entry, err := s.getDBEntry(key)
	if err != nil {
		return nil, fmt.Errorf("failed to get DB entry: %w", err)
	}

	return entry.Tags, nil
}

func (s *store) Query(expression string) (storage.Iterator, error) {
	if expression == "" {
		return nil, fmt.Errorf(invalidQueryExpressionFormat, expression)
	}

	var tagName, tagValue string

	expressionSplit := strings.Split(expression, ":")
	switch len(expressionSplit) {
	case expressionTagNameOnlyLength:
		tagName = expressionSplit[0]
	case expressionTagNameAndValueLength:
		tagName, tagValue = expressionSplit[0], expressionSplit[1]
	default:
		return nil, fmt.Errorf(invalidQueryExpressionFormat, expression)
	}

	prefix := indexKey(tagName, "")

	it := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	var matches []match

	for it.Next() {
		key := string(it.Key()[len(prefix):])

		entry, err := s.getDBEntry(key)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve indexed key %s: %w", key, err)
		}

		if tagValue == "" || hasTag(entry.Tags, tagName, tagValue) {
			matches = append(matches, match{key: key, entry: entry})
		}
	}

	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate tag index: %w", err)
	}

	return &iterator{matches: matches}, nil
}

func (s *store) Delete(key string) error {
	if key == "" {
		return errors.New("key cannot be blank")
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	batch := new(leveldb.Batch)

	if err := s.unindex(batch, key); err != nil {
		return err
	}

	batch.Delete(dataKey(key))

	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to delete from underlying database: %w", err)
	}

	return nil
}

func (s *store) Close() error {
	s.close(s.name)

	err := s.db.Close()
	if err != nil && !errors.Is(err, leveldb.ErrClosed) {
		return err
	}

	return nil
}

// unindex queues deletion of the index entries of the current value stored under key.
func (s *store) unindex(batch *leveldb.Batch, key string) error {
	existing, err := s.getDBEntry(key)
	if errors.Is(err, storage.ErrDataNotFound) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to read existing entry: %w", err)
	}

	for _, tag := range existing.Tags {
		batch.Delete(indexKey(tag.Name, key))
	}

	return nil
}

func (s *store) getDBEntry(key string) (dbEntry, error) {
	if key == "" {
		return dbEntry{}, errors.New("key cannot be blank")
	}

	raw, err := s.db.Get(dataKey(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return dbEntry{}, storage.ErrDataNotFound
		}

		return dbEntry{}, err
	}

	var entry dbEntry

	if err = json.Unmarshal(raw, &entry); err != nil {
		return dbEntry{}, fmt.Errorf("failed to unmarshal DB entry: %w", err)
	}

	return entry, nil
}

func dataKey(key string) []byte {
	return []byte(dataPrefix + key)
}

func indexKey(tagName, key string) []byte {
	return []byte(tagPrefix + tagName + ":" + key)
}

func hasTag(tags []storage.Tag, name, value string) bool {
	for _, tag := range tags {
		if tag.Name == name && tag.Value == value {
			return true
		}
	}

	return false
}

type match struct {
	key   string
	entry dbEntry
}

type iterator struct {
	matches []match
	current *match
}

func (i *iterator) Next() (bool, error) {
	if len(i.matches) == 0 {
		i.current = nil

		return false, nil
	}

	i.current = &i.matches[0]
	i.matches = i.matches[1:]

	return true, nil
}

func (i *iterator) Key() (string, error) {
	if i.current == nil {
		return "", errors.New("iterator is exhausted")
	}

	return i.current.key, nil
}

func (i *iterator) Value() ([]byte, error) {
	if i.current == nil {
		return nil, errors.New("iterator is exhausted")
	}

	return i.current.entry.Value, nil
}

func (i *iterator) Tags() ([]storage.Tag, error) {
	if i.current == nil {
		return nil, errors.New("iterator is exhausted")
	}

	return i.current.entry.Tags, nil
}

func (i *iterator) Close() error {
	return nil
}
