/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package mem provides an in-memory implementation of the storage provider.
package mem

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	spi "github.com/flowsec/flowsec-go/spi/storage"
)

const (
	expressionTagNameOnlyLength     = 1
	expressionTagNameAndValueLength = 2

	invalidTagName  = `"%s" is an invalid tag name since it contains one or more ':' characters`
	invalidTagValue = `"%s" is an invalid tag value since it contains one or more ':' characters`
)

var (
	errEmptyKey                     = errors.New("key cannot be empty")
	errInvalidQueryExpressionFormat = errors.New("invalid expression format. " +
		"it must be in the following format: TagName:TagValue")
	errIteratorExhausted = errors.New("iterator is exhausted")
)

// Provider represents an in-memory implementation of the spi.Provider interface.
type Provider struct {
	dbs  map[string]*memStore
	lock sync.RWMutex
}

// NewProvider instantiates a new in-memory storage Provider.
func NewProvider() *Provider {
	return &Provider{dbs: make(map[string]*memStore)}
}

// OpenStore opens a store with the given name and returns a handle.
// Reopening a store returns the same data.
func (p *Provider) OpenStore(name string) (spi.Store, error) {
	if name == "" {
		return nil, fmt.Errorf("store name cannot be empty")
	}

	storeName := strings.ToLower(name)

	p.lock.Lock()
	defer p.lock.Unlock()

	store := p.dbs[storeName]
	if store == nil {
		store = &memStore{name: storeName, db: make(map[string]dbEntry)}
		p.dbs[storeName] = store
	}

	return store, nil
}

// Close drops every store held by this provider.
func (p *Provider) Close() error {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.dbs = make(map[string]*memStore)

	return nil
}

type dbEntry struct {
	value []byte
	tags  []spi.Tag
}

type memStore struct {
	name string
	db   map[string]dbEntry
	sync.RWMutex
}

func (m *memStore) Put(key string, value []byte, tags ...spi.Tag) error {
	if key == "" {
		return errEmptyKey
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

	m.Lock()
	defer m.Unlock()

	m.db[key] = dbEntry{
		value: append([]byte(nil), value...),
		tags:  append([]spi.Tag(nil), tags...),
	}

	return nil
}

func (m *memStore) Get(key string) ([]byte, error) {
	if key == "" {
		return nil, errEmptyKey
	}

	m.RLock()
	defer m.RUnlock()

	entry, ok := m.db[key]
	if !ok {
		return nil, spi.ErrDataNotFound
	}

	return append([]byte(nil), entry.value...), nil
}

func (m *memStore) GetTags(key string) ([]spi.Tag, error) {
	if key == "" {
		return nil, errEmptyKey
	}

	m.RLock()
	defer m.RUnlock()

	entry, ok := m.db[key]
	if !ok {
		return nil, spi.ErrDataNotFound
	}

	return append([]spi.Tag(nil), entry.tags...), nil
}

func (m *memStore) Query(expression string) (spi.Iterator, error) {
	if expression == "" {
		return nil, errInvalidQueryExpressionFormat
	}

	var tagName, tagValue string

	expressionSplit := strings.Split(expression, ":")
	switch len(expressionSplit) {
	case expressionTagNameOnlyLength:
		tagName = expressionSplit[0]
	case expressionTagNameAndValueLength:
		tagName, tagValue = expressionSplit[0], expressionSplit[1]
	default:
		return nil, errInvalidQueryExpressionFormat
	}

	keys, dbEntries := m.getMatchingKeysAndDBEntries(tagName, tagValue)

	return &memIterator{keys: keys, dbEntries: dbEntries}, nil
}

func (m *memStore) Delete(k string) error {
	if k == "" {
		return errEmptyKey
	}

	m.Lock()
	defer m.Unlock()

	delete(m.db, k)

	return nil
}

func (m *memStore) Close() error {
	return nil
}

// getMatchingKeysAndDBEntries returns matches in key order so iteration is stable.
func (m *memStore) getMatchingKeysAndDBEntries(tagName, tagValue string) ([]string, []dbEntry) {
	matchAnyValue := tagValue == ""

	m.RLock()
	defer m.RUnlock()

	var keys []string

	for key, entry := range m.db {
		for _, tag := range entry.tags {
			if tag.Name == tagName && (matchAnyValue || tag.Value == tagValue) {
				keys = append(keys, key)

				break
			}
		}
	}

	sort.Strings(keys)

	dbEntries := make([]dbEntry, len(keys))
	for i, key := range keys {
		dbEntries[i] = m.db[key]
	}

	return keys, dbEntries
}

type memIterator struct {
	currentIndex   int
	currentKey     string
	currentDBEntry dbEntry
	keys           []string
	dbEntries      []dbEntry
}

func (m *memIterator) Next() (bool, error) {
	if len(m.keys) == 0 {
		return false, nil
	}

	m.currentKey = m.keys[0]
	m.currentDBEntry = m.dbEntries[0]
	m.keys = m.keys[1:]
	m.dbEntries = m.dbEntries[1:]
	m.currentIndex++

	return true, nil
}

func (m *memIterator) Key() (string, error) {
	if m.currentIndex == 0 {
		return "", errIteratorExhausted
	}

	return m.currentKey, nil
}

func (m *memIterator) Value() ([]byte, error) {
	if m.currentIndex == 0 {
		return nil, errIteratorExhausted
	}

	return m.currentDBEntry.value, nil
}

func (m *memIterator) Tags() ([]spi.Tag, error) {
	if m.currentIndex == 0 {
		return nil, errIteratorExhausted
	}

	return m.currentDBEntry.tags, nil
}

func (m *memIterator) Close() error {
	return nil
}
