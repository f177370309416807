/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package storage defines the key-value store contract that flowsec persists keys,
// records and encrypted objects through.
package storage

import (
	"errors"

	spi "github.com/flowsec/flowsec-go/spi/log"
)

var (
	// ErrStoreNotFound is returned when a store is not found.
	ErrStoreNotFound = errors.New("store not found")
	// ErrDataNotFound is returned when data is not found.
	ErrDataNotFound = errors.New("data not found")
)

// Tag represents a Name + Value pair that can be associated with a key + value pair for querying later.
// Neither Name nor Value may contain a ':' character.
type Tag struct {
	Name  string `json:"name,omitempty"`
	Value string `json:"value,omitempty"`
}

// Provider represents a storage provider.
type Provider interface {
	// OpenStore opens a store with the given name and returns a handle.
	// If the store has never been opened before, then it is created.
	// Store names are not case-sensitive.
	OpenStore(name string) (Store, error)

	// Close closes all stores created under this store provider.
	Close() error
}

// Store represents a storage database.
type Store interface {
	// Put stores the key + value pair along with the (optional) tags.
	// If the key already exists, the value and tags are overwritten.
	Put(key string, value []byte, tags ...Tag) error

	// Get fetches the value associated with the given key.
	// If the key cannot be found, then an error wrapping ErrDataNotFound is returned.
	Get(key string) ([]byte, error)

	// GetTags fetches all tags associated with the given key.
	GetTags(key string) ([]Tag, error)

	// Query returns all data that satisfies the expression. Expression format: TagName:TagValue.
	// If TagValue is not provided, then all data associated with the TagName are returned.
	Query(expression string) (Iterator, error)

	// Delete deletes the key + value pair (and all tags) associated with key.
	// Deleting a key that does not exist is not an error.
	Delete(key string) error

	// Close closes this store object.
	Close() error
}

// Iterator allows for iteration over a collection of entries in a store.
type Iterator interface {
	// Next moves the pointer to the next entry. Returns false once the end is reached.
	Next() (bool, error)

	// Key returns the key of the current entry.
	Key() (string, error)

	// Value returns the value of the current entry.
	Value() ([]byte, error)

	// Tags returns the tags of the current entry.
	Tags() ([]Tag, error)

	// Close closes this iterator object.
	Close() error
}

// Close closes the iterator, logging any error.
func Close(iterator Iterator, logger spi.Logger) {
	if err := iterator.Close(); err != nil && logger != nil {
		logger.Errorf("failed to close iterator: %s", err.Error())
	}
}
