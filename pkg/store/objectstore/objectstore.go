/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package objectstore implements the binary object collaborator on a storage provider.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/flowsec/flowsec-go/pkg/common/log"
	"github.com/flowsec/flowsec-go/spi/backend"
	"github.com/flowsec/flowsec-go/spi/storage"
)

// DefaultBucket is the store name used for encrypted files.
const DefaultBucket = "encrypted-files"

var logger = log.New("flowsec/store/objects")

// Store is a backend.ObjectStore over a single storage store.
type Store struct {
	store storage.Store
	mu    sync.Mutex
}

// New opens bucket on provider.
func New(provider storage.Provider, bucket string) (*Store, error) {
	st, err := provider.OpenStore(bucket)
	if err != nil {
		return nil, fmt.Errorf("objectstore: open bucket %s: %w", bucket, err)
	}

	return &Store{store: st}, nil
}

// Upload stores data at path. Existing objects are never overwritten.
func (s *Store) Upload(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if path == "" || strings.HasPrefix(path, "/") {
		return fmt.Errorf("objectstore: invalid path %q", path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.store.Get(path); err == nil {
		return fmt.Errorf("objectstore: %s: %w", path, backend.ErrAlreadyExists)
	}

	if data == nil {
		data = []byte{}
	}

	if err := s.store.Put(path, data); err != nil {
		return fmt.Errorf("objectstore: upload %s: %w", path, err)
	}

	logger.Debugf("uploaded %d bytes to %s", len(data), path)

	return nil
}

// Download returns the object stored at path.
func (s *Store) Download(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := s.store.Get(path)
	if err != nil {
		if errors.Is(err, storage.ErrDataNotFound) {
			return nil, fmt.Errorf("objectstore: %s: %w", path, backend.ErrNotFound)
		}

		return nil, fmt.Errorf("objectstore: download %s: %w", path, err)
	}

	return data, nil
}

// Remove deletes the objects at paths.
func (s *Store) Remove(ctx context.Context, paths ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, path := range paths {
		if err := s.store.Delete(path); err != nil {
			return fmt.Errorf("objectstore: remove %s: %w", path, err)
		}
	}

	return nil
}
