/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package keystore persists password-wrapped private keys per identity under
// "privatekey-<identityID>".
package keystore

import (
	"errors"
	"fmt"
	"time"

	"github.com/flowsec/flowsec-go/pkg/common/log"
	"github.com/flowsec/flowsec-go/spi/storage"
)

const (
	// StoreName is the name of the underlying store.
	StoreName = "privatekeys"

	keyPrefix      = "privatekey-"
	storedAtPrefix = "storedat-"
)

var logger = log.New("flowsec/kms/keystore")

// ErrKeyNotFound is returned when no wrapped key is stored for an identity.
var ErrKeyNotFound = errors.New("keystore: no wrapped key for identity")

// Store holds wrapped private keys.
type Store struct {
	store storage.Store
	now   func() time.Time
}

// New opens the key store on the given provider.
func New(p storage.Provider) (*Store, error) {
	s, err := p.OpenStore(StoreName)
	if err != nil {
		return nil, fmt.Errorf("keystore: open store: %w", err)
	}

	return &Store{store: s, now: time.Now}, nil
}

// KeyName returns the storage key of the wrapped private key of identityID.
func KeyName(identityID string) string {
	return keyPrefix + identityID
}

// Put stores blob for identityID, overwriting any existing key.
func (s *Store) Put(identityID, blob string) error {
	if identityID == "" {
		return errors.New("keystore: identity id is empty")
	}

	if err := s.store.Put(KeyName(identityID), []byte(blob)); err != nil {
		return fmt.Errorf("keystore: put wrapped key: %w", err)
	}

	stamp := s.now().UTC().Format(time.RFC3339Nano)
	if err := s.store.Put(storedAtPrefix+identityID, []byte(stamp)); err != nil {
		logger.Warnf("failed to record storage time for %s: %s", identityID, err)
	}

	return nil
}

// Get returns the wrapped key of identityID.
func (s *Store) Get(identityID string) (string, error) {
	blob, err := s.store.Get(KeyName(identityID))
	if err != nil {
		if errors.Is(err, storage.ErrDataNotFound) {
			return "", ErrKeyNotFound
		}

		return "", fmt.Errorf("keystore: get wrapped key: %w", err)
	}

	return string(blob), nil
}

// Has reports whether a wrapped key is stored for identityID.
func (s *Store) Has(identityID string) (bool, error) {
	_, err := s.Get(identityID)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}

	return err == nil, err
}

// StoredAt returns when the key of identityID was last written. The zero time is
// returned when unknown.
func (s *Store) StoredAt(identityID string) time.Time {
	raw, err := s.store.Get(storedAtPrefix + identityID)
	if err != nil {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		return time.Time{}
	}

	return t
}

// Delete removes the wrapped key of identityID.
func (s *Store) Delete(identityID string) error {
	if err := s.store.Delete(KeyName(identityID)); err != nil {
		return fmt.Errorf("keystore: delete wrapped key: %w", err)
	}

	return s.store.Delete(storedAtPrefix + identityID)
}
