/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package session holds the decrypted private key of the signed-in identity for the
// lifetime of a session. Operations that need the key take the Context explicitly,
// and signing out clears it.
package session

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"

	"github.com/flowsec/flowsec-go/pkg/common/log"
	"github.com/flowsec/flowsec-go/pkg/crypto/kdf"
	"github.com/flowsec/flowsec-go/pkg/keydir"
	"github.com/flowsec/flowsec-go/pkg/kms/keystore"
	"github.com/flowsec/flowsec-go/pkg/kms/rsakms"
	"github.com/flowsec/flowsec-go/spi/backend"
)

var logger = log.New("flowsec/session")

var (
	// ErrNotSignedIn is returned when the identity provider has no current user.
	ErrNotSignedIn = errors.New("session: not signed in")
	// ErrNoPrivateKey is returned when no wrapped key is stored for the user.
	ErrNoPrivateKey = errors.New("session: no private key stored, keys must be set up or restored")
	// ErrCleared is returned when using a Context after Clear.
	ErrCleared = errors.New("session: context cleared")
)

// Context is the key material of one signed-in session.
type Context struct {
	userID string

	mu   sync.RWMutex
	priv *rsa.PrivateKey
}

// NewContext returns a Context holding priv for userID.
func NewContext(userID string, priv *rsa.PrivateKey) *Context {
	return &Context{userID: userID, priv: priv}
}

// UserID returns the identity the context belongs to.
func (c *Context) UserID() string {
	return c.userID
}

// PrivateKey returns the decrypted private key until the context is cleared.
func (c *Context) PrivateKey() (*rsa.PrivateKey, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.priv == nil {
		return nil, ErrCleared
	}

	return c.priv, nil
}

// PublicKey returns the public half of the session key.
func (c *Context) PublicKey() (*rsa.PublicKey, error) {
	priv, err := c.PrivateKey()
	if err != nil {
		return nil, err
	}

	return &priv.PublicKey, nil
}

// Clear drops the private key. It is safe to call more than once.
func (c *Context) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.priv = nil
}

// Manager creates session contexts for the signed-in user.
type Manager struct {
	identity backend.IdentityProvider
	keys     *keystore.Store
	dir      *keydir.Directory
	kdfOpts  []kdf.Option
}

// Option configures a Manager.
type Option func(*Manager)

// WithKDFOptions sets the key derivation options used to wrap and unwrap private keys.
func WithKDFOptions(opts ...kdf.Option) Option {
	return func(m *Manager) {
		m.kdfOpts = opts
	}
}

// NewManager returns a Manager.
func NewManager(identity backend.IdentityProvider, keys *keystore.Store, dir *keydir.Directory,
	opts ...Option) *Manager {
	m := &Manager{identity: identity, keys: keys, dir: dir}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// SetupKeys generates a key pair for the current user, stores its private half
// wrapped under secret, publishes the public half and returns a session for it.
// Any previous key of the user is replaced. When publishing fails the previously
// stored key is put back, so the stored and published keys stay a pair.
func (m *Manager) SetupKeys(ctx context.Context, secret string) (*Context, error) {
	user, err := m.currentUser(ctx)
	if err != nil {
		return nil, err
	}

	kp, err := rsakms.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	wrapped, err := rsakms.ExportPrivateKeyWrapped(kp.Private, secret, m.kdfOpts...)
	if err != nil {
		return nil, err
	}

	previous, err := m.keys.Get(user.ID)
	if err != nil && !errors.Is(err, keystore.ErrKeyNotFound) {
		return nil, err
	}

	if err = m.keys.Put(user.ID, wrapped); err != nil {
		return nil, err
	}

	if err = m.dir.Publish(ctx, user.ID, kp.Public); err != nil {
		m.restoreKey(user.ID, previous)

		return nil, err
	}

	logger.Infof("set up encryption keys for %s", user.ID)

	return NewContext(user.ID, kp.Private), nil
}

// Unlock decrypts the stored private key of the current user with secret.
func (m *Manager) Unlock(ctx context.Context, secret string) (*Context, error) {
	user, err := m.currentUser(ctx)
	if err != nil {
		return nil, err
	}

	wrapped, err := m.keys.Get(user.ID)
	if err != nil {
		if errors.Is(err, keystore.ErrKeyNotFound) {
			return nil, ErrNoPrivateKey
		}

		return nil, err
	}

	priv, err := rsakms.ImportPrivateKeyWrapped(wrapped, secret, m.kdfOpts...)
	if err != nil {
		return nil, fmt.Errorf("session: unlock private key: %w", err)
	}

	logger.Debugf("unlocked private key for %s", user.ID)

	return NewContext(user.ID, priv), nil
}

// SignOut clears c and ends the identity session. The context is cleared even when
// signing out of the provider fails.
func (m *Manager) SignOut(ctx context.Context, c *Context) error {
	if c != nil {
		c.Clear()
	}

	if err := m.identity.SignOut(ctx); err != nil {
		return fmt.Errorf("session: sign out: %w", err)
	}

	return nil
}

// restoreKey puts back the wrapped key stored before a failed setup. An empty
// previous blob means there was none.
func (m *Manager) restoreKey(userID, previous string) {
	var err error
	if previous == "" {
		err = m.keys.Delete(userID)
	} else {
		err = m.keys.Put(userID, previous)
	}

	if err != nil {
		logger.Errorf("failed to restore previous private key of %s: %s", userID, err)
	}
}

func (m *Manager) currentUser(ctx context.Context) (*backend.User, error) {
	user, err := m.identity.GetUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: get user: %w", err)
	}

	if user == nil || user.ID == "" {
		return nil, ErrNotSignedIn
	}

	return user, nil
}
