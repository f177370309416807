/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package backend provides mock backend collaborators backed by in-memory storage,
// with the ability to inject errors and inspect calls.
package backend

import (
	"context"
	"sync"

	"github.com/flowsec/flowsec-go/pkg/storage/mem"
	"github.com/flowsec/flowsec-go/pkg/store/objectstore"
	"github.com/flowsec/flowsec-go/pkg/store/recordstore"
	"github.com/flowsec/flowsec-go/spi/backend"
)

// MockIdentity mock identity provider.
type MockIdentity struct {
	Session       *backend.Session
	User          *backend.User
	ErrGetSession error
	ErrGetUser    error
	ErrSignOut    error

	mu        sync.Mutex
	signedOut bool
}

// NewMockIdentity returns a provider signed in as the given user.
func NewMockIdentity(id, email string) *MockIdentity {
	return &MockIdentity{
		User:    &backend.User{ID: id, Email: email},
		Session: &backend.Session{UserID: id, AccessToken: "token-" + id},
	}
}

// GetSession returns the configured session, nil after SignOut.
func (m *MockIdentity) GetSession(context.Context) (*backend.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.signedOut {
		return nil, m.ErrGetSession
	}

	return m.Session, m.ErrGetSession
}

// GetUser returns the configured user, nil after SignOut.
func (m *MockIdentity) GetUser(context.Context) (*backend.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.signedOut {
		return nil, m.ErrGetUser
	}

	return m.User, m.ErrGetUser
}

// SignOut marks the provider signed out unless ErrSignOut is set.
func (m *MockIdentity) SignOut(context.Context) error {
	if m.ErrSignOut != nil {
		return m.ErrSignOut
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.signedOut = true

	return nil
}

// SignedOut reports whether SignOut succeeded.
func (m *MockIdentity) SignedOut() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.signedOut
}

// MockRecordStore is an in-memory record store with error overrides.
type MockRecordStore struct {
	*recordstore.Store
	ErrInsert error
	ErrSelect error
	ErrUpdate error
	// InsertReply, when set, is returned by Insert in place of the stored record.
	InsertReply backend.Record

	mu      sync.Mutex
	updates int
}

// NewMockRecordStore returns an empty MockRecordStore.
func NewMockRecordStore() *MockRecordStore {
	return &MockRecordStore{Store: recordstore.New(mem.NewProvider())}
}

// Insert stores rec unless ErrInsert is set.
func (m *MockRecordStore) Insert(ctx context.Context, table string, rec backend.Record) (backend.Record, error) {
	if m.ErrInsert != nil {
		return nil, m.ErrInsert
	}

	stored, err := m.Store.Insert(ctx, table, rec)
	if err != nil || m.InsertReply == nil {
		return stored, err
	}

	return m.InsertReply, nil
}

// Select queries records unless ErrSelect is set.
func (m *MockRecordStore) Select(ctx context.Context, table string, filter backend.Filter) ([]backend.Record, error) {
	if m.ErrSelect != nil {
		return nil, m.ErrSelect
	}

	return m.Store.Select(ctx, table, filter)
}

// Update patches records unless ErrUpdate is set.
func (m *MockRecordStore) Update(ctx context.Context, table string, filter backend.Filter,
	patch backend.Record) error {
	m.mu.Lock()
	m.updates++
	m.mu.Unlock()

	if m.ErrUpdate != nil {
		return m.ErrUpdate
	}

	return m.Store.Update(ctx, table, filter, patch)
}

// Updates returns the number of Update calls.
func (m *MockRecordStore) Updates() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.updates
}

// MockObjectStore is an in-memory object store with error overrides and call counts.
type MockObjectStore struct {
	*objectstore.Store
	ErrUpload   error
	ErrDownload error
	ErrRemove   error

	mu      sync.Mutex
	uploads []string
	removed []string
}

// NewMockObjectStore returns an empty MockObjectStore.
func NewMockObjectStore() *MockObjectStore {
	s, err := objectstore.New(mem.NewProvider(), objectstore.DefaultBucket)
	if err != nil {
		panic(err)
	}

	return &MockObjectStore{Store: s}
}

// Upload records the call and stores data unless ErrUpload is set.
func (m *MockObjectStore) Upload(ctx context.Context, path string, data []byte) error {
	m.mu.Lock()
	m.uploads = append(m.uploads, path)
	m.mu.Unlock()

	if m.ErrUpload != nil {
		return m.ErrUpload
	}

	return m.Store.Upload(ctx, path, data)
}

// Download returns the object unless ErrDownload is set.
func (m *MockObjectStore) Download(ctx context.Context, path string) ([]byte, error) {
	if m.ErrDownload != nil {
		return nil, m.ErrDownload
	}

	return m.Store.Download(ctx, path)
}

// Remove records the call and deletes the objects unless ErrRemove is set.
func (m *MockObjectStore) Remove(ctx context.Context, paths ...string) error {
	m.mu.Lock()
	m.removed = append(m.removed, paths...)
	m.mu.Unlock()

	if m.ErrRemove != nil {
		return m.ErrRemove
	}

	return m.Store.Remove(ctx, paths...)
}

// Uploads returns the paths passed to Upload.
func (m *MockObjectStore) Uploads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.uploads...)
}

// Removed returns the paths passed to Remove.
func (m *MockObjectStore) Removed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.removed...)
}
