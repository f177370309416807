/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package backend defines the hosted-backend collaborators flowsec depends on:
// identity, structured records and binary objects.
package backend

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested object or record does not exist.
	ErrNotFound = errors.New("backend: not found")
	// ErrAlreadyExists is returned when uploading to an occupied object path.
	ErrAlreadyExists = errors.New("backend: already exists")
)

// Record is one row of a record set, keyed by column name.
type Record map[string]interface{}

// Filter selects records whose fields equal every given value.
type Filter map[string]interface{}

// Session is an authenticated session.
type Session struct {
	AccessToken string
	UserID      string
	ExpiresAt   time.Time
}

// User is the signed-in identity.
type User struct {
	ID    string
	Email string
}

// IdentityProvider resolves the current session and user.
type IdentityProvider interface {
	// GetSession returns the current session, or nil when signed out.
	GetSession(ctx context.Context) (*Session, error)
	// GetUser returns the current user, or nil when signed out.
	GetUser(ctx context.Context) (*User, error)
	// SignOut ends the current session.
	SignOut(ctx context.Context) error
}

// RecordStore is a table oriented structured store.
type RecordStore interface {
	// Insert adds rec to table and returns the stored record, including generated fields.
	Insert(ctx context.Context, table string, rec Record) (Record, error)
	// Select returns every record of table matching filter. A nil filter matches all records.
	Select(ctx context.Context, table string, filter Filter) ([]Record, error)
	// Update merges patch into every record of table matching filter.
	Update(ctx context.Context, table string, filter Filter, patch Record) error
}

// ObjectStore stores opaque binary objects by path.
type ObjectStore interface {
	// Upload stores data at path. It fails with ErrAlreadyExists if path is taken.
	Upload(ctx context.Context, path string, data []byte) error
	// Download returns the object at path or ErrNotFound.
	Download(ctx context.Context, path string) ([]byte, error)
	// Remove deletes the objects at paths. Missing paths are ignored.
	Remove(ctx context.Context, paths ...string) error
}
