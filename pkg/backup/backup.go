/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package backup exports and restores the wrapped private key of an identity as a
// portable JSON document. The key inside is already password protected, so the
// document itself is not encrypted again.
package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/flowsec/flowsec-go/pkg/common/log"
	"github.com/flowsec/flowsec-go/pkg/kms/keystore"
)

// Version is the document format version written by Export.
const Version = "1.0"

const (
	defaultUserAgent = "flowsec-go"
	idPrefixLength   = 8
)

var logger = log.New("flowsec/backup")

var (
	// ErrInvalidBackupFormat is returned when a document cannot be parsed or lacks a required field.
	ErrInvalidBackupFormat = errors.New("backup: invalid backup file format")
	// ErrIdentityMismatch is returned when a document belongs to another identity.
	ErrIdentityMismatch = errors.New("backup: backup is for a different identity")
	// ErrNoKeyToExport is returned when the identity has no stored wrapped key.
	ErrNoKeyToExport = errors.New("backup: no private key found to export")
)

// DeviceInfo is a coarse description of the exporting device.
type DeviceInfo struct {
	UserAgent string `json:"userAgent"`
	Platform  string `json:"platform"`
}

// Document is the backup file content.
type Document struct {
	Version             string     `json:"version"`
	UserID              string     `json:"userId"`
	EncryptedPrivateKey string     `json:"encryptedPrivateKey"`
	ExportedAt          string     `json:"exportedAt"`
	DeviceInfo          DeviceInfo `json:"deviceInfo"`
}

// Info describes the locally stored key of an identity.
type Info struct {
	Exists    bool
	KeyLength int
	// StoredAt is zero when the storage time is unknown.
	StoredAt time.Time
}

// Service exports and imports backups against a key store.
type Service struct {
	keys   *keystore.Store
	device DeviceInfo
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithDeviceInfo overrides the device descriptor written into exported documents.
func WithDeviceInfo(d DeviceInfo) Option {
	return func(s *Service) {
		s.device = d
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New returns a backup Service over keys.
func New(keys *keystore.Store, opts ...Option) *Service {
	s := &Service{
		keys: keys,
		device: DeviceInfo{
			UserAgent: defaultUserAgent,
			Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		},
		now: time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Export builds the backup document for identityID from its stored wrapped key.
func (s *Service) Export(identityID string) ([]byte, error) {
	blob, err := s.keys.Get(identityID)
	if err != nil {
		if errors.Is(err, keystore.ErrKeyNotFound) {
			return nil, ErrNoKeyToExport
		}

		return nil, err
	}

	return s.ExportWrapped(identityID, blob)
}

// ExportWrapped builds a backup document for an already wrapped private key.
func (s *Service) ExportWrapped(identityID, wrapped string) ([]byte, error) {
	doc := Document{
		Version:             Version,
		UserID:              identityID,
		EncryptedPrivateKey: wrapped,
		ExportedAt:          s.now().UTC().Format(time.RFC3339Nano),
		DeviceInfo:          s.device,
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("backup: marshal document: %w", err)
	}

	logger.Infof("exported key backup for %s", shortID(identityID))

	return raw, nil
}

// Import parses raw, checks it belongs to currentIdentityID and stores its wrapped
// key, replacing any existing one. The wrapped key is returned.
func (s *Service) Import(raw []byte, currentIdentityID string) (string, error) {
	doc, err := Parse(raw)
	if err != nil {
		return "", err
	}

	if doc.UserID != currentIdentityID {
		return "", fmt.Errorf("%w: backup user %s..., current user %s...", ErrIdentityMismatch,
			shortID(doc.UserID), shortID(currentIdentityID))
	}

	if err = s.keys.Put(currentIdentityID, doc.EncryptedPrivateKey); err != nil {
		return "", err
	}

	logger.Infof("imported key backup for %s created at %s", shortID(currentIdentityID), doc.ExportedAt)

	return doc.EncryptedPrivateKey, nil
}

// HasBackup reports whether a wrapped key is stored for identityID.
func (s *Service) HasBackup(identityID string) (bool, error) {
	return s.keys.Has(identityID)
}

// Info describes the stored key of identityID.
func (s *Service) Info(identityID string) (*Info, error) {
	blob, err := s.keys.Get(identityID)
	if err != nil {
		if errors.Is(err, keystore.ErrKeyNotFound) {
			return &Info{}, nil
		}

		return nil, err
	}

	return &Info{Exists: true, KeyLength: len(blob), StoredAt: s.keys.StoredAt(identityID)}, nil
}

// Parse decodes a backup document and checks its required fields.
func Parse(raw []byte) (*Document, error) {
	var doc Document

	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidBackupFormat, err.Error())
	}

	if doc.Version == "" || doc.UserID == "" || doc.EncryptedPrivateKey == "" {
		return nil, ErrInvalidBackupFormat
	}

	return &doc, nil
}

// FileName returns the suggested download name for a backup of identityID.
func FileName(identityID string, at time.Time) string {
	return fmt.Sprintf("flowsec-keys-%s-%d.json", shortID(identityID), at.UnixMilli())
}

func shortID(id string) string {
	if len(id) > idPrefixLength {
		return id[:idPrefixLength]
	}

	return id
}
