/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package keydir resolves the published public keys of users from the profiles
// record set, caching parsed keys.
package keydir

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/bluele/gcache"
	"github.com/mitchellh/mapstructure"

	"github.com/flowsec/flowsec-go/pkg/common/log"
	"github.com/flowsec/flowsec-go/pkg/kms/rsakms"
	"github.com/flowsec/flowsec-go/spi/backend"
)

// TableProfiles is the record set holding user profiles.
const TableProfiles = "profiles"

const (
	defaultCacheSize = 256
	defaultCacheTTL  = 10 * time.Minute
)

var logger = log.New("flowsec/keydir")

var (
	// ErrNoProfile is returned when a user has no profile.
	ErrNoProfile = errors.New("keydir: profile not found")
	// ErrNoPublicKey is returned when a user has not published a public key.
	ErrNoPublicKey = errors.New("keydir: user has no public key")
)

// Profile is a user profile.
type Profile struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	Username  string `json:"username,omitempty"`
	Name      string `json:"name,omitempty"`
	PublicKey string `json:"public_key,omitempty"`
}

// HasKey reports whether the profile has a published public key.
func (p *Profile) HasKey() bool {
	return p.PublicKey != ""
}

// Directory looks up user public keys.
type Directory struct {
	records backend.RecordStore
	cache   gcache.Cache
}

type options struct {
	size int
	ttl  time.Duration
}

// Option configures a Directory.
type Option func(*options)

// WithCache sets the number of cached keys and how long they stay cached.
func WithCache(size int, ttl time.Duration) Option {
	return func(o *options) {
		o.size = size
		o.ttl = ttl
	}
}

// New returns a Directory over records.
func New(records backend.RecordStore, opts ...Option) *Directory {
	o := &options{size: defaultCacheSize, ttl: defaultCacheTTL}
	for _, opt := range opts {
		opt(o)
	}

	return &Directory{
		records: records,
		cache:   gcache.New(o.size).LRU().Expiration(o.ttl).Build(),
	}
}

// Profile returns the profile of userID.
func (d *Directory) Profile(ctx context.Context, userID string) (*Profile, error) {
	rows, err := d.records.Select(ctx, TableProfiles, backend.Filter{"id": userID})
	if err != nil {
		return nil, fmt.Errorf("keydir: select profile: %w", err)
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoProfile, userID)
	}

	return decodeProfile(rows[0])
}

// Profiles returns every profile.
func (d *Directory) Profiles(ctx context.Context) ([]*Profile, error) {
	rows, err := d.records.Select(ctx, TableProfiles, nil)
	if err != nil {
		return nil, fmt.Errorf("keydir: select profiles: %w", err)
	}

	profiles := make([]*Profile, 0, len(rows))

	for _, row := range rows {
		p, err := decodeProfile(row)
		if err != nil {
			return nil, err
		}

		profiles = append(profiles, p)
	}

	return profiles, nil
}

// PublicKey returns the parsed public key of userID.
func (d *Directory) PublicKey(ctx context.Context, userID string) (*rsa.PublicKey, error) {
	if cached, err := d.cache.Get(userID); err == nil {
		if pub, ok := cached.(*rsa.PublicKey); ok {
			return pub, nil
		}
	}

	p, err := d.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}

	if !p.HasKey() {
		return nil, fmt.Errorf("%w: %s", ErrNoPublicKey, userID)
	}

	pub, err := rsakms.ImportPublicKey(p.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("keydir: public key of %s: %w", userID, err)
	}

	if err = d.cache.Set(userID, pub); err != nil {
		logger.Warnf("failed to cache public key of %s: %s", userID, err)
	}

	return pub, nil
}

// Publish stores pub as the public key of userID, creating the profile if needed.
func (d *Directory) Publish(ctx context.Context, userID string, pub *rsa.PublicKey) error {
	encoded, err := rsakms.ExportPublicKey(pub)
	if err != nil {
		return err
	}

	defer d.Invalidate(userID)

	_, err = d.Profile(ctx, userID)

	switch {
	case errors.Is(err, ErrNoProfile):
		_, err = d.records.Insert(ctx, TableProfiles, backend.Record{"id": userID, "public_key": encoded})
	case err == nil:
		err = d.records.Update(ctx, TableProfiles, backend.Filter{"id": userID}, backend.Record{"public_key": encoded})
	}

	if err != nil {
		return fmt.Errorf("keydir: publish public key of %s: %w", userID, err)
	}

	logger.Infof("published public key of %s", userID)

	return nil
}

// Invalidate drops the cached key of userID.
func (d *Directory) Invalidate(userID string) {
	d.cache.Remove(userID)
}

func decodeProfile(rec backend.Record) (*Profile, error) {
	var p Profile

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{TagName: "json", Result: &p})
	if err != nil {
		return nil, fmt.Errorf("keydir: create profile decoder: %w", err)
	}

	if err = decoder.Decode(map[string]interface{}(rec)); err != nil {
		return nil, fmt.Errorf("keydir: decode profile: %w", err)
	}

	return &p, nil
}
