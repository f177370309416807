/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package kdf derives AES-256-GCM keys from user secrets with PBKDF2-HMAC-SHA256
// (RFC 8018 section 5.2) and seals small blobs under them as base64(nonce || ciphertext).
//
// The default salt is a fixed application constant, so equal secrets yield equal keys
// across users. Callers that can persist a per-user salt should pass it with WithSalt.
package kdf

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/google/tink/go/subtle/random"
	"golang.org/x/crypto/pbkdf2"

	"github.com/flowsec/flowsec-go/pkg/common/codec"
)

const (
	// DefaultIterations is the PBKDF2 iteration count.
	DefaultIterations = 100000
	// KeySize is the derived key length in bytes (AES-256).
	KeySize = 32
	// DefaultSalt is the application-wide salt.
	DefaultSalt = "flowsec-salt-v1"
)

var (
	// ErrEmptySecret is returned when deriving from an empty secret.
	ErrEmptySecret = errors.New("kdf: secret is empty")
	// ErrMalformed is returned when a sealed blob is not base64 or is too short.
	ErrMalformed = errors.New("kdf: malformed sealed blob")
	// ErrAuthFailed is returned when a sealed blob fails authentication under the derived key.
	ErrAuthFailed = errors.New("kdf: authentication failed")
)

type options struct {
	salt       []byte
	iterations int
}

// Option configures Derive.
type Option func(*options)

// WithSalt overrides the default salt.
func WithSalt(salt []byte) Option {
	return func(o *options) {
		o.salt = salt
	}
}

// WithIterations overrides the default iteration count.
func WithIterations(n int) Option {
	return func(o *options) {
		o.iterations = n
	}
}

// DerivedKey is an AES-256-GCM key derived from a secret. The raw key bytes are not retained.
type DerivedKey struct {
	aead cipher.AEAD
}

// Derive expands secret into an AES-256-GCM key. The same secret, salt and iteration
// count always yield the same key.
func Derive(secret string, opts ...Option) (*DerivedKey, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}

	o := &options{salt: []byte(DefaultSalt), iterations: DefaultIterations}
	for _, opt := range opts {
		opt(o)
	}

	if o.iterations <= 0 {
		return nil, fmt.Errorf("kdf: invalid iteration count %d", o.iterations)
	}

	key := pbkdf2.Key([]byte(secret), o.salt, o.iterations, KeySize, sha256.New)

	aead, err := newAESGCM(key)
	if err != nil {
		return nil, err
	}

	return &DerivedKey{aead: aead}, nil
}

// Seal encrypts plaintext under a fresh random nonce and returns base64(nonce || ciphertext).
func (k *DerivedKey) Seal(plaintext []byte) string {
	nonce := random.GetRandomBytes(uint32(k.aead.NonceSize()))
	ct := k.aead.Seal(nil, nonce, plaintext, nil)

	return codec.EncodeBase64(append(nonce, ct...))
}

// Open reverses Seal.
func (k *DerivedKey) Open(blob string) ([]byte, error) {
	ct, err := codec.DecodeBase64(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, err.Error())
	}

	nonceSize := k.aead.NonceSize()

	// nonce followed by at least the GCM tag
	if len(ct) < nonceSize+k.aead.Overhead() {
		return nil, ErrMalformed
	}

	pt, err := k.aead.Open(nil, ct[:nonceSize], ct[nonceSize:], nil)
	if err != nil {
		return nil, ErrAuthFailed
	}

	return pt, nil
}

func newAESGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("kdf: create AES cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("kdf: create AES-GCM cipher: %w", err)
	}

	return aead, nil
}
