/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package rsakms manages the RSA-OAEP key pair of an identity: generation, SPKI import
// and export of the public half, password wrapping of the PKCS#8 private half and
// human-verifiable fingerprints.
package rsakms

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/flowsec/flowsec-go/pkg/common/codec"
	"github.com/flowsec/flowsec-go/pkg/common/log"
	"github.com/flowsec/flowsec-go/pkg/crypto/kdf"
)

const (
	// KeySize is the RSA modulus length in bits.
	KeySize = 2048
	// PublicExponent is the RSA public exponent used by generated keys.
	PublicExponent = 65537

	fingerprintGroup = 4
)

var logger = log.New("flowsec/kms/rsa")

var (
	// ErrCryptoUnavailable is returned when the platform cannot supply the primitives or entropy needed.
	ErrCryptoUnavailable = errors.New("rsakms: crypto unavailable")
	// ErrMalformedKey is returned when key material cannot be parsed.
	ErrMalformedKey = errors.New("rsakms: malformed key")
	// ErrWrongSecretOrCorrupt is returned when a wrapped private key fails authentication.
	ErrWrongSecretOrCorrupt = errors.New("rsakms: wrong secret or corrupt key")
)

// KeyPair is an RSA-OAEP key pair owned by one identity.
type KeyPair struct {
	Public  *rsa.PublicKey
	Private *rsa.PrivateKey
}

type options struct {
	rand io.Reader
}

// Option configures GenerateKeyPair.
type Option func(*options)

// WithRandReader sets the entropy source used for key generation.
func WithRandReader(r io.Reader) Option {
	return func(o *options) {
		o.rand = r
	}
}

// GenerateKeyPair creates a new 2048-bit key pair with exponent 65537.
func GenerateKeyPair(opts ...Option) (*KeyPair, error) {
	o := &options{rand: rand.Reader}
	for _, opt := range opts {
		opt(o)
	}

	priv, err := rsa.GenerateKey(o.rand, KeySize)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCryptoUnavailable, err.Error())
	}

	logger.Debugf("generated %d-bit RSA key pair", KeySize)

	return &KeyPair{Public: &priv.PublicKey, Private: priv}, nil
}

// ExportPublicKey encodes pub as base64 SPKI DER.
func ExportPublicKey(pub *rsa.PublicKey) (string, error) {
	if pub == nil {
		return "", fmt.Errorf("%w: nil public key", ErrMalformedKey)
	}

	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrMalformedKey, err.Error())
	}

	return codec.EncodeBase64(der), nil
}

// ImportPublicKey parses a base64 SPKI DER RSA public key.
func ImportPublicKey(s string) (*rsa.PublicKey, error) {
	der, err := codec.DecodeBase64(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedKey, err.Error())
	}

	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedKey, err.Error())
	}

	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA public key (%T)", ErrMalformedKey, key)
	}

	return pub, nil
}

// ExportPrivateKeyWrapped encrypts the PKCS#8 encoding of priv under a key derived
// from secret and returns base64(iv || ciphertext).
func ExportPrivateKeyWrapped(priv *rsa.PrivateKey, secret string, opts ...kdf.Option) (string, error) {
	if priv == nil {
		return "", fmt.Errorf("%w: nil private key", ErrMalformedKey)
	}

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrMalformedKey, err.Error())
	}

	key, err := kdf.Derive(secret, opts...)
	if err != nil {
		return "", fmt.Errorf("rsakms: derive wrapping key: %w", err)
	}

	return key.Seal(der), nil
}

// ImportPrivateKeyWrapped reverses ExportPrivateKeyWrapped. A wrong secret and a
// corrupted, truncated or non-base64 blob are reported identically as ErrWrongSecretOrCorrupt.
func ImportPrivateKeyWrapped(blob, secret string, opts ...kdf.Option) (*rsa.PrivateKey, error) {
	key, err := kdf.Derive(secret, opts...)
	if err != nil {
		return nil, fmt.Errorf("rsakms: derive wrapping key: %w", err)
	}

	// truncated, undecodable and unauthenticated blobs all read as one outcome
	der, err := key.Open(blob)
	if err != nil {
		logger.Debugf("failed to open wrapped private key: %s", err)

		return nil, ErrWrongSecretOrCorrupt
	}

	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedKey, err.Error())
	}

	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA private key (%T)", ErrMalformedKey, parsed)
	}

	return priv, nil
}

// Fingerprint returns the SHA-256 digest of the SPKI encoding of pub as upper-case
// hex in space separated groups of four, e.g. "3F2A 91BC ...".
func Fingerprint(pub *rsa.PublicKey) (string, error) {
	if pub == nil {
		return "", fmt.Errorf("%w: nil public key", ErrMalformedKey)
	}

	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrMalformedKey, err.Error())
	}

	sum := sha256.Sum256(der)
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))

	groups := make([]string, 0, len(digest)/fingerprintGroup)
	for i := 0; i < len(digest); i += fingerprintGroup {
		groups = append(groups, digest[i:i+fingerprintGroup])
	}

	return strings.Join(groups, " "), nil
}
