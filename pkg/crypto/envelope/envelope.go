/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package envelope implements the hybrid cipher used for every payload: a one-time
// AES-256-GCM key encrypts the bytes and is itself wrapped with RSA-OAEP(SHA-256) for
// each recipient. Text is sealed as its UTF-8 bytes.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/google/tink/go/subtle/random"

	"github.com/flowsec/flowsec-go/pkg/common/codec"
	"github.com/flowsec/flowsec-go/pkg/common/log"
)

const (
	// KeySize is the one-time symmetric key length in bytes.
	KeySize = 32
	// IVSize is the AES-GCM nonce length in bytes.
	IVSize = 12
)

var logger = log.New("flowsec/crypto/envelope")

var (
	// ErrDecryptionFailed is the single kind every open failure is reported as.
	ErrDecryptionFailed = errors.New("envelope: cannot decrypt")
	// ErrUnwrapFailed is returned when the one-time key cannot be unwrapped with the private key.
	ErrUnwrapFailed = fmt.Errorf("%w: unwrap failed", ErrDecryptionFailed)
	// ErrTamperedOrWrongKey is returned when the ciphertext fails authentication.
	ErrTamperedOrWrongKey = fmt.Errorf("%w: tampered or wrong key", ErrDecryptionFailed)
)

// Envelope is a payload sealed for one recipient. WrappedKey and IV are base64.
type Envelope struct {
	WrappedKey string `json:"encryptedAESKey"`
	IV         string `json:"iv"`
	Ciphertext []byte `json:"encryptedData"`
}

// DualEnvelope is a payload encrypted once with its key wrapped for both the receiver
// and, when possible, the sender.
type DualEnvelope struct {
	WrappedKeyReceiver string `json:"encrypted_key"`
	WrappedKeySender   string `json:"encrypted_key_sender,omitempty"`
	IV                 string `json:"iv"`
	Ciphertext         []byte `json:"-"`
}

// ForRecipient returns the single-recipient view used to open the payload. The sender
// key is chosen when isSender is set and present, otherwise the receiver key.
func (d *DualEnvelope) ForRecipient(isSender bool) *Envelope {
	wrapped := d.WrappedKeyReceiver
	if isSender && d.WrappedKeySender != "" {
		wrapped = d.WrappedKeySender
	}

	return &Envelope{WrappedKey: wrapped, IV: d.IV, Ciphertext: d.Ciphertext}
}

// Seal encrypts plaintext for recipient under a fresh one-time key and IV.
func Seal(plaintext []byte, recipient *rsa.PublicKey) (*Envelope, error) {
	key, iv, ct, err := encrypt(plaintext)
	if err != nil {
		return nil, err
	}

	wrapped, err := wrapKey(key, recipient)
	if err != nil {
		return nil, err
	}

	return &Envelope{WrappedKey: wrapped, IV: codec.EncodeBase64(iv), Ciphertext: ct}, nil
}

// Open is the inverse of Seal.
func Open(env *Envelope, priv *rsa.PrivateKey) ([]byte, error) {
	if env == nil || priv == nil {
		return nil, ErrUnwrapFailed
	}

	wrapped, err := codec.DecodeBase64(env.WrappedKey)
	if err != nil {
		return nil, ErrUnwrapFailed
	}

	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrapped, nil)
	if err != nil || len(key) != KeySize {
		return nil, ErrUnwrapFailed
	}

	iv, err := codec.DecodeBase64(env.IV)
	if err != nil || len(iv) != IVSize {
		return nil, ErrTamperedOrWrongKey
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, ErrTamperedOrWrongKey
	}

	pt, err := aead.Open(nil, iv, env.Ciphertext, nil)
	if err != nil {
		return nil, ErrTamperedOrWrongKey
	}

	return pt, nil
}

// SealForTwoRecipients encrypts plaintext once and wraps the key for receiver and
// sender. Failure to wrap for the sender, including a nil sender key, is logged and
// leaves WrappedKeySender empty; failure to wrap for the receiver is returned.
func SealForTwoRecipients(plaintext []byte, receiver, sender *rsa.PublicKey) (*DualEnvelope, error) {
	key, iv, ct, err := encrypt(plaintext)
	if err != nil {
		return nil, err
	}

	receiverKey, err := wrapKey(key, receiver)
	if err != nil {
		return nil, err
	}

	env := &DualEnvelope{WrappedKeyReceiver: receiverKey, IV: codec.EncodeBase64(iv), Ciphertext: ct}

	if sender == nil {
		logger.Warnf("no sender public key, payload will only be readable by the receiver")

		return env, nil
	}

	senderKey, err := wrapKey(key, sender)
	if err != nil {
		logger.Warnf("failed to wrap key for sender, payload will only be readable by the receiver: %s", err)

		return env, nil
	}

	env.WrappedKeySender = senderKey

	return env, nil
}

// OpenDual opens a DualEnvelope with the wrapped key selected by isSender.
func OpenDual(env *DualEnvelope, priv *rsa.PrivateKey, isSender bool) ([]byte, error) {
	if env == nil {
		return nil, ErrUnwrapFailed
	}

	return Open(env.ForRecipient(isSender), priv)
}

// SealText seals the UTF-8 encoding of text.
func SealText(text string, recipient *rsa.PublicKey) (*Envelope, error) {
	return Seal(codec.EncodeUTF8(text), recipient)
}

// OpenText opens an envelope holding UTF-8 text.
func OpenText(env *Envelope, priv *rsa.PrivateKey) (string, error) {
	pt, err := Open(env, priv)
	if err != nil {
		return "", err
	}

	return codec.DecodeUTF8(pt)
}

func encrypt(plaintext []byte) (key, iv, ct []byte, err error) {
	key = random.GetRandomBytes(KeySize)
	iv = random.GetRandomBytes(IVSize)

	aead, err := newAEAD(key)
	if err != nil {
		return nil, nil, nil, err
	}

	return key, iv, aead.Seal(nil, iv, plaintext, nil), nil
}

func wrapKey(key []byte, pub *rsa.PublicKey) (string, error) {
	if pub == nil {
		return "", errors.New("envelope: recipient public key is nil")
	}

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return "", fmt.Errorf("envelope: wrap one-time key: %w", err)
	}

	return codec.EncodeBase64(wrapped), nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("envelope: create AES cipher: %w", err)
	}

	return cipher.NewGCM(block)
}
