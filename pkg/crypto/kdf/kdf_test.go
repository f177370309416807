/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package kdf

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowsec/flowsec-go/pkg/common/codec"
)

func TestDerive(t *testing.T) {
	key, err := Derive("correct horse")
	require.NoError(t, err)

	sealed := key.Seal([]byte("private key bytes"))
	require.NotEmpty(t, sealed)

	// a second derivation from the same secret opens the first one's output
	again, err := Derive("correct horse")
	require.NoError(t, err)

	pt, err := again.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, []byte("private key bytes"), pt)

	// fresh nonce per seal
	require.NotEqual(t, sealed, key.Seal([]byte("private key bytes")))

	// nonce is 12 bytes, followed by ciphertext and 16 byte tag
	raw, err := codec.DecodeBase64(sealed)
	require.NoError(t, err)
	require.Len(t, raw, 12+len("private key bytes")+16)

	// different secret fails authentication
	other, err := Derive("wrong horse")
	require.NoError(t, err)

	_, err = other.Open(sealed)
	require.ErrorIs(t, err, ErrAuthFailed)

	// different salt also fails
	salted, err := Derive("correct horse", WithSalt([]byte("per-user-salt")))
	require.NoError(t, err)

	_, err = salted.Open(sealed)
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestDeriveErrors(t *testing.T) {
	_, err := Derive("")
	require.ErrorIs(t, err, ErrEmptySecret)

	_, err = Derive("secret", WithIterations(0))
	require.Error(t, err)

	key, err := Derive("secret", WithIterations(10))
	require.NoError(t, err)

	_, err = key.Open("!!!")
	require.ErrorIs(t, err, ErrMalformed)

	_, err = key.Open(codec.EncodeBase64([]byte("short")))
	require.ErrorIs(t, err, ErrMalformed)

	sealed := key.Seal([]byte("data"))
	raw, err := codec.DecodeBase64(sealed)
	require.NoError(t, err)

	raw[len(raw)-1] ^= 0x01

	_, err = key.Open(codec.EncodeBase64(raw))
	require.ErrorIs(t, err, ErrAuthFailed)
}
