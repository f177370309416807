/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package envelope

import (
	"bytes"
	"crypto/rsa"
	"encoding/json"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowsec/flowsec-go/pkg/common/codec"
	"github.com/flowsec/flowsec-go/pkg/kms/rsakms"
)

//nolint:gochecknoglobals
var (
	keysOnce sync.Once
	alice    *rsakms.KeyPair
	bob      *rsakms.KeyPair
)

func keyPairs(t *testing.T) (*rsakms.KeyPair, *rsakms.KeyPair) {
	t.Helper()

	keysOnce.Do(func() {
		var err error

		alice, err = rsakms.GenerateKeyPair()
		require.NoError(t, err)

		bob, err = rsakms.GenerateKeyPair()
		require.NoError(t, err)
	})

	return alice, bob
}

func TestSealOpen(t *testing.T) {
	a, b := keyPairs(t)

	for _, pt := range [][]byte{{}, []byte("x"), bytes.Repeat([]byte{0xab}, 1<<16)} {
		env, err := Seal(pt, b.Public)
		require.NoError(t, err)

		iv, err := codec.DecodeBase64(env.IV)
		require.NoError(t, err)
		require.Len(t, iv, IVSize)

		got, err := Open(env, b.Private)
		require.NoError(t, err)
		require.Equal(t, len(pt), len(got))
		require.True(t, bytes.Equal(pt, got))

		// wrong recipient
		_, err = Open(env, a.Private)
		require.ErrorIs(t, err, ErrDecryptionFailed)
		require.ErrorIs(t, err, ErrUnwrapFailed)
	}
}

func TestSealIsRandomized(t *testing.T) {
	_, b := keyPairs(t)

	e1, err := Seal([]byte("same"), b.Public)
	require.NoError(t, err)

	e2, err := Seal([]byte("same"), b.Public)
	require.NoError(t, err)

	require.NotEqual(t, e1.WrappedKey, e2.WrappedKey)
	require.NotEqual(t, e1.IV, e2.IV)
	require.NotEqual(t, e1.Ciphertext, e2.Ciphertext)
}

func TestOpenTampered(t *testing.T) {
	_, b := keyPairs(t)

	env, err := Seal([]byte("attack at dawn"), b.Public)
	require.NoError(t, err)

	tampered := *env
	tampered.Ciphertext = append([]byte(nil), env.Ciphertext...)
	tampered.Ciphertext[0] ^= 0x01

	_, err = Open(&tampered, b.Private)
	require.ErrorIs(t, err, ErrTamperedOrWrongKey)
	require.ErrorIs(t, err, ErrDecryptionFailed)

	truncated := *env
	truncated.Ciphertext = env.Ciphertext[:len(env.Ciphertext)-1]

	_, err = Open(&truncated, b.Private)
	require.ErrorIs(t, err, ErrTamperedOrWrongKey)

	// iv swapped with another envelope's
	other, err := Seal([]byte("attack at dawn"), b.Public)
	require.NoError(t, err)

	swapped := *env
	swapped.IV = other.IV

	_, err = Open(&swapped, b.Private)
	require.ErrorIs(t, err, ErrTamperedOrWrongKey)

	badKey := *env
	badKey.WrappedKey = "not base64!"

	_, err = Open(&badKey, b.Private)
	require.ErrorIs(t, err, ErrUnwrapFailed)

	_, err = Open(nil, b.Private)
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDualEnvelope(t *testing.T) {
	sender, receiver := keyPairs(t)

	pt := []byte("0123456789")

	env, err := SealForTwoRecipients(pt, receiver.Public, sender.Public)
	require.NoError(t, err)
	require.NotEmpty(t, env.WrappedKeyReceiver)
	require.NotEmpty(t, env.WrappedKeySender)

	got, err := OpenDual(env, sender.Private, true)
	require.NoError(t, err)
	require.Equal(t, pt, got)

	got, err = OpenDual(env, receiver.Private, false)
	require.NoError(t, err)
	require.Equal(t, pt, got)

	// the sender cannot use the receiver's field
	_, err = OpenDual(env, sender.Private, false)
	require.ErrorIs(t, err, ErrUnwrapFailed)
}

func TestDualEnvelopeSenderBestEffort(t *testing.T) {
	sender, receiver := keyPairs(t)

	env, err := SealForTwoRecipients([]byte("payload"), receiver.Public, nil)
	require.NoError(t, err)
	require.NotEmpty(t, env.WrappedKeyReceiver)
	require.Empty(t, env.WrappedKeySender)

	// a key too small for OAEP(SHA-256) cannot wrap for the sender
	tiny := &rsa.PublicKey{N: big.NewInt(3233), E: 17}

	env, err = SealForTwoRecipients([]byte("payload"), receiver.Public, tiny)
	require.NoError(t, err)
	require.Empty(t, env.WrappedKeySender)

	// falls back to the receiver field when the sender field is absent
	got, err := OpenDual(env, receiver.Private, true)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), got)

	_, err = OpenDual(env, sender.Private, true)
	require.ErrorIs(t, err, ErrDecryptionFailed)

	// the receiver key is mandatory
	_, err = SealForTwoRecipients([]byte("payload"), nil, sender.Public)
	require.Error(t, err)

	_, err = SealForTwoRecipients([]byte("payload"), tiny, sender.Public)
	require.Error(t, err)
}

func TestText(t *testing.T) {
	_, b := keyPairs(t)

	env, err := SealText("héllo, wörld", b.Public)
	require.NoError(t, err)

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"encryptedAESKey"`)
	require.Contains(t, string(raw), `"encryptedData"`)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(raw, &decoded))

	text, err := OpenText(&decoded, b.Private)
	require.NoError(t, err)
	require.Equal(t, "héllo, wörld", text)

	env, err = Seal([]byte{0xff, 0xfe}, b.Public)
	require.NoError(t, err)

	_, err = OpenText(env, b.Private)
	require.ErrorIs(t, err, codec.ErrInvalidUTF8)
}
