/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package keystore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowsec/flowsec-go/pkg/storage/mem"
)

func TestStore(t *testing.T) {
	provider := mem.NewProvider()

	ks, err := New(provider)
	require.NoError(t, err)

	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ks.now = func() time.Time { return fixed }

	has, err := ks.Has("user-1")
	require.NoError(t, err)
	require.False(t, has)

	_, err = ks.Get("user-1")
	require.ErrorIs(t, err, ErrKeyNotFound)
	require.True(t, ks.StoredAt("user-1").IsZero())

	require.NoError(t, ks.Put("user-1", "blob-1"))

	blob, err := ks.Get("user-1")
	require.NoError(t, err)
	require.Equal(t, "blob-1", blob)
	require.True(t, fixed.Equal(ks.StoredAt("user-1")))

	// stored under the documented key name
	raw, err := provider.OpenStore(StoreName)
	require.NoError(t, err)

	value, err := raw.Get("privatekey-user-1")
	require.NoError(t, err)
	require.Equal(t, []byte("blob-1"), value)

	// overwrite
	require.NoError(t, ks.Put("user-1", "blob-2"))

	blob, err = ks.Get("user-1")
	require.NoError(t, err)
	require.Equal(t, "blob-2", blob)

	require.NoError(t, ks.Delete("user-1"))

	has, err = ks.Has("user-1")
	require.NoError(t, err)
	require.False(t, has)

	require.Error(t, ks.Put("", "blob"))
}
