/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mem_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowsec/flowsec-go/pkg/storage/mem"
	"github.com/flowsec/flowsec-go/pkg/storage/storagetest"
	spi "github.com/flowsec/flowsec-go/spi/storage"
)

func TestCommon(t *testing.T) {
	storagetest.TestAll(t, mem.NewProvider())
}

func TestMemIterator(t *testing.T) {
	provider := mem.NewProvider()

	store, err := provider.OpenStore("TestStore")
	require.NoError(t, err)

	iterator, err := store.Query("TagName1")
	require.NoError(t, err)

	key, err := iterator.Key()
	require.EqualError(t, err, "iterator is exhausted")
	require.Empty(t, key)

	value, err := iterator.Value()
	require.EqualError(t, err, "iterator is exhausted")
	require.Nil(t, value)

	tags, err := iterator.Tags()
	require.EqualError(t, err, "iterator is exhausted")
	require.Nil(t, tags)

	more, err := iterator.Next()
	require.NoError(t, err)
	require.False(t, more)
}

func TestProviderClose(t *testing.T) {
	provider := mem.NewProvider()

	store, err := provider.OpenStore("TestStore")
	require.NoError(t, err)
	require.NoError(t, store.Put("key", []byte("value")))

	require.NoError(t, provider.Close())

	store, err = provider.OpenStore("TestStore")
	require.NoError(t, err)

	_, err = store.Get("key")
	require.ErrorIs(t, err, spi.ErrDataNotFound)
}

func TestValuesAreCopied(t *testing.T) {
	store, err := mem.NewProvider().OpenStore("TestStore")
	require.NoError(t, err)

	value := []byte("value")
	require.NoError(t, store.Put("key", value))

	value[0] = 'X'

	got, err := store.Get("key")
	require.NoError(t, err)
	require.Equal(t, []byte("value"), got)
}
