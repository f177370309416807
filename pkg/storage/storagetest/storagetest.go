/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package storagetest contains common tests every storage provider implementation must pass.
package storagetest

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	spi "github.com/flowsec/flowsec-go/spi/storage"
)

// TestAll runs all the common provider tests.
func TestAll(t *testing.T, provider spi.Provider) {
	t.Helper()

	t.Run("Put and Get", func(t *testing.T) {
		TestPutGet(t, provider)
	})
	t.Run("GetTags", func(t *testing.T) {
		TestStoreGetTags(t, provider)
	})
	t.Run("Delete", func(t *testing.T) {
		TestStoreDelete(t, provider)
	})
	t.Run("Query", func(t *testing.T) {
		TestStoreQuery(t, provider)
	})
	t.Run("Reopen", func(t *testing.T) {
		TestStoreReopen(t, provider)
	})
}

// TestPutGet tests basic Put and Get behaviour.
func TestPutGet(t *testing.T, provider spi.Provider) {
	t.Helper()

	store, err := provider.OpenStore(randomStoreName())
	require.NoError(t, err)

	const key = "did:example:1"

	data := []byte("value1")

	err = store.Put(key, data)
	require.NoError(t, err)

	value, err := store.Get(key)
	require.NoError(t, err)
	require.Equal(t, data, value)

	// overwrite
	err = store.Put(key, []byte("value2"))
	require.NoError(t, err)

	value, err = store.Get(key)
	require.NoError(t, err)
	require.Equal(t, []byte("value2"), value)

	value, err = store.Get("non-existent")
	require.ErrorIs(t, err, spi.ErrDataNotFound)
	require.Nil(t, value)

	err = store.Put("", data)
	require.Error(t, err)

	err = store.Put(key, nil)
	require.Error(t, err)

	_, err = store.Get("")
	require.Error(t, err)

	err = store.Put(key, data, spi.Tag{Name: "bad:name"})
	require.Error(t, err)

	err = store.Put(key, data, spi.Tag{Name: "name", Value: "bad:value"})
	require.Error(t, err)
}

// TestStoreGetTags tests tag retrieval.
func TestStoreGetTags(t *testing.T, provider spi.Provider) {
	t.Helper()

	store, err := provider.OpenStore(randomStoreName())
	require.NoError(t, err)

	tags := []spi.Tag{{Name: "tagName1", Value: "tagValue1"}, {Name: "tagName2"}}

	err = store.Put("key", []byte("value"), tags...)
	require.NoError(t, err)

	got, err := store.GetTags("key")
	require.NoError(t, err)
	require.ElementsMatch(t, tags, got)

	_, err = store.GetTags("missing")
	require.ErrorIs(t, err, spi.ErrDataNotFound)
}

// TestStoreDelete tests deletion.
func TestStoreDelete(t *testing.T, provider spi.Provider) {
	t.Helper()

	store, err := provider.OpenStore(randomStoreName())
	require.NoError(t, err)

	err = store.Put("key", []byte("value"), spi.Tag{Name: "tag"})
	require.NoError(t, err)

	err = store.Delete("key")
	require.NoError(t, err)

	_, err = store.Get("key")
	require.ErrorIs(t, err, spi.ErrDataNotFound)

	iterator, err := store.Query("tag")
	require.NoError(t, err)
	verifyExpectedIterator(t, iterator, nil, nil)

	// deleting a missing key is not an error
	require.NoError(t, store.Delete("key"))
	require.Error(t, store.Delete(""))
}

// TestStoreQuery tests tag name and tag name + value queries.
func TestStoreQuery(t *testing.T, provider spi.Provider) {
	t.Helper()

	store, err := provider.OpenStore(randomStoreName())
	require.NoError(t, err)

	putData(t, store, []string{"key1", "key2", "key3"}, [][]byte{[]byte("v1"), []byte("v2"), []byte("v3")},
		[][]spi.Tag{
			{{Name: "owner", Value: "alice"}, {Name: "record"}},
			{{Name: "owner", Value: "bob"}, {Name: "record"}},
			{{Name: "owner", Value: "alice"}},
		})

	iterator, err := store.Query("owner:alice")
	require.NoError(t, err)
	verifyExpectedIterator(t, iterator, []string{"key1", "key3"}, [][]byte{[]byte("v1"), []byte("v3")})

	iterator, err = store.Query("record")
	require.NoError(t, err)
	verifyExpectedIterator(t, iterator, []string{"key1", "key2"}, [][]byte{[]byte("v1"), []byte("v2")})

	iterator, err = store.Query("owner:carol")
	require.NoError(t, err)
	verifyExpectedIterator(t, iterator, nil, nil)

	_, err = store.Query("")
	require.Error(t, err)

	_, err = store.Query("a:b:c")
	require.Error(t, err)
}

// TestStoreReopen tests that data survives reopening a store by name (case-insensitive).
func TestStoreReopen(t *testing.T, provider spi.Provider) {
	t.Helper()

	name := randomStoreName()

	store, err := provider.OpenStore(name)
	require.NoError(t, err)

	require.NoError(t, store.Put("key", []byte("value")))
	require.NoError(t, store.Close())

	reopened, err := provider.OpenStore(name)
	require.NoError(t, err)

	value, err := reopened.Get("key")
	require.NoError(t, err)
	require.Equal(t, []byte("value"), value)

	_, err = provider.OpenStore("")
	require.Error(t, err)
}

func randomStoreName() string {
	return "store-" + uuid.New().String()
}

func putData(t *testing.T, store spi.Store, keys []string, values [][]byte, tags [][]spi.Tag) {
	t.Helper()

	for i := 0; i < len(keys); i++ {
		err := store.Put(keys[i], values[i], tags[i]...)
		require.NoError(t, err)
	}
}

func verifyExpectedIterator(t *testing.T, actualResultsItr spi.Iterator, expectedKeys []string,
	expectedValues [][]byte) {
	t.Helper()

	var (
		keys   []string
		values [][]byte
	)

	more, err := actualResultsItr.Next()
	require.NoError(t, err)

	for more {
		key, errKey := actualResultsItr.Key()
		require.NoError(t, errKey)

		value, errValue := actualResultsItr.Value()
		require.NoError(t, errValue)

		keys = append(keys, key)
		values = append(values, value)

		more, err = actualResultsItr.Next()
		require.NoError(t, err)
	}

	require.NoError(t, actualResultsItr.Close())
	require.ElementsMatch(t, expectedKeys, keys)
	require.ElementsMatch(t, expectedValues, values)
}
