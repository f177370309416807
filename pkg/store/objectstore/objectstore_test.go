/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package objectstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowsec/flowsec-go/pkg/storage/mem"
	"github.com/flowsec/flowsec-go/spi/backend"
)

func TestStore(t *testing.T) {
	ctx := context.Background()

	s, err := New(mem.NewProvider(), DefaultBucket)
	require.NoError(t, err)

	require.NoError(t, s.Upload(ctx, "alice/1-a.txt.encrypted", []byte("ciphertext")))

	data, err := s.Download(ctx, "alice/1-a.txt.encrypted")
	require.NoError(t, err)
	require.Equal(t, []byte("ciphertext"), data)

	err = s.Upload(ctx, "alice/1-a.txt.encrypted", []byte("other"))
	require.ErrorIs(t, err, backend.ErrAlreadyExists)

	require.Error(t, s.Upload(ctx, "", []byte("x")))
	require.Error(t, s.Upload(ctx, "/abs", []byte("x")))

	require.NoError(t, s.Upload(ctx, "alice/empty", nil))

	require.NoError(t, s.Remove(ctx, "alice/1-a.txt.encrypted", "alice/empty", "missing"))

	_, err = s.Download(ctx, "alice/1-a.txt.encrypted")
	require.ErrorIs(t, err, backend.ErrNotFound)
}
