/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package keydir

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowsec/flowsec-go/pkg/kms/rsakms"
	mockbackend "github.com/flowsec/flowsec-go/pkg/mock/backend"
	"github.com/flowsec/flowsec-go/spi/backend"
)

func TestDirectory(t *testing.T) {
	ctx := context.Background()
	records := mockbackend.NewMockRecordStore()
	dir := New(records, WithCache(8, time.Minute))

	_, err := dir.PublicKey(ctx, "alice")
	require.ErrorIs(t, err, ErrNoProfile)

	_, err = records.Insert(ctx, TableProfiles, backend.Record{"id": "bob", "email": "bob@example.com"})
	require.NoError(t, err)

	_, err = dir.PublicKey(ctx, "bob")
	require.ErrorIs(t, err, ErrNoPublicKey)

	kp, err := rsakms.GenerateKeyPair()
	require.NoError(t, err)

	// publish to an existing profile keeps its other fields
	require.NoError(t, dir.Publish(ctx, "bob", kp.Public))

	p, err := dir.Profile(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, "bob@example.com", p.Email)
	require.True(t, p.HasKey())

	pub, err := dir.PublicKey(ctx, "bob")
	require.NoError(t, err)
	require.True(t, kp.Public.Equal(pub))

	// cached: lookups keep working while the record store is down
	records.ErrSelect = errors.New("db down")

	pub, err = dir.PublicKey(ctx, "bob")
	require.NoError(t, err)
	require.True(t, kp.Public.Equal(pub))

	dir.Invalidate("bob")

	_, err = dir.PublicKey(ctx, "bob")
	require.Error(t, err)

	records.ErrSelect = nil

	// publish without a profile creates one
	require.NoError(t, dir.Publish(ctx, "alice", kp.Public))

	profiles, err := dir.Profiles(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 2)

	// malformed published key
	require.NoError(t, records.Update(ctx, TableProfiles, backend.Filter{"id": "alice"},
		backend.Record{"public_key": "garbage"}))
	dir.Invalidate("alice")

	_, err = dir.PublicKey(ctx, "alice")
	require.ErrorIs(t, err, rsakms.ErrMalformedKey)
}
