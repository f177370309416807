/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowsec/flowsec-go/pkg/crypto/envelope"
	"github.com/flowsec/flowsec-go/pkg/crypto/kdf"
	"github.com/flowsec/flowsec-go/pkg/keydir"
	"github.com/flowsec/flowsec-go/pkg/kms/keystore"
	"github.com/flowsec/flowsec-go/pkg/kms/rsakms"
	mockbackend "github.com/flowsec/flowsec-go/pkg/mock/backend"
	"github.com/flowsec/flowsec-go/pkg/storage/mem"
)

func newManager(t *testing.T, identity *mockbackend.MockIdentity) (*Manager, *keydir.Directory,
	*mockbackend.MockRecordStore) {
	t.Helper()

	ks, err := keystore.New(mem.NewProvider())
	require.NoError(t, err)

	records := mockbackend.NewMockRecordStore()
	dir := keydir.New(records)

	return NewManager(identity, ks, dir, WithKDFOptions(kdf.WithIterations(1000))), dir, records
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	identity := mockbackend.NewMockIdentity("user-1", "user1@example.com")
	m, dir, _ := newManager(t, identity)

	// no keys yet
	_, err := m.Unlock(ctx, "user1@example.com")
	require.ErrorIs(t, err, ErrNoPrivateKey)

	sc, err := m.SetupKeys(ctx, "user1@example.com")
	require.NoError(t, err)
	require.Equal(t, "user-1", sc.UserID())

	pub, err := dir.PublicKey(ctx, "user-1")
	require.NoError(t, err)

	scPub, err := sc.PublicKey()
	require.NoError(t, err)
	require.True(t, pub.Equal(scPub))

	// a later session unlocks the same key
	unlocked, err := m.Unlock(ctx, "user1@example.com")
	require.NoError(t, err)

	priv, err := unlocked.PrivateKey()
	require.NoError(t, err)
	require.True(t, pub.Equal(&priv.PublicKey))

	_, err = m.Unlock(ctx, "wrong secret")
	require.ErrorIs(t, err, rsakms.ErrWrongSecretOrCorrupt)

	require.NoError(t, m.SignOut(ctx, unlocked))
	require.True(t, identity.SignedOut())

	_, err = unlocked.PrivateKey()
	require.ErrorIs(t, err, ErrCleared)

	_, err = unlocked.PublicKey()
	require.ErrorIs(t, err, ErrCleared)

	unlocked.Clear()

	// signed out users cannot unlock
	_, err = m.Unlock(ctx, "user1@example.com")
	require.ErrorIs(t, err, ErrNotSignedIn)

	_, err = m.SetupKeys(ctx, "user1@example.com")
	require.ErrorIs(t, err, ErrNotSignedIn)
}

func TestSignOutFailureStillClears(t *testing.T) {
	ctx := context.Background()
	identity := mockbackend.NewMockIdentity("user-2", "user2@example.com")
	identity.ErrSignOut = errors.New("network")
	m, _, _ := newManager(t, identity)

	sc, err := m.SetupKeys(ctx, "secret")
	require.NoError(t, err)

	require.Error(t, m.SignOut(ctx, sc))

	_, err = sc.PrivateKey()
	require.ErrorIs(t, err, ErrCleared)
}

func TestIdentityErrors(t *testing.T) {
	identity := mockbackend.NewMockIdentity("user-3", "user3@example.com")
	identity.ErrGetUser = errors.New("expired")
	m, _, _ := newManager(t, identity)

	_, err := m.Unlock(context.Background(), "secret")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotSignedIn)
}

func TestSetupKeysPublishFailureKeepsKeyPair(t *testing.T) {
	ctx := context.Background()
	identity := mockbackend.NewMockIdentity("user-4", "user4@example.com")
	m, dir, records := newManager(t, identity)

	_, err := m.SetupKeys(ctx, "secret")
	require.NoError(t, err)

	records.ErrUpdate = errors.New("profiles down")

	_, err = m.SetupKeys(ctx, "secret")
	require.Error(t, err)

	records.ErrUpdate = nil

	// the published key still opens with the stored key
	pub, err := dir.PublicKey(ctx, "user-4")
	require.NoError(t, err)

	env, err := envelope.SealText("still readable", pub)
	require.NoError(t, err)

	sc, err := m.Unlock(ctx, "secret")
	require.NoError(t, err)

	priv, err := sc.PrivateKey()
	require.NoError(t, err)

	text, err := envelope.OpenText(env, priv)
	require.NoError(t, err)
	require.Equal(t, "still readable", text)
}

func TestSetupKeysPublishFailureWithoutPreviousKey(t *testing.T) {
	ctx := context.Background()
	identity := mockbackend.NewMockIdentity("user-5", "user5@example.com")
	m, _, records := newManager(t, identity)

	records.ErrInsert = errors.New("profiles down")

	_, err := m.SetupKeys(ctx, "secret")
	require.Error(t, err)

	_, err = m.Unlock(ctx, "secret")
	require.ErrorIs(t, err, ErrNoPrivateKey)
}
