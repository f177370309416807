/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowsec/flowsec-go/pkg/crypto/envelope"
	"github.com/flowsec/flowsec-go/pkg/keydir"
	"github.com/flowsec/flowsec-go/pkg/kms/rsakms"
	mockbackend "github.com/flowsec/flowsec-go/pkg/mock/backend"
	"github.com/flowsec/flowsec-go/pkg/session"
	"github.com/flowsec/flowsec-go/spi/backend"
)

type fixture struct {
	svc     *Service
	records *mockbackend.MockRecordStore
	alice   *session.Context
	bob     *session.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctx := context.Background()
	records := mockbackend.NewMockRecordStore()
	dir := keydir.New(records)

	f := &fixture{records: records}

	for _, id := range []string{"alice", "bob"} {
		kp, err := rsakms.GenerateKeyPair()
		require.NoError(t, err)
		require.NoError(t, dir.Publish(ctx, id, kp.Public))

		if id == "alice" {
			f.alice = session.NewContext(id, kp.Private)
		} else {
			f.bob = session.NewContext(id, kp.Private)
		}
	}

	tick := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.svc = New(records, dir, WithClock(func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}))

	return f
}

func TestSendAndDecrypt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.svc.Send(ctx, f.alice, "bob", "hello bob ✓")
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)
	require.Equal(t, "alice", msg.SenderID)

	text, err := f.svc.Decrypt(f.bob, msg)
	require.NoError(t, err)
	require.Equal(t, "hello bob ✓", text)

	_, err = f.svc.Decrypt(f.alice, msg)
	require.ErrorIs(t, err, ErrNotRecipient)

	// a third party holding the receiver id cannot open it with its own key
	kp, err := rsakms.GenerateKeyPair()
	require.NoError(t, err)

	_, err = f.svc.Decrypt(session.NewContext("bob", kp.Private), msg)
	require.ErrorIs(t, err, envelope.ErrDecryptionFailed)

	f.bob.Clear()
	_, err = f.svc.Decrypt(f.bob, msg)
	require.ErrorIs(t, err, session.ErrCleared)
}

func TestConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, f.alice, "bob", "one")
	require.NoError(t, err)
	_, err = f.svc.Send(ctx, f.bob, "alice", "two")
	require.NoError(t, err)
	_, err = f.svc.Send(ctx, f.alice, "bob", "three")
	require.NoError(t, err)

	msgs, err := f.svc.Conversation(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	var texts []string

	for _, m := range msgs {
		sc := f.bob
		if m.ReceiverID == "alice" {
			sc = f.alice
		}

		text, err := f.svc.Decrypt(sc, m)
		require.NoError(t, err)

		texts = append(texts, text)
	}

	require.Equal(t, []string{"one", "two", "three"}, texts)
}

func TestSendErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, f.alice, "carol", "hi")
	require.ErrorIs(t, err, ErrRecipientHasNoKey)

	_, err = f.svc.Send(ctx, f.alice, "bob", "")
	require.ErrorIs(t, err, ErrEmptyMessage)

	f.records.ErrInsert = errors.New("db down")
	_, err = f.svc.Send(ctx, f.alice, "bob", "hi")
	require.Error(t, err)

	f.records.ErrInsert = nil
	f.records.ErrSelect = errors.New("db down")
	_, err = f.svc.Conversation(ctx, "alice", "bob")
	require.Error(t, err)
}

func TestDecryptMalformed(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Decrypt(f.bob, &Message{ReceiverID: "bob", EncryptedData: "%%%"})
	require.ErrorIs(t, err, envelope.ErrDecryptionFailed)

	rows, err := f.records.Select(context.Background(), TableMessages, backend.Filter{})
	require.NoError(t, err)
	require.Empty(t, rows)
}
