/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package messaging seals text messages for their receiver and stores them in the
// messages record set.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"golang.org/x/exp/slices"

	"github.com/flowsec/flowsec-go/pkg/common/codec"
	"github.com/flowsec/flowsec-go/pkg/common/log"
	"github.com/flowsec/flowsec-go/pkg/crypto/envelope"
	"github.com/flowsec/flowsec-go/pkg/keydir"
	"github.com/flowsec/flowsec-go/pkg/session"
	"github.com/flowsec/flowsec-go/spi/backend"
)

// TableMessages is the record set holding sealed messages.
const TableMessages = "messages"

var logger = log.New("flowsec/messaging")

var (
	// ErrRecipientHasNoKey is returned when the receiver has not published a public key.
	ErrRecipientHasNoKey = errors.New("messaging: recipient has no public key")
	// ErrNotRecipient is returned when decrypting a message addressed to someone else.
	ErrNotRecipient = errors.New("messaging: message is not addressed to this session")
	// ErrEmptyMessage is returned when sending empty text.
	ErrEmptyMessage = errors.New("messaging: empty message")
)

// Message is a stored message. Only the receiver can open it.
type Message struct {
	ID              string    `json:"id"`
	SenderID        string    `json:"sender_id"`
	ReceiverID      string    `json:"receiver_id"`
	EncryptedAESKey string    `json:"encrypted_aes_key"`
	IV              string    `json:"iv"`
	EncryptedData   string    `json:"encrypted_data"`
	CreatedAt       time.Time `json:"created_at"`
}

// Service sends and reads messages.
type Service struct {
	records backend.RecordStore
	dir     *keydir.Directory
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used for created_at.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New returns a Service.
func New(records backend.RecordStore, dir *keydir.Directory, opts ...Option) *Service {
	s := &Service{records: records, dir: dir, now: time.Now}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Send seals text for receiverID and stores it as sent by the session user.
func (s *Service) Send(ctx context.Context, sc *session.Context, receiverID, text string) (*Message, error) {
	if text == "" {
		return nil, ErrEmptyMessage
	}

	pub, err := s.dir.PublicKey(ctx, receiverID)
	if err != nil {
		if errors.Is(err, keydir.ErrNoPublicKey) || errors.Is(err, keydir.ErrNoProfile) {
			return nil, fmt.Errorf("%w: %s", ErrRecipientHasNoKey, receiverID)
		}

		return nil, err
	}

	env, err := envelope.SealText(text, pub)
	if err != nil {
		return nil, err
	}

	msg := &Message{
		SenderID:        sc.UserID(),
		ReceiverID:      receiverID,
		EncryptedAESKey: env.WrappedKey,
		IV:              env.IV,
		EncryptedData:   codec.EncodeBase64(env.Ciphertext),
		CreatedAt:       s.now().UTC(),
	}

	row, err := s.records.Insert(ctx, TableMessages, backend.Record{
		"sender_id":         msg.SenderID,
		"receiver_id":       msg.ReceiverID,
		"encrypted_aes_key": msg.EncryptedAESKey,
		"iv":                msg.IV,
		"encrypted_data":    msg.EncryptedData,
		"created_at":        msg.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("messaging: store message: %w", err)
	}

	msg.ID, _ = row["id"].(string)

	logger.Debugf("sent message %s from %s to %s", msg.ID, msg.SenderID, msg.ReceiverID)

	return msg, nil
}

// Decrypt opens msg with the session key. Only the receiver can decrypt.
func (s *Service) Decrypt(sc *session.Context, msg *Message) (string, error) {
	if msg.ReceiverID != sc.UserID() {
		return "", ErrNotRecipient
	}

	priv, err := sc.PrivateKey()
	if err != nil {
		return "", err
	}

	ct, err := codec.DecodeBase64(msg.EncryptedData)
	if err != nil {
		return "", fmt.Errorf("%w: encrypted data: %s", envelope.ErrDecryptionFailed, err)
	}

	return envelope.OpenText(&envelope.Envelope{
		WrappedKey: msg.EncryptedAESKey,
		IV:         msg.IV,
		Ciphertext: ct,
	}, priv)
}

// Conversation returns the messages exchanged between a and b, oldest first.
func (s *Service) Conversation(ctx context.Context, a, b string) ([]*Message, error) {
	var out []*Message

	pairs := [][2]string{{a, b}}
	if a != b {
		pairs = append(pairs, [2]string{b, a})
	}

	for _, p := range pairs {
		rows, err := s.records.Select(ctx, TableMessages, backend.Filter{"sender_id": p[0], "receiver_id": p[1]})
		if err != nil {
			return nil, fmt.Errorf("messaging: select messages: %w", err)
		}

		for _, row := range rows {
			msg, err := decodeMessage(row)
			if err != nil {
				return nil, err
			}

			out = append(out, msg)
		}
	}

	slices.SortStableFunc(out, func(x, y *Message) int {
		return x.CreatedAt.Compare(y.CreatedAt)
	})

	return out, nil
}

func decodeMessage(rec backend.Record) (*Message, error) {
	var out Message

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "json",
		Result:     &out,
		DecodeHook: mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("messaging: create message decoder: %w", err)
	}

	if err = decoder.Decode(map[string]interface{}(rec)); err != nil {
		return nil, fmt.Errorf("messaging: decode message: %w", err)
	}

	return &out, nil
}
