/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package codec converts between raw bytes, base64 text and UTF-8 text.
// Base64 uses the standard padded alphabet so values written by browser clients decode.
package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrInvalidUTF8 is returned when decoded bytes are not valid UTF-8.
var ErrInvalidUTF8 = errors.New("codec: invalid utf-8")

// EncodeBase64 encodes b with the standard padded alphabet.
func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeBase64 decodes s with the standard padded alphabet.
func DecodeBase64(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("codec: decode base64: %w", err)
	}

	return b, nil
}

// EncodeUTF8 returns the UTF-8 bytes of s.
func EncodeUTF8(s string) []byte {
	return []byte(s)
}

// DecodeUTF8 returns b as a string, rejecting invalid UTF-8.
func DecodeUTF8(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}

	return string(b), nil
}
