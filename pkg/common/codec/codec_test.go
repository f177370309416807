/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBase64(t *testing.T) {
	for _, b := range [][]byte{{}, {0}, {0xff, 0xfe}, []byte("flowsec")} {
		s := EncodeBase64(b)

		got, err := DecodeBase64(s)
		require.NoError(t, err)
		require.Equal(t, len(b), len(got))
		require.Equal(t, string(b), string(got))
	}

	// browser btoa output for "hi"
	require.Equal(t, "aGk=", EncodeBase64([]byte("hi")))

	_, err := DecodeBase64("not base64!")
	require.Error(t, err)
}

func TestUTF8(t *testing.T) {
	s, err := DecodeUTF8(EncodeUTF8("héllo 🔐"))
	require.NoError(t, err)
	require.Equal(t, "héllo 🔐", s)

	_, err = DecodeUTF8([]byte{0xff, 0xfe})
	require.ErrorIs(t, err, ErrInvalidUTF8)
}
