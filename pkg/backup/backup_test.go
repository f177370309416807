/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package backup

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowsec/flowsec-go/pkg/kms/keystore"
	"github.com/flowsec/flowsec-go/pkg/storage/mem"
)

const userID = "6f1c2d3e-aaaa-bbbb-cccc-0123456789ab"

func newService(t *testing.T) (*Service, *keystore.Store) {
	t.Helper()

	ks, err := keystore.New(mem.NewProvider())
	require.NoError(t, err)

	fixed := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

	return New(ks, WithClock(func() time.Time { return fixed }),
		WithDeviceInfo(DeviceInfo{UserAgent: "test-agent", Platform: "test-os"})), ks
}

func TestExportImport(t *testing.T) {
	svc, ks := newService(t)

	// nothing to export yet
	_, err := svc.Export(userID)
	require.ErrorIs(t, err, ErrNoKeyToExport)

	has, err := svc.HasBackup(userID)
	require.NoError(t, err)
	require.False(t, has)

	info, err := svc.Info(userID)
	require.NoError(t, err)
	require.False(t, info.Exists)

	require.NoError(t, ks.Put(userID, "wrapped-key-blob"))

	raw, err := svc.Export(userID)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Equal(t, "1.0", doc["version"])
	require.Equal(t, userID, doc["userId"])
	require.Equal(t, "wrapped-key-blob", doc["encryptedPrivateKey"])
	require.Equal(t, "2024-05-06T07:08:09Z", doc["exportedAt"])
	require.Equal(t, map[string]interface{}{"userAgent": "test-agent", "platform": "test-os"}, doc["deviceInfo"])

	// restore on a fresh device
	other, otherKeys := newService(t)

	wrapped, err := other.Import(raw, userID)
	require.NoError(t, err)
	require.Equal(t, "wrapped-key-blob", wrapped)

	stored, err := otherKeys.Get(userID)
	require.NoError(t, err)
	require.Equal(t, "wrapped-key-blob", stored)

	has, err = other.HasBackup(userID)
	require.NoError(t, err)
	require.True(t, has)

	info, err = other.Info(userID)
	require.NoError(t, err)
	require.True(t, info.Exists)
	require.Equal(t, len("wrapped-key-blob"), info.KeyLength)
	require.False(t, info.StoredAt.IsZero())
}

func TestImportOverwrites(t *testing.T) {
	svc, ks := newService(t)

	require.NoError(t, ks.Put(userID, "old"))

	raw, err := svc.ExportWrapped(userID, "new")
	require.NoError(t, err)

	_, err = svc.Import(raw, userID)
	require.NoError(t, err)

	stored, err := ks.Get(userID)
	require.NoError(t, err)
	require.Equal(t, "new", stored)
}

func TestImportErrors(t *testing.T) {
	svc, ks := newService(t)

	raw, err := svc.ExportWrapped(userID, "blob")
	require.NoError(t, err)

	_, err = svc.Import(raw, "someone-else-entirely")
	require.ErrorIs(t, err, ErrIdentityMismatch)
	require.Contains(t, err.Error(), "6f1c2d3e")

	has, err := ks.Has("someone-else-entirely")
	require.NoError(t, err)
	require.False(t, has)

	for _, bad := range []string{
		`not json`,
		`{}`,
		`{"version":"1.0","userId":"` + userID + `"}`,
		`{"userId":"` + userID + `","encryptedPrivateKey":"blob"}`,
		`{"version":"1.0","encryptedPrivateKey":"blob"}`,
	} {
		_, err = svc.Import([]byte(bad), userID)
		require.ErrorIs(t, err, ErrInvalidBackupFormat, bad)
	}
}

func TestFileName(t *testing.T) {
	at := time.UnixMilli(1700000000123)

	require.Equal(t, "flowsec-keys-6f1c2d3e-1700000000123.json", FileName(userID, at))
	require.Equal(t, "flowsec-keys-abc-1700000000123.json", FileName("abc", at))
}
