/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package log

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowsec/flowsec-go/pkg/common/log/mocklogger"
	"github.com/flowsec/flowsec-go/spi/log"
)

func TestDefaultLogger(t *testing.T) {
	defer func() { loggerProviderOnce = sync.Once{} }()

	const module = "sample-module"

	logger := New(module)

	// force instance loading, then redirect the default logger to a buffer
	logger.Infof("sample output")

	buf := &bytes.Buffer{}

	ml, ok := logger.instance.(*modLog)
	require.True(t, ok)

	def, ok := ml.logger.(*DefLog)
	require.True(t, ok)
	def.SetOutput(buf)

	logger.Infof("hello %s", "world")
	require.Contains(t, buf.String(), "[sample-module]")
	require.Contains(t, buf.String(), "INFO hello world")

	buf.Reset()
	SetLevel(module, log.WARNING)
	logger.Infof("hidden")
	require.Empty(t, buf.String())

	logger.Errorf("visible")
	require.Contains(t, buf.String(), "ERROR visible")
}

func TestCustomLogger(t *testing.T) {
	defer func() { loggerProviderOnce = sync.Once{} }()

	loggerProviderOnce = sync.Once{}

	mock := &mocklogger.MockLogger{}
	Initialize(&mocklogger.Provider{Logger: mock})

	const module = "custom-module"

	SetLevel(module, log.INFO)

	logger := New(module)
	logger.Debugf("not recorded")
	logger.Infof("info %d", 1)
	logger.Warnf("warn %d", 2)
	logger.Errorf("error %d", 3)

	require.Equal(t, []string{"info 1"}, mock.InfoLog)
	require.Equal(t, []string{"warn 2"}, mock.Warnings())
	require.Equal(t, []string{"error 3"}, mock.Errors())
	require.Empty(t, mock.DebugLog)
}

func TestLevels(t *testing.T) {
	module := "sample-module-levels"

	require.Equal(t, log.INFO, GetLevel(module))

	SetLevel(module, log.CRITICAL)
	require.Equal(t, log.CRITICAL, GetLevel(module))
	require.True(t, IsEnabledFor(module, log.CRITICAL))
	require.False(t, IsEnabledFor(module, log.ERROR))

	SetLevel(module, log.DEBUG)
	require.True(t, IsEnabledFor(module, log.DEBUG))

	for name, want := range map[string]log.Level{
		"critical": log.CRITICAL,
		"ERROR":    log.ERROR,
		"warning":  log.WARNING,
		"Info":     log.INFO,
		"debug":    log.DEBUG,
	} {
		l, err := ParseLevel(name)
		require.NoError(t, err)
		require.Equal(t, want, l)
		require.Equal(t, want.String(), l.String())
	}

	_, err := ParseLevel("verbose")
	require.ErrorIs(t, err, ErrInvalidLevel)
	require.Equal(t, "UNKNOWN", log.Level(42).String())
}
