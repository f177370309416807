/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package logutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowsec/flowsec-go/pkg/common/log/mocklogger"
)

func TestLogUtil(t *testing.T) {
	logger := &mocklogger.MockLogger{}

	LogError(logger, "scan-proxy", "forward", "timeout", CreateKeyValueString("path", "/files"))
	LogWarn(logger, "cli", "send", "no sender key")

	require.Equal(t, []string{"component=[scan-proxy] action=[forward] path=[/files] errMsg=[timeout]"},
		logger.Errors())
	require.Equal(t, []string{"component=[cli] action=[send] msg=[no sender key]"}, logger.Warnings())

	LogInfo(logger, "cli", "generate", "done")
	LogDebug(logger, "cli", "generate", "details")
}
