/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package logutil formats operation logs as key=[value] pairs.
package logutil

import (
	"fmt"
	"strings"

	"github.com/flowsec/flowsec-go/spi/log"
)

// LogError logs a failed action of component.
func LogError(logger log.Logger, component, action, errMsg string, data ...string) {
	logger.Errorf("%s errMsg=[%s]", prefix(component, action, data), errMsg)
}

// LogWarn logs a recoverable problem in an action of component.
func LogWarn(logger log.Logger, component, action, msg string, data ...string) {
	logger.Warnf("%s msg=[%s]", prefix(component, action, data), msg)
}

// LogInfo logs an action of component.
func LogInfo(logger log.Logger, component, action, msg string, data ...string) {
	logger.Infof("%s msg=[%s]", prefix(component, action, data), msg)
}

// LogDebug logs action details of component.
func LogDebug(logger log.Logger, component, action, msg string, data ...string) {
	logger.Debugf("%s msg=[%s]", prefix(component, action, data), msg)
}

// CreateKeyValueString creates a key=[value] string.
func CreateKeyValueString(key, val string) string {
	return fmt.Sprintf("%s=[%s]", key, val)
}

func prefix(component, action string, data []string) string {
	p := fmt.Sprintf("component=[%s] action=[%s]", component, action)

	if len(data) > 0 {
		p += " " + strings.Join(data, " ")
	}

	return p
}
