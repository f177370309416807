/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package log implements a moduled fmt-style logger. Each package declares its own
// logger with New and levels are set per module.
package log

import (
	"sync"

	"github.com/flowsec/flowsec-go/spi/log"
)

//nolint:lll
const (
	loggerNotInitializedMsg = "Default logger initialized (please call log.Initialize() if you wish to use a custom logger)"
	loggerModule            = "flowsec/common"
)

//nolint:gochecknoglobals
var (
	loggerProviderInstance log.LoggerProvider
	loggerProviderOnce     sync.Once
)

// Log is an implementation of the spi Logger.
// It encapsulates the default or a custom logger to provide module and level based logging.
type Log struct {
	instance log.Logger
	module   string
	once     sync.Once
}

// New creates a Logger for the given module. The underlying logger is resolved on
// first use, so Initialize must be called before the first line is logged to take effect.
func New(module string) *Log {
	return &Log{module: module}
}

// Fatalf calls Fatalf of the underlying logger.
func (l *Log) Fatalf(msg string, args ...interface{}) {
	l.logger().Fatalf(msg, args...)
}

// Debugf calls Debugf of the underlying logger.
func (l *Log) Debugf(msg string, args ...interface{}) {
	l.logger().Debugf(msg, args...)
}

// Infof calls Infof of the underlying logger.
func (l *Log) Infof(msg string, args ...interface{}) {
	l.logger().Infof(msg, args...)
}

// Warnf calls Warnf of the underlying logger.
func (l *Log) Warnf(msg string, args ...interface{}) {
	l.logger().Warnf(msg, args...)
}

// Errorf calls Errorf of the underlying logger.
func (l *Log) Errorf(msg string, args ...interface{}) {
	l.logger().Errorf(msg, args...)
}

func (l *Log) logger() log.Logger {
	l.once.Do(func() {
		l.instance = loggerProvider().GetLogger(l.module)
	})

	return l.instance
}

// Initialize sets a custom logging provider. It has no effect once any line was logged.
func Initialize(l log.LoggerProvider) {
	loggerProviderOnce.Do(func() {
		loggerProviderInstance = &modlogProvider{l}
		loggerProviderInstance.GetLogger(loggerModule).Debugf("Logger provider initialized")
	})
}

func loggerProvider() log.LoggerProvider {
	loggerProviderOnce.Do(func() {
		loggerProviderInstance = &modlogProvider{}
		loggerProviderInstance.GetLogger(loggerModule).Debugf(loggerNotInitializedMsg)
	})

	return loggerProviderInstance
}

// modlogProvider wraps the custom provider, or the default logger, with module levels.
type modlogProvider struct {
	custom log.LoggerProvider
}

func (p *modlogProvider) GetLogger(module string) log.Logger {
	var logger log.Logger
	if p.custom != nil {
		logger = p.custom.GetLogger(module)
	} else {
		logger = newDefLog(module)
	}

	return &modLog{logger: logger, module: module}
}
