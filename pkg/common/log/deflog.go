/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package log

import (
	"fmt"
	"io"
	builtinlog "log"
	"os"

	"github.com/flowsec/flowsec-go/spi/log"
)

const (
	logLevelFormatter  = "UTC -> %s "
	logPrefixFormatter = " [%s] "
)

// DefLog is the default logger, built on top of the standard go log package.
// Log Format : [<MODULE NAME>] <TIME IN UTC> -> <LOG LEVEL> <LOG TEXT>.
type DefLog struct {
	logger *builtinlog.Logger
	module string
}

func newDefLog(module string) *DefLog {
	return &DefLog{
		logger: builtinlog.New(os.Stdout, fmt.Sprintf(logPrefixFormatter, module),
			builtinlog.Ldate|builtinlog.Ltime|builtinlog.LUTC),
		module: module,
	}
}

// Fatalf is CRITICAL log formatted followed by a call to os.Exit(1).
func (l *DefLog) Fatalf(format string, args ...interface{}) {
	l.logf(log.CRITICAL, format, args...)
	os.Exit(1)
}

// Debugf logs verbose messages.
func (l *DefLog) Debugf(format string, args ...interface{}) {
	l.logf(log.DEBUG, format, args...)
}

// Infof logs general information messages.
func (l *DefLog) Infof(format string, args ...interface{}) {
	l.logf(log.INFO, format, args...)
}

// Warnf logs possible errors.
func (l *DefLog) Warnf(format string, args ...interface{}) {
	l.logf(log.WARNING, format, args...)
}

// Errorf logs errors.
func (l *DefLog) Errorf(format string, args ...interface{}) {
	l.logf(log.ERROR, format, args...)
}

// SetOutput sets the output destination for the logger.
func (l *DefLog) SetOutput(output io.Writer) {
	l.logger.SetOutput(output)
}

func (l *DefLog) logf(level log.Level, format string, args ...interface{}) {
	const callDepth = 3

	err := l.logger.Output(callDepth, fmt.Sprintf(logLevelFormatter, level)+fmt.Sprintf(format, args...))
	if err != nil {
		fmt.Printf("error from logger.Output %v\n", err) //nolint:forbidigo
	}
}

// modLog gates any underlying Logger by the per-module level.
type modLog struct {
	logger log.Logger
	module string
}

func (m *modLog) Fatalf(format string, args ...interface{}) {
	m.logger.Fatalf(format, args...)
}

func (m *modLog) Errorf(format string, args ...interface{}) {
	if IsEnabledFor(m.module, log.ERROR) {
		m.logger.Errorf(format, args...)
	}
}

func (m *modLog) Warnf(format string, args ...interface{}) {
	if IsEnabledFor(m.module, log.WARNING) {
		m.logger.Warnf(format, args...)
	}
}

func (m *modLog) Infof(format string, args ...interface{}) {
	if IsEnabledFor(m.module, log.INFO) {
		m.logger.Infof(format, args...)
	}
}

func (m *modLog) Debugf(format string, args ...interface{}) {
	if IsEnabledFor(m.module, log.DEBUG) {
		m.logger.Debugf(format, args...)
	}
}
