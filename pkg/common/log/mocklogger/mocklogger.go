/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package mocklogger provides a recording logger for tests.
package mocklogger

import (
	"fmt"
	"sync"

	"github.com/flowsec/flowsec-go/spi/log"
)

// MockLogger records every formatted message it receives.
type MockLogger struct {
	mu       sync.Mutex
	FatalLog []string
	ErrorLog []string
	WarnLog  []string
	InfoLog  []string
	DebugLog []string
}

// Fatalf records a fatal message. It does not exit.
func (l *MockLogger) Fatalf(msg string, args ...interface{}) {
	l.record(&l.FatalLog, msg, args...)
}

// Errorf records an error message.
func (l *MockLogger) Errorf(msg string, args ...interface{}) {
	l.record(&l.ErrorLog, msg, args...)
}

// Warnf records a warning message.
func (l *MockLogger) Warnf(msg string, args ...interface{}) {
	l.record(&l.WarnLog, msg, args...)
}

// Infof records an info message.
func (l *MockLogger) Infof(msg string, args ...interface{}) {
	l.record(&l.InfoLog, msg, args...)
}

// Debugf records a debug message.
func (l *MockLogger) Debugf(msg string, args ...interface{}) {
	l.record(&l.DebugLog, msg, args...)
}

// Warnings returns a copy of the recorded warning messages.
func (l *MockLogger) Warnings() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.WarnLog...)
}

// Errors returns a copy of the recorded error messages.
func (l *MockLogger) Errors() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.ErrorLog...)
}

func (l *MockLogger) record(dst *[]string, msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	*dst = append(*dst, fmt.Sprintf(msg, args...))
}

// Provider hands out the same MockLogger for every module.
type Provider struct {
	Logger *MockLogger
}

// GetLogger returns the provider's MockLogger.
func (p *Provider) GetLogger(string) log.Logger {
	return p.Logger
}
