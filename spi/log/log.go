/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package log defines the logger contract shared by every flowsec package.
package log

// Level is a log level for a logging message.
type Level int

// Log levels, ordered from least to most verbose.
const (
	CRITICAL Level = iota
	ERROR
	WARNING
	INFO
	DEBUG
)

var levelNames = [...]string{"CRITICAL", "ERROR", "WARNING", "INFO", "DEBUG"}

// String returns the upper-case name of the level.
func (l Level) String() string {
	if l < CRITICAL || l > DEBUG {
		return "UNKNOWN"
	}

	return levelNames[l]
}

// Logger represents a printf-style logger.
type Logger interface {
	Fatalf(msg string, args ...interface{})
	Errorf(msg string, args ...interface{})
	Warnf(msg string, args ...interface{})
	Infof(msg string, args ...interface{})
	Debugf(msg string, args ...interface{})
}

// LoggerProvider is a factory for moduled loggers.
type LoggerProvider interface {
	GetLogger(module string) Logger
}
