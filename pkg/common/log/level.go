/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package log

import (
	"errors"
	"strings"
	"sync"

	"github.com/flowsec/flowsec-go/spi/log"
)

const (
	defaultLogLevel   = log.INFO
	defaultModuleName = ""
)

// ErrInvalidLevel is returned by ParseLevel for an unknown level name.
var ErrInvalidLevel = errors.New("logger: invalid log level")

//nolint:gochecknoglobals
var levels = &moduleLevels{levels: make(map[string]log.Level)}

// moduleLevels maintains log levels based on modules.
type moduleLevels struct {
	mu     sync.RWMutex
	levels map[string]log.Level
}

func (l *moduleLevels) get(module string) log.Level {
	l.mu.RLock()
	defer l.mu.RUnlock()

	level, exists := l.levels[module]
	if !exists {
		level, exists = l.levels[defaultModuleName]
		if !exists {
			return defaultLogLevel
		}
	}

	return level
}

func (l *moduleLevels) set(module string, level log.Level) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.levels[module] = level
}

// SetLevel sets the log level for the given module. An empty module name sets the
// level used by every module that has none of its own.
func SetLevel(module string, level log.Level) {
	levels.set(module, level)
}

// GetLevel returns the log level for the given module, INFO when not set.
func GetLevel(module string) log.Level {
	return levels.get(module)
}

// IsEnabledFor reports whether messages of the given level are written for module.
func IsEnabledFor(module string, level log.Level) bool {
	return level <= levels.get(module)
}

// ParseLevel returns the log level from its case-insensitive name.
func ParseLevel(level string) (log.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "CRITICAL":
		return log.CRITICAL, nil
	case "ERROR":
		return log.ERROR, nil
	case "WARNING", "WARN":
		return log.WARNING, nil
	case "INFO":
		return log.INFO, nil
	case "DEBUG":
		return log.DEBUG, nil
	default:
		return log.ERROR, ErrInvalidLevel
	}
}
