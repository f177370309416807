/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package scan provides a mock malware scanner.
package scan

import (
	"context"
	"sync"

	"github.com/flowsec/flowsec-go/spi/scan"
)

// MockScanner returns ScanID from Submit and walks through Analyses on each Poll,
// repeating the last one once exhausted.
type MockScanner struct {
	ScanID    string
	ErrSubmit error
	ErrPoll   error
	Analyses  []*scan.Analysis

	mu        sync.Mutex
	submitted [][]byte
	polls     int
}

// Submit records data and returns ScanID.
func (m *MockScanner) Submit(_ context.Context, _ string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.submitted = append(m.submitted, append([]byte(nil), data...))

	if m.ErrSubmit != nil {
		return "", m.ErrSubmit
	}

	return m.ScanID, nil
}

// Poll returns the next configured analysis.
func (m *MockScanner) Poll(context.Context, string) (*scan.Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.polls++

	if m.ErrPoll != nil {
		return nil, m.ErrPoll
	}

	if len(m.Analyses) == 0 {
		return &scan.Analysis{Status: scan.StatusPending}, nil
	}

	idx := m.polls - 1
	if idx >= len(m.Analyses) {
		idx = len(m.Analyses) - 1
	}

	return m.Analyses[idx], nil
}

// Submitted returns every payload passed to Submit.
func (m *MockScanner) Submitted() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([][]byte(nil), m.submitted...)
}

// Polls returns the number of Poll calls.
func (m *MockScanner) Polls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.polls
}
