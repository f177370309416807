/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package scan defines the malware-scan collaborator.
package scan

import (
	"context"
	"time"
)

// Status is the lifecycle state of a scan.
type Status string

// Scan statuses. Completed and Skipped are terminal.
const (
	StatusPending   Status = "pending"
	StatusScanning  Status = "scanning"
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
)

// Stats are the per-engine verdict counts of a finished analysis.
type Stats struct {
	Malicious  int `json:"malicious"`
	Suspicious int `json:"suspicious"`
	Harmless   int `json:"harmless"`
	Undetected int `json:"undetected"`
}

// Analysis is the state of a submitted scan.
type Analysis struct {
	Status    Status
	Stats     *Stats
	Permalink string
	ScanDate  time.Time
}

// Scanner submits files for scanning and reports on them.
type Scanner interface {
	// Submit uploads the plaintext file and returns the scan id.
	Submit(ctx context.Context, name string, data []byte) (string, error)
	// Poll returns the current analysis of a scan.
	Poll(ctx context.Context, scanID string) (*Analysis, error)
}
