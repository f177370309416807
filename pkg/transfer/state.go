/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transfer

import (
	"golang.org/x/exp/slices"

	"github.com/flowsec/flowsec-go/spi/scan"
)

// State is the lifecycle state of one transfer.
type State int

// Transfer states, in the order a transfer moves through them.
const (
	StateInitiated State = iota
	StateEncrypting
	StateUploading
	StateMetadataSaved
	StateScanSubmitted
	StateScanPolling
	StateScanCompleted
	StateScanSkipped
)

func (s State) String() string {
	switch s {
	case StateInitiated:
		return "initiated"
	case StateEncrypting:
		return "encrypting"
	case StateUploading:
		return "uploading"
	case StateMetadataSaved:
		return "metadata-saved"
	case StateScanSubmitted:
		return "scan-submitted"
	case StateScanPolling:
		return "scan-polling"
	case StateScanCompleted:
		return "scan-completed"
	case StateScanSkipped:
		return "scan-skipped"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == StateScanCompleted || s == StateScanSkipped
}

// canTransition reports whether a transfer may move from one state to another.
// Moves are strictly forward and the two scan outcomes exclude each other.
func canTransition(from, to State) bool {
	if from.Terminal() || to <= from {
		return false
	}

	if to == StateScanSkipped {
		return from == StateMetadataSaved
	}

	return true
}

// Transition is reported to the transition hook on every state change.
type Transition struct {
	// RecordID is empty until the record is saved.
	RecordID string
	FileName string
	From     State
	To       State
}

// tracker holds the state of one transfer and reports its transitions.
type tracker struct {
	recordID string
	fileName string
	state    State
	hook     func(Transition)
}

func (t *tracker) advance(to State) {
	if !canTransition(t.state, to) {
		logger.Warnf("ignoring transition %s -> %s for %s", t.state, to, t.fileName)

		return
	}

	from := t.state
	t.state = to

	if t.hook != nil {
		t.hook(Transition{RecordID: t.recordID, FileName: t.fileName, From: from, To: to})
	}
}

// scanOrder ranks the scan statuses a polled ticket moves through.
//
//nolint:gochecknoglobals
var scanOrder = []scan.Status{scan.StatusPending, scan.StatusScanning, scan.StatusCompleted}

// canAdvanceScan reports whether a ticket may move from one scan status to another.
// Status only ever moves forward; skipped is terminal and only reachable from pending.
func canAdvanceScan(from, to scan.Status) bool {
	if from == scan.StatusSkipped {
		return false
	}

	if to == scan.StatusSkipped {
		return from == scan.StatusPending
	}

	fromRank, toRank := slices.Index(scanOrder, from), slices.Index(scanOrder, to)
	if fromRank < 0 || toRank < 0 {
		return false
	}

	return toRank > fromRank
}

// normalizeScanStatus maps scanner-reported statuses onto ticket statuses. Anything
// not yet finished, such as "queued" or "in-progress", counts as scanning.
func normalizeScanStatus(s scan.Status) scan.Status {
	switch s {
	case scan.StatusCompleted, scan.StatusSkipped, scan.StatusPending:
		return s
	default:
		return scan.StatusScanning
	}
}
