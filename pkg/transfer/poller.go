/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transfer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/flowsec/flowsec-go/pkg/internal/logutil"
	"github.com/flowsec/flowsec-go/spi/backend"
	"github.com/flowsec/flowsec-go/spi/scan"
)

// poller is the registry entry of one running poll loop.
type poller struct {
	cancel context.CancelFunc
}

// ErrNotPollable is returned by ResumePolling for records without a running scan.
var ErrNotPollable = errors.New("transfer: record has no scan in progress")

// ResumePolling restarts background polling for a record whose scan was submitted but
// never observed as completed, for example after attempts ran out or a restart.
func (s *Service) ResumePolling(ctx context.Context, recordID string) error {
	if s.scanner == nil {
		return fmt.Errorf("%w: no scanner configured", ErrNotPollable)
	}

	rec, err := s.Get(ctx, recordID)
	if err != nil {
		return err
	}

	if rec.VTScanID == "" || !canAdvanceScan(rec.VTStatus, scan.StatusCompleted) {
		return fmt.Errorf("%w: %s is %s", ErrNotPollable, recordID, rec.VTStatus)
	}

	s.startPolling(rec.ID, rec.VTScanID, &tracker{
		recordID: rec.ID, fileName: rec.FileName, state: StateScanSubmitted, hook: s.hook,
	})

	return nil
}

// CancelPolling stops background polling of recordID. It reports whether a poller was running.
func (s *Service) CancelPolling(recordID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pollers[recordID]
	if ok {
		p.cancel()
		delete(s.pollers, recordID)
	}

	return ok
}

// Polling reports whether a poller is running for recordID.
func (s *Service) Polling(recordID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.pollers[recordID]

	return ok
}

func (s *Service) startPolling(recordID, scanID string, t *tracker) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, running := s.pollers[recordID]; running {
		return
	}

	ctx, cancel := context.WithCancel(s.base)
	p := &poller{cancel: cancel}
	s.pollers[recordID] = p

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer s.release(recordID, p)

		t.advance(StateScanPolling)

		if s.poll(ctx, recordID, scanID) {
			t.advance(StateScanCompleted)
		}
	}()
}

// release drops the registry entry of p unless another poller replaced it.
func (s *Service) release(recordID string, p *poller) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.cancel()

	if s.pollers[recordID] == p {
		delete(s.pollers, recordID)
	}
}

// poll waits one interval before each attempt and stops at the first completed
// analysis that was persisted. It reports whether the scan completed. When attempts
// run out the record is left as last observed.
func (s *Service) poll(ctx context.Context, recordID, scanID string) bool {
	schedule := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.interval), uint64(s.attempts)), ctx)

	for attempt := 1; ; attempt++ {
		wait := schedule.NextBackOff()
		if wait == backoff.Stop {
			if ctx.Err() == nil {
				logger.Infof("scan %s not completed after %d attempts, leaving record %s as is",
					scanID, s.attempts, recordID)
			}

			return false
		}

		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Debugf("polling of scan %s canceled", scanID)

			return false
		case <-timer.C:
		}

		logger.Debugf("polling scan %s (attempt %d/%d)", scanID, attempt, s.attempts)

		analysis, err := s.scanner.Poll(ctx, scanID)
		if err != nil {
			logutil.LogWarn(logger, "transfer", "poll", err.Error(), logutil.CreateKeyValueString("scan", scanID),
				logutil.CreateKeyValueString("attempt", strconv.Itoa(attempt)))

			continue
		}

		if normalizeScanStatus(analysis.Status) != scan.StatusCompleted {
			continue
		}

		if err = s.complete(ctx, recordID, analysis); err != nil {
			logutil.LogError(logger, "transfer", "complete", err.Error(),
				logutil.CreateKeyValueString("record", recordID), logutil.CreateKeyValueString("scan", scanID))

			continue
		}

		return true
	}
}

// complete persists a completed analysis unless the record already moved past it.
func (s *Service) complete(ctx context.Context, recordID string, analysis *scan.Analysis) error {
	rec, err := s.Get(ctx, recordID)
	if err != nil {
		return err
	}

	if !canAdvanceScan(rec.VTStatus, scan.StatusCompleted) {
		logger.Debugf("record %s already %s, not overwriting", recordID, rec.VTStatus)

		return nil
	}

	patch := completionPatch(analysis, s.now())

	if err = s.records.Update(ctx, TableFiles, backend.Filter{colID: recordID}, patch); err != nil {
		return err
	}

	logger.Infof("scan of %s completed: %s", recordID, patch[colVTThreatLabel])

	return nil
}
