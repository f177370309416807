/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package transfer sends files end-to-end encrypted to one receiver. Each file is
// encrypted once with its key wrapped for both receiver and sender, uploaded as
// ciphertext, recorded in the files record set and, when a scanner is configured,
// scanned in plaintext with the verdict polled in the background.
package transfer

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/flowsec/flowsec-go/pkg/common/log"
	"github.com/flowsec/flowsec-go/pkg/crypto/envelope"
	"github.com/flowsec/flowsec-go/spi/backend"
	"github.com/flowsec/flowsec-go/spi/scan"
)

const (
	// DefaultMaxFileSize is the largest accepted file, 100 MiB.
	DefaultMaxFileSize = 100 * 1024 * 1024
	// DefaultPollInterval is the wait before each scan poll.
	DefaultPollInterval = 10 * time.Second
	// DefaultPollAttempts is the number of scan polls before giving up.
	DefaultPollAttempts = 20

	defaultFileType = "application/octet-stream"
	objectSuffix    = ".encrypted"
)

var logger = log.New("flowsec/transfer")

var (
	// ErrFileTooLarge is returned before any upload when a file exceeds the size limit.
	ErrFileTooLarge = errors.New("transfer: file too large")
	// ErrUploadFailed is returned when the ciphertext cannot be uploaded.
	ErrUploadFailed = errors.New("transfer: upload failed")
	// ErrPersistFailed is returned when the file record cannot be saved.
	ErrPersistFailed = errors.New("transfer: persist failed")
	// ErrDownloadFailed is returned when the ciphertext cannot be downloaded.
	ErrDownloadFailed = errors.New("transfer: download failed")
	// ErrDecryptionFailed is returned when a downloaded file cannot be decrypted.
	ErrDecryptionFailed = errors.New("transfer: decryption failed")
)

// File is a plaintext file to send.
type File struct {
	Name string
	// Type is the media type, application/octet-stream when empty.
	Type string
	Data []byte
}

// Service orchestrates file transfers.
type Service struct {
	records  backend.RecordStore
	objects  backend.ObjectStore
	scanner  scan.Scanner
	maxSize  int64
	interval time.Duration
	attempts int
	now      func() time.Time
	hook     func(Transition)

	// base is canceled by Close; pollers derive from it, never from a caller's context.
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pollers map[string]*poller
}

// Option configures a Service.
type Option func(*Service)

// WithScanner sets the malware scanner. Without one every transfer is recorded as skipped.
func WithScanner(s scan.Scanner) Option {
	return func(svc *Service) {
		svc.scanner = s
	}
}

// WithMaxFileSize overrides the size limit in bytes.
func WithMaxFileSize(n int64) Option {
	return func(svc *Service) {
		svc.maxSize = n
	}
}

// WithPollInterval overrides the wait before each scan poll.
func WithPollInterval(d time.Duration) Option {
	return func(svc *Service) {
		svc.interval = d
	}
}

// WithPollAttempts overrides the number of scan polls.
func WithPollAttempts(n int) Option {
	return func(svc *Service) {
		svc.attempts = n
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(svc *Service) {
		svc.now = now
	}
}

// WithTransitionHook registers a function called on every transfer state change.
// It may be called from polling goroutines.
func WithTransitionHook(hook func(Transition)) Option {
	return func(svc *Service) {
		svc.hook = hook
	}
}

// New returns a transfer Service.
func New(records backend.RecordStore, objects backend.ObjectStore, opts ...Option) *Service {
	base, cancel := context.WithCancel(context.Background())

	svc := &Service{
		records:  records,
		objects:  objects,
		maxSize:  DefaultMaxFileSize,
		interval: DefaultPollInterval,
		attempts: DefaultPollAttempts,
		now:      time.Now,
		base:     base,
		cancel:   cancel,
		pollers:  make(map[string]*poller),
	}

	for _, opt := range opts {
		opt(svc)
	}

	return svc
}

// Send encrypts file for receiver (and sender, best-effort), uploads the ciphertext
// and saves its record. Either the record exists and the file is retrievable, or an
// error is returned and nothing is left behind. Scan polling continues after Send
// returns.
func (s *Service) Send(ctx context.Context, file File, senderID, receiverID string,
	receiverPub, senderPub *rsa.PublicKey) (*FileRecord, error) {
	t := &tracker{fileName: file.Name, state: StateInitiated, hook: s.hook}

	if size := int64(len(file.Data)); size > s.maxSize {
		return nil, fmt.Errorf("%w: %d bytes, maximum is %d", ErrFileTooLarge, size, s.maxSize)
	}

	t.advance(StateEncrypting)

	env, err := envelope.SealForTwoRecipients(file.Data, receiverPub, senderPub)
	if err != nil {
		return nil, fmt.Errorf("transfer: encrypt %s: %w", file.Name, err)
	}

	t.advance(StateUploading)

	path := s.objectPath(senderID, file.Name)

	if err = s.objects.Upload(ctx, path, env.Ciphertext); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUploadFailed, err.Error())
	}

	logger.Infof("uploaded encrypted file to %s", path)

	scanID, status := s.submitScan(ctx, file)

	fileType := file.Type
	if fileType == "" {
		fileType = defaultFileType
	}

	rec := &FileRecord{
		ID:                 uuid.New().String(),
		SenderID:           senderID,
		ReceiverID:         receiverID,
		FileName:           file.Name,
		FileSize:           int64(len(file.Data)),
		FileType:           fileType,
		StoragePath:        path,
		EncryptedKey:       env.WrappedKeyReceiver,
		EncryptedKeySender: env.WrappedKeySender,
		IV:                 env.IV,
		VTScanID:           scanID,
		VTStatus:           status,
		CreatedAt:          s.now().UTC(),
	}

	// the record is returned as built; once inserted the transfer has succeeded
	if _, err = s.records.Insert(ctx, TableFiles, rec.toRecord()); err != nil {
		s.compensate(path)

		return nil, fmt.Errorf("%w: %s", ErrPersistFailed, err.Error())
	}

	t.recordID = rec.ID
	t.advance(StateMetadataSaved)

	switch {
	case scanID != "":
		t.advance(StateScanSubmitted)
		s.startPolling(rec.ID, scanID, t)
	case s.scanner == nil:
		t.advance(StateScanSkipped)
	}

	return rec, nil
}

// Receive downloads and decrypts the file of rec for currentUserID. The sender uses
// the sender-wrapped key when the record has one; everyone else uses the receiver's.
func (s *Service) Receive(ctx context.Context, rec *FileRecord, priv *rsa.PrivateKey,
	currentUserID string) ([]byte, error) {
	ciphertext, err := s.objects.Download(ctx, rec.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDownloadFailed, err.Error())
	}

	isSender := currentUserID == rec.SenderID

	pt, err := envelope.OpenDual(rec.Envelope(ciphertext), priv, isSender)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}

	return pt, nil
}

// ListUserFiles returns every record sent or received by userID, newest first.
func (s *Service) ListUserFiles(ctx context.Context, userID string) ([]*FileRecord, error) {
	var out []*FileRecord

	seen := make(map[string]struct{})

	for _, column := range []string{colSenderID, colReceiverID} {
		rows, err := s.records.Select(ctx, TableFiles, backend.Filter{column: userID})
		if err != nil {
			return nil, fmt.Errorf("transfer: list files: %w", err)
		}

		for _, row := range rows {
			rec, err := decodeRecord(row)
			if err != nil {
				return nil, err
			}

			if _, dup := seen[rec.ID]; dup {
				continue
			}

			seen[rec.ID] = struct{}{}
			out = append(out, rec)
		}
	}

	slices.SortStableFunc(out, func(a, b *FileRecord) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	return out, nil
}

// Get returns the record with the given id.
func (s *Service) Get(ctx context.Context, id string) (*FileRecord, error) {
	rows, err := s.records.Select(ctx, TableFiles, backend.Filter{colID: id})
	if err != nil {
		return nil, fmt.Errorf("transfer: get file %s: %w", id, err)
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("transfer: file %s: %w", id, backend.ErrNotFound)
	}

	return decodeRecord(rows[0])
}

// Close stops all polling and waits for the pollers to exit.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Service) submitScan(ctx context.Context, file File) (string, scan.Status) {
	if s.scanner == nil {
		logger.Warnf("no malware scanner configured, skipping scan of %s", file.Name)

		return "", scan.StatusSkipped
	}

	scanID, err := s.scanner.Submit(ctx, file.Name, file.Data)
	if err != nil || scanID == "" {
		logger.Warnf("malware scan submission failed for %s, continuing without scan: %v", file.Name, err)

		return "", scan.StatusSkipped
	}

	logger.Infof("malware scan %s submitted for %s", scanID, file.Name)

	return scanID, scan.StatusScanning
}

// compensate removes an uploaded object whose record could not be saved.
func (s *Service) compensate(path string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := s.objects.Remove(ctx, path); err != nil {
		logger.Errorf("failed to remove orphaned object %s: %s", path, err)
	}
}

func (s *Service) objectPath(senderID, name string) string {
	name = strings.NewReplacer("/", "_", "\\", "_").Replace(name)

	return fmt.Sprintf("%s/%d-%s-%s%s", senderID, s.now().UnixMilli(), uuid.New().String()[:8], name, objectSuffix)
}
