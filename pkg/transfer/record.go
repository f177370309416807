/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transfer

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/flowsec/flowsec-go/pkg/crypto/envelope"
	"github.com/flowsec/flowsec-go/spi/backend"
	"github.com/flowsec/flowsec-go/spi/scan"
)

// TableFiles is the record set transfers are stored in.
const TableFiles = "files"

// Column names of the files record set.
const (
	colID                 = "id"
	colSenderID           = "sender_id"
	colReceiverID         = "receiver_id"
	colFileName           = "file_name"
	colFileSize           = "file_size"
	colFileType           = "file_type"
	colStoragePath        = "storage_path"
	colEncryptedKey       = "encrypted_key"
	colEncryptedKeySender = "encrypted_key_sender"
	colIV                 = "iv"
	colVTScanID           = "vt_scan_id"
	colVTStatus           = "vt_status"
	colVTPositives        = "vt_positives"
	colVTTotal            = "vt_total"
	colVTPermalink        = "vt_permalink"
	colVTScanDate         = "vt_scan_date"
	colVTThreatLabel      = "vt_threat_label"
	colVTRawResponse      = "vt_raw_response"
	colCreatedAt          = "created_at"
	colUpdatedAt          = "updated_at"
)

// ScanTicket tracks the malware scan attached to a transfer.
type ScanTicket struct {
	ScanID      string
	Status      scan.Status
	Positives   int
	Total       int
	ThreatLabel string
	Permalink   string
	ScanDate    time.Time
}

// FileRecord is the persisted metadata of one transfer.
type FileRecord struct {
	ID                 string      `json:"id"`
	SenderID           string      `json:"sender_id"`
	ReceiverID         string      `json:"receiver_id"`
	FileName           string      `json:"file_name"`
	FileSize           int64       `json:"file_size"`
	FileType           string      `json:"file_type"`
	StoragePath        string      `json:"storage_path"`
	EncryptedKey       string      `json:"encrypted_key"`
	EncryptedKeySender string      `json:"encrypted_key_sender,omitempty"`
	IV                 string      `json:"iv"`
	VTScanID           string      `json:"vt_scan_id,omitempty"`
	VTStatus           scan.Status `json:"vt_status"`
	VTPositives        int         `json:"vt_positives,omitempty"`
	VTTotal            int         `json:"vt_total,omitempty"`
	VTPermalink        string      `json:"vt_permalink,omitempty"`
	VTScanDate         time.Time   `json:"vt_scan_date,omitempty"`
	VTThreatLabel      string      `json:"vt_threat_label,omitempty"`
	VTRawResponse      *scan.Stats `json:"vt_raw_response,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at,omitempty"`
}

// Ticket returns the scan ticket of the record.
func (r *FileRecord) Ticket() ScanTicket {
	return ScanTicket{
		ScanID:      r.VTScanID,
		Status:      r.VTStatus,
		Positives:   r.VTPositives,
		Total:       r.VTTotal,
		ThreatLabel: r.VTThreatLabel,
		Permalink:   r.VTPermalink,
		ScanDate:    r.VTScanDate,
	}
}

// Envelope returns the dual envelope of the record around the downloaded ciphertext.
func (r *FileRecord) Envelope(ciphertext []byte) *envelope.DualEnvelope {
	return &envelope.DualEnvelope{
		WrappedKeyReceiver: r.EncryptedKey,
		WrappedKeySender:   r.EncryptedKeySender,
		IV:                 r.IV,
		Ciphertext:         ciphertext,
	}
}

// decodeRecord converts a stored row into a FileRecord.
func decodeRecord(rec backend.Record) (*FileRecord, error) {
	var out FileRecord

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "json",
		Result:     &out,
		DecodeHook: mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("transfer: create record decoder: %w", err)
	}

	if err = decoder.Decode(map[string]interface{}(rec)); err != nil {
		return nil, fmt.Errorf("transfer: decode file record: %w", err)
	}

	return &out, nil
}

// toRecord converts r into a storable row. Optional fields are written as null.
func (r *FileRecord) toRecord() backend.Record {
	rec := backend.Record{
		colSenderID:           r.SenderID,
		colReceiverID:         r.ReceiverID,
		colFileName:           r.FileName,
		colFileSize:           r.FileSize,
		colFileType:           r.FileType,
		colStoragePath:        r.StoragePath,
		colEncryptedKey:       r.EncryptedKey,
		colEncryptedKeySender: nullable(r.EncryptedKeySender),
		colIV:                 r.IV,
		colVTScanID:           nullable(r.VTScanID),
		colVTStatus:           string(r.VTStatus),
		colCreatedAt:          formatTime(r.CreatedAt),
	}

	if r.ID != "" {
		rec[colID] = r.ID
	}

	return rec
}

// completionPatch is the update persisted when a scan completes.
func completionPatch(a *scan.Analysis, now time.Time) backend.Record {
	info := ParseThreatInfo(a.Stats)

	scanDate := a.ScanDate
	if scanDate.IsZero() {
		scanDate = now
	}

	return backend.Record{
		colVTStatus:      string(scan.StatusCompleted),
		colVTPositives:   info.Positives,
		colVTTotal:       info.Total,
		colVTPermalink:   a.Permalink,
		colVTScanDate:    formatTime(scanDate),
		colVTThreatLabel: info.Label,
		colVTRawResponse: a.Stats,
		colUpdatedAt:     formatTime(now),
	}
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}

	return s
}

func formatTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}

	return t.UTC().Format(time.RFC3339Nano)
}
