/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package virustotal implements the malware-scan collaborator against the VirusTotal v3 API,
// either directly or through the scan proxy served by NewProxyHandler.
package virustotal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/flowsec/flowsec-go/pkg/common/log"
	"github.com/flowsec/flowsec-go/spi/scan"
)

const (
	// DefaultBaseURL is the VirusTotal v3 API root.
	DefaultBaseURL = "https://www.virustotal.com/api/v3"

	apiKeyHeader        = "x-apikey"
	analysisPermalink   = "https://www.virustotal.com/gui/file-analysis/"
	fileReportPermalink = "https://www.virustotal.com/gui/file/"
	defaultTimeout      = 30 * time.Second
	maxErrorBody        = 4096
)

var logger = log.New("flowsec/scan/virustotal")

var (
	// ErrAPI is returned when the API answers with a non success status.
	ErrAPI = errors.New("virustotal: api error")
	// ErrMissingAPIKey is returned when a direct client is created without an API key.
	ErrMissingAPIKey = errors.New("virustotal: api key is required without a proxy")

	errNotFound = fmt.Errorf("%w: not found", ErrAPI)
)

type clientOpts struct {
	client  *http.Client
	baseURL string
	apiKey  string
	proxy   bool
}

// Option configures a Client.
type Option func(opts *clientOpts)

// WithAPIKey sets the key sent in the x-apikey header.
func WithAPIKey(key string) Option {
	return func(opts *clientOpts) {
		opts.apiKey = key
	}
}

// WithBaseURL overrides the API root.
func WithBaseURL(u string) Option {
	return func(opts *clientOpts) {
		opts.baseURL = u
	}
}

// WithProxy sends requests through the scan proxy at u. The proxy holds the API key.
func WithProxy(u string) Option {
	return func(opts *clientOpts) {
		opts.baseURL = u
		opts.proxy = true
	}
}

// WithHTTPClient sets the http.Client used for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(opts *clientOpts) {
		opts.client = client
	}
}

// Client is a scan.Scanner backed by VirusTotal.
type Client struct {
	client  *http.Client
	baseURL string
	apiKey  string
	proxy   bool
}

var _ scan.Scanner = (*Client)(nil)

// New returns a Client.
func New(opts ...Option) (*Client, error) {
	o := &clientOpts{
		client:  &http.Client{Timeout: defaultTimeout},
		baseURL: DefaultBaseURL,
	}

	for _, opt := range opts {
		opt(o)
	}

	if !o.proxy && o.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	return &Client{
		client:  o.client,
		baseURL: strings.TrimRight(o.baseURL, "/"),
		apiKey:  o.apiKey,
		proxy:   o.proxy,
	}, nil
}

// FileReport is the stored report of a file known to VirusTotal.
type FileReport struct {
	SHA256    string
	Stats     *scan.Stats
	ScanDate  time.Time
	Permalink string
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type uploadResponse struct {
	Data struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	} `json:"data"`
}

type analysisResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			Status string      `json:"status"`
			Stats  *scan.Stats `json:"stats"`
			Date   int64       `json:"date"`
		} `json:"attributes"`
	} `json:"data"`
}

type fileResponse struct {
	Data struct {
		Attributes struct {
			SHA256            string      `json:"sha256"`
			LastAnalysisStats *scan.Stats `json:"last_analysis_stats"`
			LastAnalysisDate  int64       `json:"last_analysis_date"`
		} `json:"attributes"`
	} `json:"data"`
}

// Submit uploads data for scanning and returns the analysis id.
func (c *Client) Submit(ctx context.Context, name string, data []byte) (string, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", errors.Wrap(err, "virustotal: create form file")
	}

	if _, err = part.Write(data); err != nil {
		return "", errors.Wrap(err, "virustotal: write form file")
	}

	if err = mw.Close(); err != nil {
		return "", errors.Wrap(err, "virustotal: close form")
	}

	path := "/files"
	if c.proxy {
		path = "/scan"
	}

	var resp uploadResponse

	if err = c.do(ctx, http.MethodPost, path, body, mw.FormDataContentType(), &resp); err != nil {
		return "", err
	}

	if resp.Data.ID == "" {
		return "", errors.Wrap(ErrAPI, "upload response has no analysis id")
	}

	logger.Debugf("submitted %s for scanning: %s", name, resp.Data.ID)

	return resp.Data.ID, nil
}

// Poll returns the current analysis of scanID.
func (c *Client) Poll(ctx context.Context, scanID string) (*scan.Analysis, error) {
	path := "/analyses/"
	if c.proxy {
		path = "/analysis/"
	}

	var resp analysisResponse

	if err := c.do(ctx, http.MethodGet, path+url.PathEscape(scanID), nil, "", &resp); err != nil {
		return nil, err
	}

	attrs := resp.Data.Attributes

	a := &scan.Analysis{
		Status:    analysisStatus(attrs.Status),
		Permalink: analysisPermalink + scanID,
	}

	if a.Status == scan.StatusCompleted {
		a.Stats = attrs.Stats
		if a.Stats == nil {
			a.Stats = &scan.Stats{}
		}
	}

	if attrs.Date > 0 {
		a.ScanDate = time.Unix(attrs.Date, 0).UTC()
	}

	return a, nil
}

// FileReport looks up a file by its SHA-256. It returns nil when the file is unknown.
func (c *Client) FileReport(ctx context.Context, sha256 string) (*FileReport, error) {
	path := "/files/"
	if c.proxy {
		path = "/file/"
	}

	var resp fileResponse

	err := c.do(ctx, http.MethodGet, path+url.PathEscape(sha256), nil, "", &resp)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	attrs := resp.Data.Attributes

	r := &FileReport{
		SHA256:    attrs.SHA256,
		Stats:     attrs.LastAnalysisStats,
		Permalink: fileReportPermalink + sha256,
	}

	if attrs.LastAnalysisDate > 0 {
		r.ScanDate = time.Unix(attrs.LastAnalysisDate, 0).UTC()
	}

	return r, nil
}

// do sends the request and decodes a success body into out. Non success statuses are
// returned as ErrAPI.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string,
	out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "virustotal: create request")
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		logger.Errorf("request %s %s failed: %s", method, path, err)

		return errors.Wrapf(err, "virustotal: %s %s", method, path)
	}

	defer func() {
		if e := resp.Body.Close(); e != nil {
			logger.Errorf("failed to close response body: %s", e)
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)) //nolint:errcheck

		return statusError(resp.StatusCode, raw)
	}

	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "virustotal: decode response")
	}

	return nil
}

// statusError returns ErrAPI carrying the API error message of body, if any.
func statusError(status int, body []byte) error {
	msg := http.StatusText(status)

	var apiErr apiError
	if len(body) > 0 && json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
		msg = apiErr.Error.Message
	}

	if status == http.StatusNotFound {
		return errors.Wrapf(errNotFound, "status %d: %s", status, msg)
	}

	return errors.Wrapf(ErrAPI, "status %d: %s", status, msg)
}

func analysisStatus(s string) scan.Status {
	switch s {
	case "completed":
		return scan.StatusCompleted
	default:
		return scan.StatusScanning
	}
}
