/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package virustotal

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowsec/flowsec-go/spi/scan"
)

const testAPIKey = "test-api-key"

// fakeAPI mimics the VirusTotal v3 endpoints used by the client.
type fakeAPI struct {
	mu       sync.Mutex
	uploads  map[string][]byte
	status   string
	failWith int
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()

	f := &fakeAPI{uploads: map[string][]byte{}, status: "queued"}

	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)

	return f, srv
}

func (f *fakeAPI) serve(rw http.ResponseWriter, req *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rw.Header().Set("Content-Type", "application/json")

	if req.Header.Get(apiKeyHeader) != testAPIKey {
		rw.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(rw, `{"error":{"code":"WrongCredentialsError","message":"Wrong API key"}}`)

		return
	}

	if f.failWith != 0 {
		rw.WriteHeader(f.failWith)
		_, _ = io.WriteString(rw, `{"error":{"code":"QuotaExceededError","message":"Quota exceeded"}}`)

		return
	}

	switch {
	case req.Method == http.MethodPost && req.URL.Path == "/files":
		file, header, err := req.FormFile("file")
		if err != nil {
			rw.WriteHeader(http.StatusBadRequest)

			return
		}

		data, _ := io.ReadAll(file)
		f.uploads[header.Filename] = data

		_, _ = io.WriteString(rw, `{"data":{"type":"analysis","id":"analysis-1"}}`)
	case req.Method == http.MethodGet && req.URL.Path == "/analyses/analysis-1":
		_ = json.NewEncoder(rw).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"id": "analysis-1",
				"attributes": map[string]interface{}{
					"status": f.status,
					"date":   1714564800,
					"stats": map[string]int{
						"malicious": 2, "suspicious": 1, "harmless": 10, "undetected": 50,
					},
				},
			},
		})
	case req.Method == http.MethodGet && req.URL.Path == "/files/abc123":
		_, _ = io.WriteString(rw, `{"data":{"attributes":{"sha256":"abc123","last_analysis_date":1714564800,`+
			`"last_analysis_stats":{"malicious":0,"suspicious":0,"harmless":60,"undetected":10}}}}`)
	default:
		rw.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(rw, `{"error":{"code":"NotFoundError","message":"not found"}}`)
	}
}

func (f *fakeAPI) upload(name string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.uploads[name]
}

func (f *fakeAPI) fail(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failWith = status
}

func (f *fakeAPI) setStatus(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.status = s
}

func exerciseClient(t *testing.T, api *fakeAPI, c *Client) {
	t.Helper()

	ctx := context.Background()

	id, err := c.Submit(ctx, "report.pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)
	require.Equal(t, "analysis-1", id)
	require.Equal(t, []byte("%PDF-1.4"), api.upload("report.pdf"))

	a, err := c.Poll(ctx, id)
	require.NoError(t, err)
	require.Equal(t, scan.StatusScanning, a.Status)
	require.Nil(t, a.Stats)
	require.Equal(t, "https://www.virustotal.com/gui/file-analysis/analysis-1", a.Permalink)

	api.setStatus("completed")

	a, err = c.Poll(ctx, id)
	require.NoError(t, err)
	require.Equal(t, scan.StatusCompleted, a.Status)
	require.Equal(t, &scan.Stats{Malicious: 2, Suspicious: 1, Harmless: 10, Undetected: 50}, a.Stats)
	require.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), a.ScanDate)

	r, err := c.FileReport(ctx, "abc123")
	require.NoError(t, err)
	require.Equal(t, "abc123", r.SHA256)
	require.Equal(t, 60, r.Stats.Harmless)
	require.Equal(t, "https://www.virustotal.com/gui/file/abc123", r.Permalink)

	r, err = c.FileReport(ctx, "unknown")
	require.NoError(t, err)
	require.Nil(t, r)

	_, err = c.Poll(ctx, "missing")
	require.ErrorIs(t, err, ErrAPI)
}

func TestClient(t *testing.T) {
	api, srv := newFakeAPI(t)

	c, err := New(WithAPIKey(testAPIKey), WithBaseURL(srv.URL+"/"), WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	exerciseClient(t, api, c)
}

func TestClientThroughProxy(t *testing.T) {
	api, upstream := newFakeAPI(t)

	proxy := httptest.NewServer(NewProxyHandler(testAPIKey, WithUpstream(upstream.URL),
		WithProxyHTTPClient(upstream.Client())))
	t.Cleanup(proxy.Close)

	c, err := New(WithProxy(proxy.URL))
	require.NoError(t, err)

	exerciseClient(t, api, c)
}

func TestClientErrors(t *testing.T) {
	_, err := New()
	require.ErrorIs(t, err, ErrMissingAPIKey)

	api, srv := newFakeAPI(t)

	c, err := New(WithAPIKey("wrong"), WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), "a.txt", []byte("a"))
	require.ErrorIs(t, err, ErrAPI)
	require.Contains(t, err.Error(), "Wrong API key")

	c, err = New(WithAPIKey(testAPIKey), WithBaseURL(srv.URL))
	require.NoError(t, err)

	api.fail(http.StatusTooManyRequests)

	_, err = c.FileReport(context.Background(), "abc123")
	require.ErrorIs(t, err, ErrAPI)
	require.Contains(t, err.Error(), "429")

	c, err = New(WithAPIKey(testAPIKey), WithBaseURL("http://127.0.0.1:0"))
	require.NoError(t, err)

	_, err = c.Poll(context.Background(), "x")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrAPI)
}

func TestProxyRoutes(t *testing.T) {
	_, upstream := newFakeAPI(t)

	h := NewProxyHandler(testAPIKey, WithUpstream(upstream.URL), WithPathPrefix("/virustotal-scan/"))

	t.Run("invalid endpoint", func(t *testing.T) {
		for _, tc := range []struct{ method, path string }{
			{http.MethodGet, "/virustotal-scan/unknown"},
			{http.MethodGet, "/virustotal-scan/scan"},
			{http.MethodPost, "/virustotal-scan/analysis/1"},
		} {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))

			require.Equal(t, http.StatusNotFound, rr.Code, tc.path)
			require.JSONEq(t, `{"error":"Invalid endpoint"}`, rr.Body.String())
		}
	})

	t.Run("relays upstream status", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/virustotal-scan/file/unknown", nil))

		require.Equal(t, http.StatusNotFound, rr.Code)
		require.Contains(t, rr.Body.String(), "NotFoundError")
	})

	t.Run("cors", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/virustotal-scan/analysis/analysis-1", nil)
		req.Header.Set("Origin", "https://app.example.com")

		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		require.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))

		preflight := httptest.NewRequest(http.MethodOptions, "/virustotal-scan/scan", nil)
		preflight.Header.Set("Origin", "https://app.example.com")
		preflight.Header.Set("Access-Control-Request-Method", http.MethodPost)
		preflight.Header.Set("Access-Control-Request-Headers", "authorization, content-type")

		rr = httptest.NewRecorder()
		h.ServeHTTP(rr, preflight)

		require.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
		require.True(t, strings.Contains(strings.ToLower(rr.Header().Get("Access-Control-Allow-Headers")),
			"authorization"))
	})

	t.Run("upstream unreachable", func(t *testing.T) {
		broken := NewProxyHandler(testAPIKey, WithUpstream("http://127.0.0.1:0"))

		rr := httptest.NewRecorder()
		broken.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/analysis/x", nil))

		require.Equal(t, http.StatusInternalServerError, rr.Code)
		require.Contains(t, rr.Body.String(), "error")
	})
}
