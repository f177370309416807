/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package virustotal

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/cors"

	"github.com/flowsec/flowsec-go/pkg/internal/logutil"
)

const logComponent = "scan-proxy"

// Proxy routes.
const (
	ScanPath     = "/scan"
	AnalysisPath = "/analysis/{id}"
	FilePath     = "/file/{hash}"
)

// corsAllowedHeaders are the request headers browser clients send to the proxy.
var corsAllowedHeaders = []string{"authorization", "x-client-info", "apikey", "content-type"}

type proxyOpts struct {
	upstream   string
	client     *http.Client
	pathPrefix string
}

// ProxyOption configures the scan proxy.
type ProxyOption func(opts *proxyOpts)

// WithUpstream sets the VirusTotal API root the proxy forwards to.
func WithUpstream(u string) ProxyOption {
	return func(opts *proxyOpts) {
		opts.upstream = u
	}
}

// WithProxyHTTPClient sets the client used for upstream requests.
func WithProxyHTTPClient(client *http.Client) ProxyOption {
	return func(opts *proxyOpts) {
		opts.client = client
	}
}

// WithPathPrefix mounts the proxy routes under prefix.
func WithPathPrefix(prefix string) ProxyOption {
	return func(opts *proxyOpts) {
		opts.pathPrefix = strings.TrimRight(prefix, "/")
	}
}

// handler is a proxied route.
type handler struct {
	path   string
	method string
	handle http.HandlerFunc
}

type proxy struct {
	apiKey   string
	upstream string
	client   *http.Client
}

// NewProxyHandler returns an http.Handler that forwards scan requests to VirusTotal with
// apiKey, so that clients never hold the key. Routes are POST /scan, GET /analysis/{id}
// and GET /file/{hash}. Responses allow any origin.
func NewProxyHandler(apiKey string, opts ...ProxyOption) http.Handler {
	o := &proxyOpts{
		upstream: DefaultBaseURL,
		client:   &http.Client{Timeout: defaultTimeout},
	}

	for _, opt := range opts {
		opt(o)
	}

	p := &proxy{apiKey: apiKey, upstream: strings.TrimRight(o.upstream, "/"), client: o.client}

	router := mux.NewRouter()
	if o.pathPrefix != "" {
		router = router.PathPrefix(o.pathPrefix).Subrouter()
	}

	for _, h := range p.handlers() {
		router.HandleFunc(h.path, h.handle).Methods(h.method)
	}

	router.NotFoundHandler = http.HandlerFunc(invalidEndpoint)
	router.MethodNotAllowedHandler = http.HandlerFunc(invalidEndpoint)

	return cors.New(
		cors.Options{
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: corsAllowedHeaders,
		},
	).Handler(router)
}

func (p *proxy) handlers() []handler {
	return []handler{
		{path: ScanPath, method: http.MethodPost, handle: p.scan},
		{path: AnalysisPath, method: http.MethodGet, handle: p.analysis},
		{path: FilePath, method: http.MethodGet, handle: p.file},
	}
}

func (p *proxy) scan(rw http.ResponseWriter, req *http.Request) {
	p.forward(rw, req, http.MethodPost, "/files", req.Body, req.Header.Get("Content-Type"))
}

func (p *proxy) analysis(rw http.ResponseWriter, req *http.Request) {
	p.forward(rw, req, http.MethodGet, "/analyses/"+mux.Vars(req)["id"], nil, "")
}

func (p *proxy) file(rw http.ResponseWriter, req *http.Request) {
	p.forward(rw, req, http.MethodGet, "/files/"+mux.Vars(req)["hash"], nil, "")
}

// forward relays the request upstream and copies the upstream status and JSON body back.
func (p *proxy) forward(rw http.ResponseWriter, req *http.Request, method, path string, body io.Reader,
	contentType string) {
	up, err := http.NewRequestWithContext(req.Context(), method, p.upstream+path, body)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, errors.Wrap(err, "create upstream request"))

		return
	}

	up.Header.Set(apiKeyHeader, p.apiKey)

	if contentType != "" {
		up.Header.Set("Content-Type", contentType)
	}

	resp, err := p.client.Do(up)
	if err != nil {
		logutil.LogError(logger, logComponent, "forward", err.Error(),
			logutil.CreateKeyValueString("method", method), logutil.CreateKeyValueString("path", path))
		writeError(rw, http.StatusInternalServerError, errors.Wrap(err, "upstream request"))

		return
	}

	defer func() {
		if e := resp.Body.Close(); e != nil {
			logger.Errorf("scan proxy: failed to close upstream body: %s", e)
		}
	}()

	logutil.LogDebug(logger, logComponent, "forward", resp.Status,
		logutil.CreateKeyValueString("method", method), logutil.CreateKeyValueString("path", path))

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(resp.StatusCode)

	if _, err = io.Copy(rw, resp.Body); err != nil {
		logutil.LogWarn(logger, logComponent, "relay", err.Error(),
			logutil.CreateKeyValueString("method", method), logutil.CreateKeyValueString("path", path))
	}
}

func invalidEndpoint(rw http.ResponseWriter, _ *http.Request) {
	writeJSON(rw, http.StatusNotFound, map[string]string{"error": "Invalid endpoint"})
}

func writeError(rw http.ResponseWriter, status int, err error) {
	writeJSON(rw, status, map[string]string{"error": err.Error()})
}

func writeJSON(rw http.ResponseWriter, status int, v interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)

	if err := json.NewEncoder(rw).Encode(v); err != nil {
		logger.Errorf("scan proxy: failed to write response: %s", err)
	}
}
