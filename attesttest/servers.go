package attesttest

import (
	"crypto/x509"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// HTTPClient returns a client that keeps no idle connections, so tests can
// assert that no goroutines outlive a call.
func HTTPClient() *http.Client {
	return &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
}

// KDS is a fake key-distribution service serving one certificate.
type KDS struct {
	*httptest.Server

	hits atomic.Int32

	mu        sync.Mutex
	lastPath  string
	lastQuery string
	status    int
}

// NewKDS serves cert as DER for every /vcek/v1/ request.
func NewKDS(tb testing.TB, cert *x509.Certificate) *KDS {
	tb.Helper()
	k := &KDS{status: http.StatusOK}
	k.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		k.hits.Add(1)
		k.mu.Lock()
		k.lastPath, k.lastQuery = r.URL.Path, r.URL.RawQuery
		status := k.status
		k.mu.Unlock()

		if !strings.HasPrefix(r.URL.Path, "/vcek/v1/") {
			http.NotFound(w, r)
			return
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/pkix-cert")
		_, _ = w.Write(cert.Raw)
	}))
	tb.Cleanup(k.Close)
	return k
}

// Hits reports how many requests reached the service.
func (k *KDS) Hits() int { return int(k.hits.Load()) }

// LastRequest returns the path and raw query of the most recent request.
func (k *KDS) LastRequest() (path, query string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.lastPath, k.lastQuery
}

// SetStatus makes later requests fail with status.
func (k *KDS) SetStatus(status int) {
	k.mu.Lock()
	k.status = status
	k.mu.Unlock()
}

// EndpointResponse is the body an enclave attestation endpoint returns.
type EndpointResponse struct {
	AttestationType string `json:"attestation_type"`
	Quote           string `json:"quote"`
	PublicKey       string `json:"public_key,omitempty"`
	PublicKeyHash   string `json:"public_key_hash,omitempty"`
	ReportData      string `json:"report_data,omitempty"`
}

// Endpoint is a fake enclave attestation endpoint.
type Endpoint struct {
	*httptest.Server

	hits atomic.Int32

	mu      sync.Mutex
	body    []byte
	headers http.Header
	method  string
	request []byte
}

// NewEndpoint serves resp as JSON.
func NewEndpoint(tb testing.TB, resp EndpointResponse) *Endpoint {
	tb.Helper()
	body, err := json.Marshal(resp)
	if err != nil {
		tb.Fatalf("marshal endpoint response: %v", err)
	}
	return NewRawEndpoint(tb, body)
}

// NewRawEndpoint serves body verbatim.
func NewRawEndpoint(tb testing.TB, body []byte) *Endpoint {
	tb.Helper()
	e := &Endpoint{body: body}
	e.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.hits.Add(1)
		request, _ := io.ReadAll(io.LimitReader(r.Body, 64*1024))
		e.mu.Lock()
		e.headers = r.Header.Clone()
		e.method, e.request = r.Method, request
		body := e.body
		e.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	tb.Cleanup(e.Close)
	return e
}

// SetBody replaces the served body.
func (e *Endpoint) SetBody(body []byte) {
	e.mu.Lock()
	e.body = body
	e.mu.Unlock()
}

// Hits reports how many requests reached the endpoint.
func (e *Endpoint) Hits() int { return int(e.hits.Load()) }

// LastHeaders returns the headers of the most recent request.
func (e *Endpoint) LastHeaders() http.Header {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.headers
}

// LastRequest returns the method and body of the most recent request.
func (e *Endpoint) LastRequest() (method string, body []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.method, e.request
}
