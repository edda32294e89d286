package shared

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultHTTPTimeout bounds every outbound request made by the engine
	// when the caller did not set a deadline of its own.
	DefaultHTTPTimeout = 10 * time.Second

	maxRedirects = 3
)

// NewHTTPClient returns a client with the redirect cap used for all vendor
// and enclave requests.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("too many redirects (max %d)", maxRedirects)
			}
			return nil
		},
	}
}

// ReadLimitedBody reads at most limit bytes from the response body and fails
// if the body is larger.
func ReadLimitedBody(resp *http.Response, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("response body exceeds %d byte limit", limit)
	}
	return data, nil
}
