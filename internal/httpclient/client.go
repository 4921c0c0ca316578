// Package httpclient provides configured HTTP clients for source adapters.
package httpclient

import (
	"net/http"
	"time"
)

// DefaultTimeout is used when a caller does not need a custom timeout.
const DefaultTimeout = 30 * time.Second

// NewDefaultHTTPClient creates a plain HTTP client with a timeout and no auth.
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// bearerTransport injects an Authorization header on every request, used by
// adapters whose Integration credentials decode to a single opaque token
// (e.g. a GitHub personal access token or a Jira API token).
type bearerTransport struct {
	base   http.RoundTripper
	scheme string
	token  string
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	cloned.Header.Set("Authorization", t.scheme+" "+t.token)
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(cloned)
}

// NewTokenAuthClient returns an HTTP client that attaches "<scheme> <token>"
// to every outgoing request, for adapters backed by a static bearer/basic token
// decoded from an Integration's encrypted credentials blob.
func NewTokenAuthClient(scheme, token string, timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &bearerTransport{scheme: scheme, token: token},
	}
}
