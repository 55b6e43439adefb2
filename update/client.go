package update

import (
	"context"
	"io"
	"net/http"
	"time"
)

// HTTPDoer is the abstract capability the catalog client and verifier need
// from an HTTP transport: issue a request, get back a response. Production
// code wires in httpClient (backed by *http.Client); tests inject a
// scripted double, so nothing here ever needs to subclass *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// httpClient is the production HTTPDoer, a thin wrapper around
// *http.Client with sane default timeouts for metadata calls. Streaming
// downloads use a separate, longer-lived client (see download.go).
type httpClient struct {
	inner *http.Client
}

// newHTTPClient builds the default metadata client: a bounded total
// timeout appropriate for catalog/signature requests (10-30s per the
// external interfaces design).
func newHTTPClient(timeout time.Duration) *httpClient {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &httpClient{inner: &http.Client{Timeout: timeout}}
}

func (c *httpClient) Do(req *http.Request) (*http.Response, error) {
	return c.inner.Do(req)
}

// newStreamingHTTPClient builds the production HTTPDoer for artifact
// downloads: no overall request timeout, since http.Client.Timeout bounds
// the full body read and a large artifact on a slow connection would be
// killed mid-stream. Cancellation instead comes from the caller's context
// (checked per-chunk by cancelReader) as the external-interfaces design
// requires for streaming downloads.
func newStreamingHTTPClient() *httpClient {
	return &httpClient{inner: &http.Client{}}
}

// getWithHeaders issues a GET with the given headers and a bounded
// timeout, returning the raw response for the caller to inspect and
// close. ctx carries cancellation; ensure callers always close the body.
func getWithHeaders(ctx context.Context, doer HTTPDoer, url string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, newErr(ErrInvalidPath, "building request", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := doer.Do(req)
	if err != nil {
		return nil, newErr(ErrNetwork, "request failed", err)
	}
	return resp, nil
}

// drain discards and closes a response body, ignoring errors — used on
// paths where we deliberately don't read the body (e.g. 304 responses).
func drain(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}
