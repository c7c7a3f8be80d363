// Package httpjson holds the JSON-over-HTTP plumbing shared by every upstream
// integration (LLM providers, translation).
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	DefaultTimeout        = 30 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	maxErrorBody          = 4096
	maxResponseBody       = 1 << 20
)

// StatusError captures non-2xx upstream responses with status-aware context.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// NewClient returns an HTTP client with connect and overall timeouts set.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: newTransport(),
	}
}

// NewStreamingClient returns an HTTP client without an overall timeout, for
// provider calls whose deadline comes from the request context. Only dialing
// and the TLS handshake are bounded, so a long but healthy response body is
// read to the end.
func NewStreamingClient() *http.Client {
	return &http.Client{Transport: newTransport()}
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   DefaultConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// NewPostRequest builds a JSON POST request for payload.
func NewPostRequest(ctx context.Context, url string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// Do executes req and returns the response body of a 2xx response.
// Non-2xx responses are returned as *StatusError.
func Do(client *http.Client, req *http.Request) ([]byte, error) {
	res, err := Open(client, req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	buf, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

// Open executes req and returns the live response of a 2xx response; the
// caller owns the body. Used for streaming endpoints.
func Open(client *http.Client, req *http.Request) (*http.Response, error) {
	if client == nil {
		client = NewClient(DefaultTimeout)
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		defer func() { _ = res.Body.Close() }()
		buf, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return nil, &StatusError{
			StatusCode: res.StatusCode,
			URL:        redactURL(req),
			Body:       string(buf),
		}
	}
	return res, nil
}

// redactURL drops the query string, which may carry an API key.
func redactURL(req *http.Request) string {
	if req == nil || req.URL == nil {
		return ""
	}
	u := *req.URL
	u.RawQuery = ""
	return u.String()
}
