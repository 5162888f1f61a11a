package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ContentType is the media type of request and response frames.
const ContentType = "application/x-dittorpc"

// HTTPTransport posts frames to the RPC endpoint of a server.
type HTTPTransport struct {
	url        string
	httpClient *http.Client
	userAgent  string
}

// NewHTTPTransport returns a transport posting to url, typically
// "http://host:port/services/rpc".
func NewHTTPTransport(url string) *HTTPTransport {
	return &HTTPTransport{
		url: url,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		userAgent: "dittorpc-go",
	}
}

// WithHTTPClient returns a copy of t using hc.
func (t *HTTPTransport) WithHTTPClient(hc *http.Client) *HTTPTransport {
	return &HTTPTransport{url: t.url, httpClient: hc, userAgent: t.userAgent}
}

// RoundTrip implements Transport.
func (t *HTTPTransport) RoundTrip(ctx context.Context, frame []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("User-Agent", t.userAgent)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}
	return body, nil
}

// StatusError is a non-200 answer of the RPC endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("rpc endpoint returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("rpc endpoint returned HTTP %d: %s", e.StatusCode, e.Body)
}
