// internal/common/http/client.go
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MaxBodySize caps what Fetch reads from a response.
const MaxBodySize = 8 << 20

var ErrUnexpectedStatus = errors.New("unexpected HTTP status")

type Client struct {
	httpClient *http.Client
}

// NewClient builds a client with an overall request timeout. transport is
// optional.
func NewClient(timeout time.Duration, transport ...http.RoundTripper) *Client {
	c := &http.Client{Timeout: timeout}
	if len(transport) > 0 {
		c.Transport = transport[0]
	}
	return &Client{httpClient: c}
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}

func (c *Client) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	return c.httpClient.Do(req)
}

// Fetch GETs url and returns the body with its content type. Any status
// outside 2xx is an ErrUnexpectedStatus.
func (c *Client) Fetch(ctx context.Context, url string, headers map[string]string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize+1))
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("%w: GET %s returned %d", ErrUnexpectedStatus, url, resp.StatusCode)
	}
	if len(body) > MaxBodySize {
		return nil, "", fmt.Errorf("GET %s: body exceeds %d bytes", url, MaxBodySize)
	}
	return body, resp.Header.Get("Content-Type"), nil
}
