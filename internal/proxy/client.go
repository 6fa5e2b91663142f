// Package proxy is a client for a same-origin calendar proxy:
// GET <base><path>?url=<percent-encoded calendar URL>.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// DefaultPath is the route served by calclock's own proxy.
const DefaultPath = "/calendar-proxy"

const maxBodyBytes = 10 << 20

// ErrBodyTooLarge is returned instead of a body cut at maxBodyBytes.
var ErrBodyTooLarge = errors.New("proxy: calendar body exceeds 10 MiB")

// Client fetches calendar payloads through a proxy endpoint.
type Client struct {
	base string
	path string
	http *http.Client
}

// NewClient returns a client for the proxy at base (e.g.
// "http://127.0.0.1:8080"). An empty path means DefaultPath. A nil hc
// means http.DefaultClient; the client adds no timeout of its own.
func NewClient(base, path string, hc *http.Client) *Client {
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		path: path,
		http: hc,
	}
}

// RequestURL builds the proxy URL for calendarURL.
func (c *Client) RequestURL(calendarURL string) string {
	return c.base + c.path + "?url=" + url.QueryEscape(calendarURL)
}

// Fetch returns the proxied body and its content type. Non-2xx responses
// are errors carrying the status and the start of the body.
func (c *Client) Fetch(ctx context.Context, calendarURL string) ([]byte, string, error) {
	if strings.TrimSpace(calendarURL) == "" {
		return nil, "", errors.New("proxy: calendar URL is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.RequestURL(calendarURL), nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, "", err
	}
	if len(body) > maxBodyBytes {
		return nil, "", ErrBodyTooLarge
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return nil, "", fmt.Errorf("proxy: %s: %s", resp.Status, msg)
	}
	return body, resp.Header.Get("Content-Type"), nil
}
