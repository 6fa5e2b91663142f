package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	appLog "calclock/internal/log"
)

const (
	// maxBodyBytes bounds a single upstream calendar download.
	maxBodyBytes = 10 << 20

	userAgent = "CalendarClock/1.0"
)

var (
	// ErrBodyTooLarge is returned when a feed exceeds maxBodyBytes. The
	// partial body is discarded and never cached.
	ErrBodyTooLarge = errors.New("calendar body exceeds 10 MiB")

	// ErrStale tags a Fetch whose body came from the cache because the
	// upstream failed. The body is still usable.
	ErrStale = errors.New("calendar served from stale cache")
)

// Fetch outcomes reported to the observer.
const (
	OutcomeFresh       = "fresh"
	OutcomeNotModified = "not_modified"
	OutcomeStale       = "stale_cache"
	OutcomeError       = "error"
)

// FetchResult contains the outcome of fetching a single calendar URL.
type FetchResult struct {
	URL         string
	Body        []byte // ICS payload (either freshly fetched or from cache)
	ContentType string
	FromCache   bool  // true if we reused the cached body
	Stale       bool  // true if the upstream failed and the cache stood in
	Err         error // upstream failure behind a stale result
}

// cacheEntry is meta.json in a feed's cache directory.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	ContentType  string    `json:"content_type,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher downloads calendar feeds with HTTP caching (ETag /
// Last-Modified) and a disk-backed copy of the last good body. It is the
// upstream side of the same-origin proxy.
type Fetcher struct {
	client   *http.Client
	cacheDir string
	observe  func(outcome string, elapsed time.Duration)
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient replaces the default client (15s timeout).
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithObserver registers fn to receive the outcome of every fetch.
func WithObserver(fn func(outcome string, elapsed time.Duration)) FetcherOption {
	return func(f *Fetcher) {
		f.observe = fn
	}
}

// NewFetcher returns a Fetcher caching under cacheDir, one subdirectory per
// feed URL (see cachePathForURL).
func NewFetcher(cacheDir string, opts ...FetcherOption) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	f := &Fetcher{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		cacheDir: cacheDir,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch adapts FetchOne to the loader's fetch function shape. A stale
// cache hit returns the cached body together with an error wrapping
// ErrStale.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	res, err := f.FetchOne(ctx, rawURL)
	if err != nil {
		return nil, "", err
	}
	if res.Stale {
		return res.Body, res.ContentType, fmt.Errorf("%w: %w", ErrStale, res.Err)
	}
	return res.Body, res.ContentType, nil
}

// FetchOne fetches a single calendar URL, honoring ETag and Last-Modified.
// On network errors or non-2xx responses the cached body, if any, is
// returned instead.
func (f *Fetcher) FetchOne(ctx context.Context, rawURL string) (res FetchResult, err error) {
	began := time.Now()
	defer func() {
		if f.observe == nil {
			return
		}
		outcome := OutcomeFresh
		switch {
		case err != nil:
			outcome = OutcomeError
		case res.Stale:
			outcome = OutcomeStale
		case res.FromCache:
			outcome = OutcomeNotModified
		}
		f.observe(outcome, time.Since(began))
	}()

	target, err := NormalizeURL(rawURL)
	if err != nil {
		return FetchResult{}, err
	}

	cachePath := f.cachePathForURL(target)
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return FetchResult{}, err
	}

	meta, _ := f.loadCacheMeta(cachePath)
	cachedBody, _ := f.loadCacheBody(cachePath)

	stale := func(cause error) (FetchResult, error) {
		if len(cachedBody) == 0 {
			return FetchResult{}, cause
		}
		appLog.Error("ics fetch failed, using cached body", cause, "url", redactURL(target))
		return FetchResult{
			URL:         target,
			Body:        cachedBody,
			ContentType: meta.ContentType,
			FromCache:   true,
			Stale:       true,
			Err:         cause,
		}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return FetchResult{}, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/calendar, application/json;q=0.9, */*;q=0.5")

	// Conditional headers from cache metadata, only when the body survived.
	if len(cachedBody) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Debug("ics fetch start", "url", redactURL(target))

	resp, err := f.client.Do(req)
	if err != nil {
		return stale(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FetchResult{}, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Debug("ics fetch not modified; using cache", "url", redactURL(target))
		return FetchResult{
			URL:         target,
			Body:        cachedBody,
			ContentType: meta.ContentType,
			FromCache:   true,
		}, nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, readErr := readBody(resp.Body)
		if readErr != nil {
			return stale(readErr)
		}

		newMeta := cacheEntry{
			URL:          target,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			ContentType:  resp.Header.Get("Content-Type"),
		}
		if err := f.saveCache(cachePath, newMeta, body); err != nil {
			appLog.Error("ics cache save failed", err, "url", redactURL(target))
		}

		appLog.Info("ics fetch success", "url", redactURL(target), "status", resp.StatusCode, "bytes", len(body))
		return FetchResult{
			URL:         target,
			Body:        body,
			ContentType: newMeta.ContentType,
		}, nil

	default:
		return stale(fmt.Errorf("upstream status %s", resp.Status))
	}
}

// readBody reads at most maxBodyBytes from r. One byte past the limit is
// enough to tell a cut feed from a complete one.
func readBody(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxBodyBytes {
		return nil, ErrBodyTooLarge
	}
	return body, nil
}

// NormalizeURL validates a calendar URL and rewrites webcal:// to https://.
func NormalizeURL(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", errors.New("source URL is empty")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid source URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "webcal", "webcals":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("source URL has no host")
	}
	return u.String(), nil
}

// cachePathForURL names a feed's directory after the first 8 bytes of the
// URL's SHA-256, so secrets in the URL never reach the filesystem.
func (f *Fetcher) cachePathForURL(u string) string {
	sum := sha256.Sum256([]byte(u))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func (f *Fetcher) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Fetcher) loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body.ics"))
}

func (f *Fetcher) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Body before meta: meta must never describe a body that is not there.
	if err := os.WriteFile(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// redactURL hides path and query of a calendar URL for logging; private
// ICS links carry their secret there.
//
//	https://calendar.google.com/calendar/ical/x/private-abcd/basic.ics
//	-> https://calendar.google.com/...(redacted)
func redactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "ics://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + "/...(redacted)"
}

// RedactURL is redactURL for callers outside the package.
func RedactURL(u string) string {
	return redactURL(u)
}
