// Package loader is the load boundary between a calendar source and the
// clock: it validates the source URL, fetches the payload, and turns raw
// ICS text or a JSON event array into RawEvents.
package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"calclock/internal/ics"
	"calclock/internal/model"
)

// ErrNoSource is returned when Load is called without a calendar URL.
var ErrNoSource = errors.New("loader: no calendar URL configured")

// FetchFunc returns the payload for a calendar URL and its content type.
// ics.Fetcher.Fetch and proxy.Client.Fetch both satisfy it.
type FetchFunc func(ctx context.Context, url string) (body []byte, contentType string, err error)

// Loader turns a calendar URL into a fresh list of RawEvents.
type Loader struct {
	fetch  FetchFunc
	loc    *time.Location
	onDrop func(block int, reason string)
}

// Option configures a Loader.
type Option func(*Loader)

// WithLocation sets the frame for date-only and floating timestamps.
func WithLocation(loc *time.Location) Option {
	return func(l *Loader) {
		if loc != nil {
			l.loc = loc
		}
	}
}

// WithDropHook is forwarded to the ICS parser and also told about JSON
// records that lacked a usable start or end.
func WithDropHook(fn func(block int, reason string)) Option {
	return func(l *Loader) {
		l.onDrop = fn
	}
}

// New creates a Loader around fetch.
func New(fetch FetchFunc, opts ...Option) *Loader {
	l := &Loader{fetch: fetch, loc: time.Local}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load fetches url and decodes the payload. It always returns a non-nil
// list: on an empty URL or a failed fetch the list is empty and the error
// says why. The list is newly allocated on every call.
//
// A fetch that fell back to a cached body (ics.ErrStale) is decoded
// normally and the stale error is returned with the events.
func (l *Loader) Load(ctx context.Context, url string) ([]model.RawEvent, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return []model.RawEvent{}, ErrNoSource
	}
	if l.fetch == nil {
		return []model.RawEvent{}, errors.New("loader: no fetch function")
	}

	body, contentType, err := l.fetch(ctx, url)
	stale := errors.Is(err, ics.ErrStale) && len(body) > 0
	if err != nil && !stale {
		return []model.RawEvent{}, fmt.Errorf("fetch calendar: %w", err)
	}

	events, decodeErr := l.Decode(body, contentType)
	if decodeErr != nil {
		return events, decodeErr
	}
	return events, err
}

// Decode interprets a payload that was fetched elsewhere.
func (l *Loader) Decode(body []byte, contentType string) ([]model.RawEvent, error) {
	if isJSON(body, contentType) {
		events, err := DecodeJSON(body, l.loc, l.onDrop)
		if err != nil {
			return []model.RawEvent{}, fmt.Errorf("decode events JSON: %w", err)
		}
		return events, nil
	}

	opts := []ics.ParseOption{ics.WithLocation(l.loc)}
	if l.onDrop != nil {
		opts = append(opts, ics.WithDropHook(l.onDrop))
	}
	return ics.Parse(string(body), opts...), nil
}

func isJSON(body []byte, contentType string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "json") {
		return true
	}
	if strings.Contains(ct, "text/calendar") {
		return false
	}
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '{')
}
