package ics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const tinyICS = "BEGIN:VCALENDAR\r\nBEGIN:VEVENT\r\nDTSTART:20240610T090000Z\r\nDTEND:20240610T093000Z\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"

func TestFetchOne_CachesAndRevalidates(t *testing.T) {
	var hits, conditional atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("User-Agent") != userAgent {
			t.Errorf("user-agent = %q", r.Header.Get("User-Agent"))
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			conditional.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(tinyICS))
	}))
	defer srv.Close()

	var outcomes []string
	f := NewFetcher(t.TempDir(), WithObserver(func(outcome string, _ time.Duration) {
		outcomes = append(outcomes, outcome)
	}))

	first, err := f.FetchOne(context.Background(), srv.URL+"/cal.ics")
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if first.FromCache || string(first.Body) != tinyICS {
		t.Fatalf("first fetch = %+v", first)
	}
	if first.ContentType != "text/calendar" {
		t.Errorf("content type = %q", first.ContentType)
	}

	second, err := f.FetchOne(context.Background(), srv.URL+"/cal.ics")
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if !second.FromCache || second.Stale {
		t.Errorf("second fetch should be a revalidated cache hit: %+v", second)
	}
	if string(second.Body) != tinyICS {
		t.Errorf("cached body mismatch")
	}
	if second.ContentType != "text/calendar" {
		t.Errorf("cached content type = %q", second.ContentType)
	}
	if hits.Load() != 2 || conditional.Load() != 1 {
		t.Errorf("hits = %d conditional = %d, want 2 and 1", hits.Load(), conditional.Load())
	}
	if len(outcomes) != 2 || outcomes[0] != OutcomeFresh || outcomes[1] != OutcomeNotModified {
		t.Errorf("outcomes = %v", outcomes)
	}
}

func TestFetchOne_StaleOnUpstreamError(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(tinyICS))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	if _, err := f.FetchOne(context.Background(), srv.URL); err != nil {
		t.Fatalf("warm-up fetch: %v", err)
	}

	fail.Store(true)
	res, err := f.FetchOne(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("expected cached fallback, got %v", err)
	}
	if !res.Stale || !res.FromCache || string(res.Body) != tinyICS {
		t.Errorf("stale result = %+v", res)
	}
}

func TestFetchOne_ErrorWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	var outcome string
	f := NewFetcher(t.TempDir(), WithObserver(func(o string, _ time.Duration) { outcome = o }))
	if _, err := f.FetchOne(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for 404 with empty cache")
	}
	if outcome != OutcomeError {
		t.Errorf("outcome = %q, want %q", outcome, OutcomeError)
	}
}

func TestFetchOne_RejectsOversizedBody(t *testing.T) {
	var conditional atomic.Int32
	big := "BEGIN:VCALENDAR\r\n" + strings.Repeat("X-PAD:"+strings.Repeat("x", 1018)+"\r\n", 11<<10) +
		"BEGIN:VEVENT\r\nSUMMARY:LAST\r\nDTSTART:20240610T090000Z\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") != "" {
			conditional.Add(1)
		}
		w.Header().Set("ETag", `"big"`)
		_, _ = w.Write([]byte(big))
	}))
	defer srv.Close()

	var outcome string
	f := NewFetcher(t.TempDir(), WithObserver(func(o string, _ time.Duration) { outcome = o }))

	for i := 0; i < 2; i++ {
		res, err := f.FetchOne(context.Background(), srv.URL)
		if !errors.Is(err, ErrBodyTooLarge) {
			t.Fatalf("fetch %d: err = %v, bytes = %d; want ErrBodyTooLarge", i, err, len(res.Body))
		}
	}
	if outcome != OutcomeError {
		t.Errorf("outcome = %q, want %q", outcome, OutcomeError)
	}
	if conditional.Load() != 0 {
		t.Error("a rejected body must not lead to conditional requests")
	}
	if _, err := os.Stat(filepath.Join(f.cachePathForURL(srv.URL), "body.ics")); !os.IsNotExist(err) {
		t.Errorf("oversized body was cached: %v", err)
	}
}

func TestFetchOne_AcceptsBodyAtLimit(t *testing.T) {
	body := strings.Repeat("x", maxBodyBytes)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	res, err := NewFetcher(t.TempDir()).FetchOne(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(res.Body) != maxBodyBytes {
		t.Errorf("bytes = %d, want %d", len(res.Body), maxBodyBytes)
	}
}

func TestFetch_TagsStaleBody(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "boom", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(tinyICS))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	if _, _, err := f.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("warm-up fetch: %v", err)
	}

	fail.Store(true)
	body, _, err := f.Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrStale) {
		t.Fatalf("err = %v, want ErrStale", err)
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("stale error should carry the upstream cause: %v", err)
	}
	if string(body) != tinyICS {
		t.Errorf("stale body = %q", body)
	}
}

func TestFetch_ReturnsBodyAndContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	body, ct, err := NewFetcher(t.TempDir()).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(body) != "[]" || ct != "application/json" {
		t.Errorf("body = %q ct = %q", body, ct)
	}
}

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "https://example.com/a.ics", want: "https://example.com/a.ics"},
		{in: "  webcal://example.com/a.ics ", want: "https://example.com/a.ics"},
		{in: "webcals://example.com/a.ics", want: "https://example.com/a.ics"},
		{in: "", wantErr: true},
		{in: "ftp://example.com/a.ics", wantErr: true},
		{in: "https:///a.ics", wantErr: true},
		{in: "not a url", wantErr: true},
	}
	for _, c := range cases {
		got, err := NormalizeURL(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("NormalizeURL(%q) = %q, want error", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizeURL(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestRedactURL(t *testing.T) {
	got := RedactURL("https://calendar.example.com/private-abcd/basic.ics?token=x")
	if got != "https://calendar.example.com/...(redacted)" {
		t.Errorf("RedactURL = %q", got)
	}
	if RedactURL("::") != "ics://...(redacted)" {
		t.Errorf("unparseable URL not redacted")
	}
}
