package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"calclock/internal/clock"
	"calclock/internal/config"
	"calclock/internal/ics"
	"calclock/internal/loader"
	"calclock/internal/metrics"
	"calclock/internal/model"
	"calclock/internal/state"
)

const upstreamICS = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//calclock//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:standup\r\n" +
	"SUMMARY:Standup\r\n" +
	"DTSTART:20240610T090000Z\r\n" +
	"DTEND:20240610T093000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:retro\r\n" +
	"SUMMARY:Retro\r\n" +
	"DTSTART:20240611T090000Z\r\n" +
	"DTEND:20240611T100000Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

var testNow = time.Date(2024, 6, 10, 10, 0, 0, 0, time.UTC)

type fixture struct {
	srv      *Server
	upstream *httptest.Server
	store    *state.Store
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cal.ics":
			w.Header().Set("Content-Type", "text/calendar")
			_, _ = io.WriteString(w, upstreamICS)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(upstream.Close)

	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.CacheDir = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}

	fetcher := ics.NewFetcher(cfg.CacheDir)
	l := loader.New(fetcher.Fetch, loader.WithLocation(time.UTC))
	store := state.NewStore(model.State{SourceURL: cfg.CalendarURL}, l)

	srv := NewServer(cfg, store, fetcher, metrics.NewManager(),
		WithClock(func() time.Time { return testNow }))
	return &fixture{srv: srv, upstream: upstream, store: store}
}

func (f *fixture) calURL() string {
	return f.upstream.URL + "/cal.ics"
}

func (f *fixture) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.get(t, "/health")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestProxy(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.get(t, "/calendar-proxy")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing url: status = %d", rec.Code)
	}

	rec = f.get(t, "/calendar-proxy?url="+url.QueryEscape(f.calURL()))
	if rec.Code != http.StatusOK {
		t.Fatalf("proxy status = %d body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Errorf("content type = %q", ct)
	}
	if rec.Body.String() != upstreamICS {
		t.Error("proxy must relay the upstream body unchanged")
	}

	rec = f.get(t, "/calendar-proxy?url="+url.QueryEscape(f.upstream.URL+"/missing.ics"))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("upstream 404: status = %d", rec.Code)
	}
}

func TestProxy_CustomPath(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.ProxyPath = "/cors" })
	rec := f.get(t, "/cors?url="+url.QueryEscape(f.calURL()))
	if rec.Code != http.StatusOK {
		t.Errorf("custom proxy path status = %d", rec.Code)
	}
}

func TestEvents(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.get(t, "/api/events")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing url: status = %d", rec.Code)
	}

	rec = f.get(t, "/api/events?url="+url.QueryEscape(f.calURL()))
	if rec.Code != http.StatusOK {
		t.Fatalf("events status = %d body = %s", rec.Code, rec.Body.String())
	}
	var all []loader.EventRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &all); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("events = %d, want 2", len(all))
	}
	if all[0].Summary == nil || *all[0].Summary != "Standup" || all[0].Start != "2024-06-10T09:00:00Z" {
		t.Errorf("first record = %+v", all[0])
	}

	rec = f.get(t, "/api/events?today=1&url="+url.QueryEscape(f.calURL()))
	var today []loader.EventRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &today); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(today) != 1 || *today[0].Summary != "Standup" {
		t.Errorf("today = %+v", today)
	}
}

func TestClock_PerRequestURL(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.get(t, "/api/clock?url="+url.QueryEscape(f.calURL()))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var frame clock.Frame
	if err := json.Unmarshal(rec.Body.Bytes(), &frame); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.Cycle != clock.Cycle24h || frame.NowDeg != 150 {
		t.Errorf("frame header = %+v", frame)
	}
	if len(frame.Arcs) != 1 || frame.Arcs[0].StartDeg != 135 || frame.Arcs[0].EndDeg != 142.5 {
		t.Errorf("arcs = %+v", frame.Arcs)
	}

	rec = f.get(t, "/api/clock?twelve=1&url="+url.QueryEscape(f.calURL()))
	if err := json.Unmarshal(rec.Body.Bytes(), &frame); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.Cycle != clock.Cycle12h || frame.Arcs[0].StartDeg != 270 {
		t.Errorf("12-hour frame = %+v", frame)
	}
}

func TestClock_LoadFailureStillRenders(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.get(t, "/api/clock?url="+url.QueryEscape(f.upstream.URL+"/missing.ics"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Calclock-Load-Error") == "" {
		t.Error("load error header missing")
	}
	var frame clock.Frame
	if err := json.Unmarshal(rec.Body.Bytes(), &frame); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(frame.Arcs) != 0 {
		t.Errorf("arcs = %+v, want none", frame.Arcs)
	}
}

func TestClock_UsesStoreSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	f.store.SetSource(f.calURL())
	if err := f.store.Refresh(t.Context()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	rec := f.get(t, "/api/clock")
	var frame clock.Frame
	if err := json.Unmarshal(rec.Body.Bytes(), &frame); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(frame.Legend) != 1 || frame.Legend[0].Summary != "Standup" {
		t.Errorf("legend = %+v", frame.Legend)
	}
}

func TestSVGAndPage(t *testing.T) {
	f := newFixture(t, nil)
	q := "?url=" + url.QueryEscape(f.calURL())

	rec := f.get(t, "/clock.svg"+q)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/svg+xml" {
		t.Errorf("svg = %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "<path ") {
		t.Error("svg has no arc")
	}

	rec = f.get(t, "/"+q)
	if rec.Code != http.StatusOK {
		t.Fatalf("page status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Standup") || !strings.Contains(body, `data-ready="true"`) {
		t.Error("page missing legend or ready marker")
	}

	rec = f.get(t, "/?url="+url.QueryEscape(f.upstream.URL+"/missing.ics"))
	if !strings.Contains(rec.Body.String(), "Could not load calendar") {
		t.Error("page should show the load error")
	}
}

func TestBasicAuth(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	})

	if rec := f.get(t, "/health"); rec.Code != http.StatusOK {
		t.Errorf("health must stay open: %d", rec.Code)
	}

	rec := f.get(t, "/api/clock")
	if rec.Code != http.StatusUnauthorized || rec.Header().Get("WWW-Authenticate") == "" {
		t.Errorf("unauthenticated = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/clock", nil)
	req.SetBasicAuth("admin", "wrong")
	rr := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong password = %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/clock", nil)
	req.SetBasicAuth("admin", "secret")
	rr = httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("authenticated = %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	_ = f.get(t, "/api/clock")

	rec := f.get(t, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `calclock_http_requests_total{method="GET",route="/api/clock",status_code="200"} 1`) {
		t.Errorf("request metric missing:\n%s", body)
	}
	if !strings.Contains(body, `calclock_frames_rendered_total{format="json"} 1`) {
		t.Error("frame metric missing")
	}
}

func TestBoolParam(t *testing.T) {
	cases := []struct {
		query     string
		value, ok bool
	}{
		{"", false, false},
		{"twelve", true, true},
		{"twelve=1", true, true},
		{"twelve=on", true, true},
		{"twelve=0", false, true},
		{"twelve=false", false, true},
		{"twelve=1&twelve=0", true, true},
		{"twelve=0&twelve=1", false, true},
	}
	for _, c := range cases {
		r := httptest.NewRequest(http.MethodGet, "/?"+c.query, nil)
		v, ok := boolParam(r, "twelve")
		if v != c.value || ok != c.ok {
			t.Errorf("boolParam(%q) = %v, %v; want %v, %v", c.query, v, ok, c.value, c.ok)
		}
	}
}
