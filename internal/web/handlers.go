package web

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"calclock/internal/clock"
	"calclock/internal/ics"
	"calclock/internal/loader"
	appLog "calclock/internal/log"
	"calclock/internal/model"
	"calclock/internal/render"
)

// handleProxy relays a calendar feed from the URL in ?url= so the browser
// can read it same-origin.
//
// GET /calendar-proxy?url=<percent-encoded calendar URL>
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	target := strings.TrimSpace(r.URL.Query().Get("url"))
	if target == "" {
		http.Error(w, "Missing 'url' parameter", http.StatusBadRequest)
		return
	}

	res, err := s.fetcher.FetchOne(r.Context(), target)
	if err != nil {
		appLog.Error("proxy fetch failed", err, "url", ics.RedactURL(target))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	contentType := "text/calendar; charset=utf-8"
	if strings.Contains(strings.ToLower(res.ContentType), "json") {
		contentType = "application/json; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	switch {
	case res.Stale:
		w.Header().Set("X-Calclock-Cache", "stale")
	case res.FromCache:
		w.Header().Set("X-Calclock-Cache", "hit")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Body)
}

// handleEvents fetches ?url= and returns its events as a JSON array.
//
// GET /api/events?url=...&today=1
//   - today: only events intersecting the current day
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	target := strings.TrimSpace(r.URL.Query().Get("url"))
	if target == "" {
		writeError(w, http.StatusBadRequest, "No URL provided")
		return
	}

	loc := s.config().Location()
	res, err := s.fetcher.FetchOne(r.Context(), target)
	if err != nil {
		appLog.Error("api events: fetch failed", err, "url", ics.RedactURL(target))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	events, err := ics.ParseStrict(res.Body, loc)
	if err != nil {
		appLog.Error("api events: parse failed", err, "url", ics.RedactURL(target))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if today, _ := boolParam(r, "today"); today {
		filtered := clock.FilterToday(events, s.now().In(loc))
		events = make([]model.RawEvent, 0, len(filtered))
		for _, ev := range filtered {
			events = append(events, ev.RawEvent)
		}
	}

	out := make([]loader.EventRecord, 0, len(events))
	for _, ev := range events {
		out = append(out, toRecord(ev))
	}
	writeJSON(w, http.StatusOK, out)
}

func toRecord(ev model.RawEvent) loader.EventRecord {
	rec := loader.EventRecord{
		Start: formatInstant(ev.Start),
		End:   formatInstant(ev.End),
	}
	allDay := ev.AllDay
	rec.AllDay = &allDay
	if ev.Summary != "" {
		summary := ev.Summary
		rec.Summary = &summary
	}
	return rec
}

func formatInstant(in model.Instant) string {
	if in.AllDay {
		return in.Time.Format("2006-01-02")
	}
	return in.Time.Format(time.RFC3339)
}

// handleClock returns the composed frame as JSON.
//
// GET /api/clock?url=...&twelve=1
func (s *Server) handleClock(w http.ResponseWriter, r *http.Request) {
	frame, _, err := s.frame(r)
	if err != nil {
		// The frame is still valid (no arcs); report why alongside it.
		w.Header().Set("X-Calclock-Load-Error", err.Error())
	}
	s.metrics.RecordFrame("json")
	writeJSON(w, http.StatusOK, frame)
}

// handleSVG renders the clock face alone.
//
// GET /clock.svg?url=...&twelve=1
func (s *Server) handleSVG(w http.ResponseWriter, r *http.Request) {
	frame, _, _ := s.frame(r)

	var buf bytes.Buffer
	if err := render.SVG(&buf, frame, render.DefaultGeometry); err != nil {
		appLog.Error("svg render failed", err)
		writeError(w, http.StatusInternalServerError, "failed to render clock")
		return
	}
	s.metrics.RecordFrame("svg")
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

// handlePage renders the HTML clock page.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	frame, source, err := s.frame(r)

	data := render.PageData{
		Frame:          frame,
		SourceURL:      source,
		RefreshSeconds: s.config().PageRefreshSeconds,
	}
	switch {
	case errors.Is(err, ics.ErrStale):
		data.Error = "Calendar unreachable, showing the last copy: " + err.Error()
	case err != nil && source != "":
		data.Error = "Could not load calendar: " + err.Error()
	}

	var buf bytes.Buffer
	if err := render.Page(&buf, data); err != nil {
		appLog.Error("page render failed", err)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}
	s.metrics.RecordFrame("html")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// frame composes the clock for a request. With ?url= the calendar is
// loaded for this request only; otherwise the store snapshot is used.
// ?twelve= overrides the configured mode.
func (s *Server) frame(r *http.Request) (clock.Frame, string, error) {
	st := s.store.Snapshot()
	if twelve, ok := boolParam(r, "twelve"); ok {
		st = st.WithTwelveHour(twelve)
	}

	var loadErr error
	if q := r.URL.Query(); q.Has("url") {
		src := strings.TrimSpace(q.Get("url"))
		events, err := s.load(r.Context(), src)
		st = st.WithSource(src).WithEvents(events, s.now())
		loadErr = err
	}

	loc := s.config().Location()
	return clock.Compose(st, s.now().In(loc)), st.SourceURL, loadErr
}

func (s *Server) load(ctx context.Context, src string) ([]model.RawEvent, error) {
	l := loader.New(s.fetcher.Fetch,
		loader.WithLocation(s.config().Location()),
		loader.WithDropHook(s.metrics.ObserveDrop),
	)
	events, err := l.Load(ctx, src)
	switch {
	case errors.Is(err, ics.ErrStale):
		appLog.Warn("request load served from stale cache", "url", ics.RedactURL(src))
	case err != nil && src != "":
		appLog.Error("request load failed", err, "url", ics.RedactURL(src))
	}
	return events, err
}
