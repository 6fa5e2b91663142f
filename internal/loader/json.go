package loader

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"calclock/internal/model"
)

// Drop reasons for JSON records.
const (
	DropJSONMissingTime = "json_missing_time"
	DropJSONBadTime     = "json_undecodable_time"
)

// EventRecord is the JSON shape served by /api/events and accepted from
// any JSON-returning proxy. Summary may be null or missing.
type EventRecord struct {
	Summary *string `json:"summary"`
	Start   string  `json:"start"`
	End     string  `json:"end"`
	AllDay  *bool   `json:"allDay,omitempty"`
}

// envelope accepts {"events": [...]} as well as the occurrences key the
// events endpoint of older deployments used.
type envelope struct {
	Events      []EventRecord `json:"events"`
	Occurrences []EventRecord `json:"occurrences"`
}

// DecodeJSON decodes an array of EventRecord, or an object wrapping one,
// into RawEvents. Records without a decodable start or end are dropped.
func DecodeJSON(body []byte, loc *time.Location, onDrop func(int, string)) ([]model.RawEvent, error) {
	if loc == nil {
		loc = time.Local
	}

	var records []EventRecord
	trimmed := bytes.TrimSpace(body)
	switch {
	case len(trimmed) == 0:
		return nil, errors.New("empty body")
	case trimmed[0] == '[':
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, err
		}
	default:
		var env envelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, err
		}
		records = env.Events
		if records == nil {
			records = env.Occurrences
		}
	}

	drop := func(i int, reason string) {
		if onDrop != nil {
			onDrop(i, reason)
		}
	}

	events := make([]model.RawEvent, 0, len(records))
	for i, rec := range records {
		if rec.Start == "" || rec.End == "" {
			drop(i, DropJSONMissingTime)
			continue
		}
		start, err := ParseTimestamp(rec.Start, loc)
		if err != nil {
			drop(i, DropJSONBadTime)
			continue
		}
		end, err := ParseTimestamp(rec.End, loc)
		if err != nil {
			drop(i, DropJSONBadTime)
			continue
		}

		ev := model.RawEvent{Start: start, End: end, AllDay: start.AllDay}
		if rec.AllDay != nil {
			ev.AllDay = *rec.AllDay
		}
		if rec.Summary != nil {
			ev.Summary = *rec.Summary
		}
		events = append(events, ev)
	}
	return events, nil
}

// timestampLayouts are tried in order; layouts without a zone are read in
// the display location.
var timestampLayouts = []struct {
	layout string
	zoned  bool
}{
	{time.RFC3339Nano, true},
	{"2006-01-02T15:04:05", false},
	{"2006-01-02T15:04", false},
}

// ParseTimestamp reads ISO-8601 timestamps as produced by JSON proxies.
// A bare date (2006-01-02) is an all-day instant at local midnight.
func ParseTimestamp(s string, loc *time.Location) (model.Instant, error) {
	s = strings.TrimSpace(s)
	if len(s) == len("2006-01-02") {
		t, err := time.ParseInLocation("2006-01-02", s, loc)
		if err != nil {
			return model.Instant{}, err
		}
		return model.Instant{Time: t, AllDay: true}, nil
	}
	for _, l := range timestampLayouts {
		var (
			t   time.Time
			err error
		)
		if l.zoned {
			t, err = time.Parse(l.layout, s)
		} else {
			t, err = time.ParseInLocation(l.layout, s, loc)
		}
		if err == nil {
			return model.Instant{Time: t}, nil
		}
	}
	return model.Instant{}, errors.New("unrecognized timestamp " + s)
}
