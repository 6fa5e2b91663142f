package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"calclock/internal/model"
)

// ParseStrict parses a full iCalendar document with golang-ical. Unlike
// Parse it requires a well-formed VCALENDAR; it backs the JSON events
// endpoint.
//
//   - All-day is detected from VALUE=DATE or a DTSTART without 'T'.
//   - Floating timestamps (no Z, no TZID) use loc, same as Parse.
//   - VEVENTs without DTSTART or DTEND are skipped.
func ParseStrict(body []byte, loc *time.Location) ([]model.RawEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	events := make([]model.RawEvent, 0)
	for _, comp := range cal.Events() {
		ev, ok := parseVEvent(comp, loc)
		if !ok {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (model.RawEvent, bool) {
	var out model.RawEvent

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}

	startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	endProp := ve.GetProperty(ical.ComponentPropertyDtEnd)
	if startProp == nil || endProp == nil {
		return out, false
	}

	start, err := propertyInstant(startProp, loc)
	if err != nil {
		return out, false
	}
	end, err := propertyInstant(endProp, loc)
	if err != nil {
		return out, false
	}

	out.Start = start
	out.End = end
	out.AllDay = start.AllDay
	return out, true
}

// propertyInstant decodes a DTSTART/DTEND property. TZID parameters are
// not resolved; such values are read as floating wall-clock times.
func propertyInstant(p *ical.IANAProperty, loc *time.Location) (model.Instant, error) {
	val := strings.TrimSpace(p.Value)

	allDay := !strings.Contains(val, "T")
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		allDay = true
	}
	if allDay && len(val) > 8 {
		val = val[:8]
	}
	return Decode(val, loc)
}
