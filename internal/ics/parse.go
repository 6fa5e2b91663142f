package ics

import (
	"strings"
	"time"

	"calclock/internal/model"
)

// Reasons passed to the drop hook.
const (
	DropMissingStart = "missing_dtstart"
	DropMissingEnd   = "missing_dtend"
	DropBadStart     = "undecodable_dtstart"
	DropBadEnd       = "undecodable_dtend"
)

// ParseOption configures Parse.
type ParseOption func(*parseOptions)

type parseOptions struct {
	loc    *time.Location
	onDrop func(block int, reason string)
}

// WithLocation sets the frame used for date-only and floating timestamps.
func WithLocation(loc *time.Location) ParseOption {
	return func(o *parseOptions) {
		if loc != nil {
			o.loc = loc
		}
	}
}

// WithDropHook registers fn to be told about every VEVENT block that was
// skipped. block is the zero-based block index in the source text.
func WithDropHook(fn func(block int, reason string)) ParseOption {
	return func(o *parseOptions) {
		o.onDrop = fn
	}
}

// Parse scans raw ICS text and returns one RawEvent per VEVENT block that
// carries a decodable DTSTART and DTEND, in source order. Everything outside
// BEGIN:VEVENT/END:VEVENT is ignored, and only SUMMARY, DTSTART and DTEND are
// read. Blocks without usable times are skipped, never defaulted.
func Parse(text string, opts ...ParseOption) []model.RawEvent {
	o := parseOptions{loc: time.Local}
	for _, opt := range opts {
		opt(&o)
	}

	events := make([]model.RawEvent, 0)

	var cur *vevent
	depth := 0 // nested components such as VALARM
	idx := 0

	flush := func() {
		if ev, reason, ok := cur.build(o.loc); ok {
			events = append(events, ev)
		} else if o.onDrop != nil {
			o.onDrop(idx, reason)
		}
		cur = nil
		idx++
	}

	for _, line := range unfold(text) {
		switch {
		case line == "BEGIN:VEVENT":
			if cur != nil {
				// Unterminated block; close it before starting the next.
				flush()
			}
			cur = &vevent{}
			depth = 0
		case cur == nil:
			continue
		case line == "END:VEVENT":
			flush()
		case strings.HasPrefix(line, "BEGIN:"):
			depth++
		case strings.HasPrefix(line, "END:"):
			if depth > 0 {
				depth--
			}
		case depth == 0:
			cur.scan(line)
		}
	}
	if cur != nil {
		flush()
	}

	return events
}

// vevent collects the raw property values of one block.
type vevent struct {
	summary    string
	hasSummary bool
	start      string
	hasStart   bool
	end        string
	hasEnd     bool
}

func (v *vevent) scan(line string) {
	switch {
	case strings.HasPrefix(line, "SUMMARY:"):
		if !v.hasSummary {
			v.summary = unescapeText(line[len("SUMMARY:"):])
			v.hasSummary = true
		}
	case strings.HasPrefix(line, "DTSTART"):
		if !v.hasStart {
			v.start, v.hasStart = propertyValue(line, "DTSTART")
		}
	case strings.HasPrefix(line, "DTEND"):
		if !v.hasEnd {
			v.end, v.hasEnd = propertyValue(line, "DTEND")
		}
	}
}

func (v *vevent) build(loc *time.Location) (model.RawEvent, string, bool) {
	if !v.hasStart {
		return model.RawEvent{}, DropMissingStart, false
	}
	if !v.hasEnd {
		return model.RawEvent{}, DropMissingEnd, false
	}
	start, err := Decode(v.start, loc)
	if err != nil {
		return model.RawEvent{}, DropBadStart, false
	}
	end, err := Decode(v.end, loc)
	if err != nil {
		return model.RawEvent{}, DropBadEnd, false
	}
	return model.RawEvent{
		Summary: v.summary,
		Start:   start,
		End:     end,
		AllDay:  start.AllDay,
	}, "", true
}

// propertyValue returns the value of a NAME[;PARAM=...]:VALUE line.
// Colons inside quoted parameter values are skipped.
func propertyValue(line, name string) (string, bool) {
	rest := line[len(name):]
	if rest == "" {
		return "", false
	}
	switch rest[0] {
	case ':':
		return rest[1:], true
	case ';':
		quoted := false
		for i := 1; i < len(rest); i++ {
			switch rest[i] {
			case '"':
				quoted = !quoted
			case ':':
				if !quoted {
					return rest[i+1:], true
				}
			}
		}
	}
	return "", false
}

// unfold splits text into logical lines, joining RFC 5545 continuation
// lines (leading space or tab) onto their predecessor.
func unfold(text string) []string {
	raw := strings.Split(text, "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimSuffix(l, "\r")
		if len(l) > 0 && (l[0] == ' ' || l[0] == '\t') && len(out) > 0 {
			out[len(out)-1] += l[1:]
			continue
		}
		out = append(out, strings.TrimRight(l, " \t"))
	}
	return out
}

var textUnescaper = strings.NewReplacer(`\\`, `\`, `\;`, `;`, `\,`, `,`, `\n`, "\n", `\N`, "\n")

func unescapeText(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	return textUnescaper.Replace(s)
}
