package model

import "time"

// DefaultSummary is shown for events whose SUMMARY is absent.
const DefaultSummary = "(busy)"

// Instant is an absolute point in time plus the precision it was written
// with. AllDay instants come from date-only tokens and sit at local midnight.
type Instant struct {
	Time   time.Time
	AllDay bool
}

// RawEvent is one VEVENT block (or one JSON record) that carried a
// decodable start and end. Summary is empty when the source had none.
type RawEvent struct {
	Summary string
	Start   Instant
	End     Instant
	AllDay  bool
}

// DisplaySummary returns the summary, or DefaultSummary when absent.
func (e RawEvent) DisplaySummary() string {
	if e.Summary == "" {
		return DefaultSummary
	}
	return e.Summary
}

// TodayEvent is a RawEvent known to intersect the current local day.
// Index is its position in the filtered list.
type TodayEvent struct {
	RawEvent
	Index int
}

// Arc is a normalized angular interval on the clock face.
// EndDeg is always strictly greater than StartDeg.
type Arc struct {
	StartDeg   float64 `json:"start_deg"`
	EndDeg     float64 `json:"end_deg"`
	ColorIndex int     `json:"color_index"`
}

// Span returns the angular length of the arc in degrees.
func (a Arc) Span() float64 {
	return a.EndDeg - a.StartDeg
}

// State is the input of one render: the loaded events and the display mode.
// It is treated as immutable; updates produce a new State.
type State struct {
	Events     []RawEvent
	TwelveHour bool
	SourceURL  string
	LoadedAt   time.Time
}

// WithEvents returns a copy of s holding events.
func (s State) WithEvents(events []RawEvent, loadedAt time.Time) State {
	s.Events = events
	s.LoadedAt = loadedAt
	return s
}

// WithTwelveHour returns a copy of s with the cycle mode changed.
func (s State) WithTwelveHour(twelve bool) State {
	s.TwelveHour = twelve
	return s
}

// WithSource returns a copy of s pointing at a new calendar URL.
func (s State) WithSource(url string) State {
	s.SourceURL = url
	return s
}
