package clock

import (
	"time"

	"calclock/internal/model"
)

// DayBounds returns local midnight of now's date and 23:59:59.999 of the
// same date, both in now's location.
func DayBounds(now time.Time) (start, end time.Time) {
	y, m, d := now.Date()
	start = time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	end = start.AddDate(0, 0, 1).Add(-time.Millisecond)
	return start, end
}

// FilterToday keeps the events whose [start, end] overlaps today, inclusive
// at both ends. Events are not clipped to the day; an event that began
// yesterday or ends tomorrow is returned whole. Order is preserved and
// Index numbers the result.
func FilterToday(events []model.RawEvent, now time.Time) []model.TodayEvent {
	startOfDay, endOfDay := DayBounds(now)

	out := make([]model.TodayEvent, 0, len(events))
	for _, ev := range events {
		if ev.End.Time.Before(startOfDay) || ev.Start.Time.After(endOfDay) {
			continue
		}
		out = append(out, model.TodayEvent{RawEvent: ev, Index: len(out)})
	}
	return out
}
