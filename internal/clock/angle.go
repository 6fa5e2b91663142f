// Package clock maps calendar events onto an analog clock face: it selects
// the events of the current day and turns their times into angular arcs.
// Everything here is pure; callers pass the current time in.
package clock

import (
	"time"

	"calclock/internal/model"
)

// Cycle lengths in minutes.
const (
	Cycle12h = 12 * 60
	Cycle24h = 24 * 60
)

// CycleFor returns the cycle for the 12-hour toggle.
func CycleFor(twelveHour bool) int {
	if twelveHour {
		return Cycle12h
	}
	return Cycle24h
}

// MinutesOfCycle returns (hour*60+minute) floor-mod cycle, read in t's own
// location. Seconds are ignored.
func MinutesOfCycle(t time.Time, cycle int) int {
	return floorMod(t.Hour()*60+t.Minute(), cycle)
}

// ToAngle converts t into degrees in [0, 360) on a clock face whose full
// turn is cycle minutes. Zero degrees is midnight (and noon on a 12-hour face).
func ToAngle(t time.Time, cycle int) float64 {
	if cycle <= 0 {
		cycle = Cycle24h
	}
	return float64(MinutesOfCycle(t, cycle)*360) / float64(cycle)
}

// ToArc maps an event interval onto the face. The end angle is unwrapped by
// whole turns until it is strictly greater than the start angle, so an
// interval crossing midnight, or one spanning an exact multiple of the
// cycle, still has positive length.
func ToArc(start, end time.Time, cycle, colorIndex int) model.Arc {
	a0 := ToAngle(start, cycle)
	a1 := ToAngle(end, cycle)
	for a1 <= a0 {
		a1 += 360
	}
	return model.Arc{StartDeg: a0, EndDeg: a1, ColorIndex: colorIndex}
}

// ColorIndex returns i mod paletteSize, never negative.
func ColorIndex(i, paletteSize int) int {
	if paletteSize <= 0 {
		return 0
	}
	return floorMod(i, paletteSize)
}

func floorMod(a, n int) int {
	return ((a % n) + n) % n
}
