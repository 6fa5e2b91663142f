package clock

import (
	"math"
	"sort"
	"time"

	"calclock/internal/model"
)

const (
	// PaletteSize is the number of colors the renderer cycles through.
	PaletteSize = 8

	// TickMinutes is the spacing of face ticks.
	TickMinutes = 30
)

// LegendEntry describes one event for the legend next to the face.
type LegendEntry struct {
	Summary    string    `json:"summary"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	AllDay     bool      `json:"all_day"`
	ColorIndex int       `json:"color_index"`

	// Arc is this entry's arc on the face, the same value as in Frame.Arcs.
	Arc model.Arc `json:"arc"`

	// MinutesLeft is set on the current entry, MinutesUntil on the next one.
	MinutesLeft  int `json:"minutes_left,omitempty"`
	MinutesUntil int `json:"minutes_until,omitempty"`
}

// Frame is everything a renderer needs for one paint of the clock.
type Frame struct {
	Now        time.Time     `json:"now"`
	TwelveHour bool          `json:"twelve_hour"`
	Cycle      int           `json:"cycle_minutes"`
	NowDeg     float64       `json:"now_deg"`
	Ticks      []float64     `json:"ticks"`
	Arcs       []model.Arc   `json:"arcs"`
	Legend     []LegendEntry `json:"legend"`
	Current    *LegendEntry  `json:"current,omitempty"`
	Next       *LegendEntry  `json:"next,omitempty"`
}

// Compose builds the frame for st at now. It filters st.Events to today,
// reads every instant in now's location and maps it with the cycle chosen
// by st.TwelveHour. The result shares nothing with st.
func Compose(st model.State, now time.Time) Frame {
	cycle := CycleFor(st.TwelveHour)
	loc := now.Location()

	today := FilterToday(st.Events, now)

	f := Frame{
		Now:        now,
		TwelveHour: st.TwelveHour,
		Cycle:      cycle,
		NowDeg:     ToAngle(now, cycle),
		Ticks:      Ticks(cycle, TickMinutes),
		Arcs:       make([]model.Arc, 0, len(today)),
		Legend:     make([]LegendEntry, 0, len(today)),
	}

	for _, ev := range today {
		start := ev.Start.Time.In(loc)
		end := ev.End.Time.In(loc)
		color := ColorIndex(ev.Index, PaletteSize)

		arc := ToArc(start, end, cycle, color)
		f.Arcs = append(f.Arcs, arc)
		f.Legend = append(f.Legend, LegendEntry{
			Summary:    ev.DisplaySummary(),
			Start:      start,
			End:        end,
			AllDay:     ev.AllDay,
			ColorIndex: color,
			Arc:        arc,
		})
	}

	sort.SliceStable(f.Legend, func(i, j int) bool {
		return f.Legend[i].Start.Before(f.Legend[j].Start)
	})

	for i := range f.Legend {
		e := f.Legend[i]
		if f.Current == nil && !e.Start.After(now) && e.End.After(now) {
			e.MinutesLeft = wholeMinutes(e.End.Sub(now))
			f.Current = &e
			continue
		}
		if e.Start.After(now) {
			e.MinutesUntil = wholeMinutes(e.Start.Sub(now))
			f.Next = &e
			break
		}
	}

	return f
}

// Ticks returns tick angles every step minutes around a face of cycle minutes.
func Ticks(cycle, step int) []float64 {
	if cycle <= 0 || step <= 0 {
		return nil
	}
	out := make([]float64, 0, cycle/step)
	for m := 0; m < cycle; m += step {
		out = append(out, float64(m*360)/float64(cycle))
	}
	return out
}

func wholeMinutes(d time.Duration) int {
	return int(math.Max(0, math.Round(d.Minutes())))
}
