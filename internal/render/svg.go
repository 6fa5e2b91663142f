// Package render draws a clock.Frame. The clock package decides angles and
// colors; this package only turns them into SVG and HTML.
package render

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"calclock/internal/clock"
	"calclock/internal/model"
)

// Palette is indexed by model.Arc.ColorIndex. Its length is clock.PaletteSize.
var Palette = [clock.PaletteSize]string{
	"#4f46e5", "#22c55e", "#ef4444", "#06b6d4",
	"#f59e0b", "#a855f7", "#10b981", "#f97316",
}

// Geometry controls the size of the drawn face.
type Geometry struct {
	Radius    float64 // inner reference circle
	Thickness float64 // ring thickness
	Pad       float64 // gap between circle and ring
}

// DefaultGeometry matches the web page layout.
var DefaultGeometry = Geometry{Radius: 160, Thickness: 34, Pad: 8}

// Size is the side of the square viewBox.
func (g Geometry) Size() float64 {
	return (g.Radius + g.Thickness + g.Pad) * 2
}

func (g Geometry) outer() float64 {
	return g.Radius + g.Pad + g.Thickness
}

// SVG writes frame as a standalone SVG document.
func SVG(w io.Writer, frame clock.Frame, g Geometry) error {
	if g.Radius <= 0 {
		g = DefaultGeometry
	}
	size := g.Size()
	c := size / 2

	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %s %s" role="img" aria-label="Calendar clock">`,
		num(size), num(size))
	b.WriteString("\n")

	for _, a := range frame.Ticks {
		x0, y0 := polar(c, c, g.outer()+2, a)
		x1, y1 := polar(c, c, g.outer()+10, a)
		fmt.Fprintf(&b, `<line x1="%s" y1="%s" x2="%s" y2="%s" stroke="currentColor" stroke-width="1" opacity=".35"/>`,
			num(x0), num(y0), num(x1), num(y1))
		b.WriteString("\n")
	}

	for _, l := range hourLabels(frame.Cycle) {
		x, y := polar(c, c, g.Radius-g.Thickness+6, l.deg)
		fmt.Fprintf(&b, `<text x="%s" y="%s" font-size="12" text-anchor="middle" dominant-baseline="middle" fill="currentColor" opacity=".6">%s</text>`,
			num(x), num(y), l.text)
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, `<circle cx="%s" cy="%s" r="%s" fill="none" stroke="currentColor" stroke-opacity=".15" stroke-width="1.5"/>`,
		num(c), num(c), num(g.Radius))
	b.WriteString("\n")

	for _, arc := range frame.Arcs {
		color := Palette[clock.ColorIndex(arc.ColorIndex, len(Palette))]
		for _, d := range arcPaths(c, c, g.outer(), g.Thickness, arc) {
			fmt.Fprintf(&b, `<path d="%s" fill="%s" fill-opacity=".65"/>`, d, color)
			b.WriteString("\n")
		}
	}

	hx0, hy0 := polar(c, c, g.outer()+12, frame.NowDeg)
	hx1, hy1 := polar(c, c, g.Radius-g.Thickness-6, frame.NowDeg)
	fmt.Fprintf(&b, `<line x1="%s" y1="%s" x2="%s" y2="%s" stroke="currentColor" stroke-width="2.5" stroke-linecap="round"/>`,
		num(hx0), num(hy0), num(hx1), num(hy1))
	b.WriteString("\n</svg>\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// arcPaths returns one ring slice per arc, or two when the arc covers the
// whole face; a single SVG arc command cannot draw a full circle.
func arcPaths(cx, cy, rOuter, thick float64, arc model.Arc) []string {
	if arc.Span() >= 360 {
		mid := arc.StartDeg + 180
		return []string{
			ringSlice(cx, cy, rOuter, thick, arc.StartDeg, mid),
			ringSlice(cx, cy, rOuter, thick, mid, arc.StartDeg+360),
		}
	}
	return []string{ringSlice(cx, cy, rOuter, thick, arc.StartDeg, arc.EndDeg)}
}

func ringSlice(cx, cy, rOuter, thick, a0, a1 float64) string {
	rInner := rOuter - thick
	x0, y0 := polar(cx, cy, rOuter, a0)
	x1, y1 := polar(cx, cy, rOuter, a1)
	x2, y2 := polar(cx, cy, rInner, a1)
	x3, y3 := polar(cx, cy, rInner, a0)
	large := 0
	if a1-a0 > 180 {
		large = 1
	}
	return fmt.Sprintf("M %s %s A %s %s 0 %d 1 %s %s L %s %s A %s %s 0 %d 0 %s %s Z",
		num(x0), num(y0), num(rOuter), num(rOuter), large, num(x1), num(y1),
		num(x2), num(y2), num(rInner), num(rInner), large, num(x3), num(y3))
}

// polar places a face angle on screen; face 0 degrees is straight up and
// angles grow clockwise.
func polar(cx, cy, r, faceDeg float64) (float64, float64) {
	rad := (faceDeg - 90) * math.Pi / 180
	return cx + r*math.Cos(rad), cy + r*math.Sin(rad)
}

type label struct {
	deg  float64
	text string
}

func hourLabels(cycle int) []label {
	step, hours := 3, 24
	if cycle == clock.Cycle12h {
		hours = 12
	}
	out := make([]label, 0, hours/step)
	for h := 0; h < hours; h += step {
		text := strconv.Itoa(h)
		if cycle == clock.Cycle12h && h == 0 {
			text = "12"
		}
		out = append(out, label{deg: float64(h) / float64(hours) * 360, text: text})
	}
	return out
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}
