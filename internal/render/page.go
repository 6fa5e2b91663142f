package render

import (
	"bytes"
	"embed"
	"html/template"
	"io"

	"calclock/internal/clock"
)

//go:embed templates/*.html.tmpl
var templateFS embed.FS

var pageTmpl = template.Must(
	template.New("page.html.tmpl").
		Funcs(template.FuncMap{"color": colorOf}).
		ParseFS(templateFS, "templates/page.html.tmpl"),
)

// PageData is the input of the HTML page.
type PageData struct {
	Frame          clock.Frame
	SourceURL      string
	RefreshSeconds int
	Error          string
}

type legendRow struct {
	clock.LegendEntry
	Time string
}

type pageView struct {
	PageData
	SVG     template.HTML
	Rows    []legendRow
	Current *legendRow
	Next    *legendRow
	Title   string
}

// Page writes the full HTML page: the face, a legend and the source form.
// The root element carries data-ready="true" once everything is inline,
// which is what the snapshot capture waits for.
func Page(w io.Writer, data PageData) error {
	var svg bytes.Buffer
	if err := SVG(&svg, data.Frame, DefaultGeometry); err != nil {
		return err
	}

	v := pageView{
		PageData: data,
		// SVG is built from numbers and fixed strings only.
		SVG:   template.HTML(svg.String()),
		Title: "Calendar clock",
	}

	layout := "15:04"
	if data.Frame.TwelveHour {
		layout = "3:04 PM"
	}
	row := func(e clock.LegendEntry) legendRow {
		r := legendRow{LegendEntry: e, Time: e.Start.Format(layout) + "–" + e.End.Format(layout)}
		if e.AllDay {
			r.Time = "all day"
		}
		return r
	}
	for _, e := range data.Frame.Legend {
		v.Rows = append(v.Rows, row(e))
	}
	if c := data.Frame.Current; c != nil {
		r := row(*c)
		v.Current = &r
	}
	if n := data.Frame.Next; n != nil {
		r := row(*n)
		v.Next = &r
	}

	return pageTmpl.Execute(w, v)
}

func colorOf(i int) template.CSS {
	return template.CSS(Palette[clock.ColorIndex(i, len(Palette))])
}
