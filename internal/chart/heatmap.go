package chart

import (
	"fmt"
	"html"
	"io"
	"math"
	"strings"

	"github.com/star/orbitviz/internal/propagation"
	"github.com/star/orbitviz/internal/stats"
)

// Correlation builds the pairwise Pearson heatmap of altitude, speed and
// latitude. Zero-variance series give NaN cells, shown as "NaN".
func Correlation(traj *propagation.Trajectory) (*Figure, error) {
	labels := []string{"Altitude", "Speed", "Latitude"}
	m, err := stats.Correlate(labels, traj.Alts, traj.Speeds, traj.Lats)
	if err != nil {
		return nil, fmt.Errorf("correlating %s: %w", traj.Name, err)
	}

	z := m.Rows()
	text := make([][]string, len(z))
	for i, row := range z {
		text[i] = make([]string, len(row))
		for j, v := range row {
			text[i][j] = formatCell(v)
		}
	}

	return &Figure{
		Mode:       ModeCorrelation,
		Kind:       KindHeatmap,
		Title:      "Correlation Heatmap",
		Satellite:  traj.Name,
		Labels:     labels,
		Z:          z,
		Text:       text,
		Colorscale: "RdBu",
		Width:      600,
		Height:     520,
	}, nil
}

func formatCell(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return fmt.Sprintf("%.2f", v)
}

// rdbu holds the RdBu colour scale stops over [0, 1].
var rdbu = []struct {
	at      float64
	r, g, b float64
}{
	{0, 5, 10, 172},
	{0.35, 106, 137, 247},
	{0.5, 190, 190, 190},
	{0.6, 220, 170, 132},
	{0.7, 230, 145, 90},
	{1, 178, 10, 28},
}

// rdbuColor maps a correlation in [-1, 1] onto the scale.
func rdbuColor(v float64) string {
	if math.IsNaN(v) {
		return "#f0f0f0"
	}
	t := (math.Max(-1, math.Min(1, v)) + 1) / 2
	for i := 1; i < len(rdbu); i++ {
		lo, hi := rdbu[i-1], rdbu[i]
		if t > hi.at {
			continue
		}
		f := (t - lo.at) / (hi.at - lo.at)
		return fmt.Sprintf("#%02x%02x%02x",
			int(math.Round(lo.r+f*(hi.r-lo.r))),
			int(math.Round(lo.g+f*(hi.g-lo.g))),
			int(math.Round(lo.b+f*(hi.b-lo.b))),
		)
	}
	last := rdbu[len(rdbu)-1]
	return fmt.Sprintf("#%02x%02x%02x", int(last.r), int(last.g), int(last.b))
}

// Heatmap layout.
const (
	heatTop       = 60
	heatLeft      = 110
	heatLegendGap = 24
	heatLegendW   = 18
)

func (f *Figure) renderHeatmap(w io.Writer) error {
	n := len(f.Z)
	if n == 0 {
		return writeEmpty(w, f)
	}

	width, height := f.Width, f.Height
	if width == 0 || height == 0 {
		width, height = 600, 520
	}
	gridW := width - heatLeft - heatLegendGap - heatLegendW - 60
	gridH := height - heatTop - 60
	cellW := float64(gridW) / float64(n)
	cellH := float64(gridH) / float64(n)

	var b strings.Builder
	fmt.Fprintf(&b, `<svg width="%d" height="%d" xmlns="http://www.w3.org/2000/svg" font-family="sans-serif">`, width, height)
	b.WriteString(`<rect width="100%" height="100%" fill="white"/>`)
	fmt.Fprintf(&b, `<text x="%d" y="32" font-size="18" text-anchor="middle">%s</text>`, width/2, escape(f.Title))

	for i := 0; i < n; i++ {
		// Row 0 at the bottom, as heatmaps conventionally draw the y axis.
		y := float64(heatTop) + float64(n-1-i)*cellH
		label := ""
		if i < len(f.Labels) {
			label = f.Labels[i]
		}
		fmt.Fprintf(&b, `<text x="%d" y="%.1f" font-size="13" text-anchor="end" dominant-baseline="middle">%s</text>`,
			heatLeft-8, y+cellH/2, escape(label))

		for j := 0; j < n; j++ {
			v := f.Z[i][j]
			x := float64(heatLeft) + float64(j)*cellW
			fmt.Fprintf(&b, `<rect x="%.1f" y="%.1f" width="%.1f" height="%.1f" fill="%s" stroke="white"/>`,
				x, y, cellW, cellH, rdbuColor(v))
			txt := formatCell(v)
			if i < len(f.Text) && j < len(f.Text[i]) {
				txt = f.Text[i][j]
			}
			fmt.Fprintf(&b, `<text x="%.1f" y="%.1f" font-size="14" text-anchor="middle" dominant-baseline="middle">%s</text>`,
				x+cellW/2, y+cellH/2, escape(txt))
		}
	}

	for j := 0; j < n && j < len(f.Labels); j++ {
		x := float64(heatLeft) + float64(j)*cellW + cellW/2
		fmt.Fprintf(&b, `<text x="%.1f" y="%.1f" font-size="13" text-anchor="middle">%s</text>`,
			x, float64(heatTop+gridH+20), escape(f.Labels[j]))
	}

	// Colour bar from -1 (bottom) to 1 (top).
	lx := heatLeft + gridW + heatLegendGap
	const bands = 20
	bandH := float64(gridH) / bands
	for k := 0; k < bands; k++ {
		v := 1 - 2*(float64(k)+0.5)/bands
		fmt.Fprintf(&b, `<rect x="%d" y="%.1f" width="%d" height="%.1f" fill="%s"/>`,
			lx, float64(heatTop)+float64(k)*bandH, heatLegendW, bandH+0.5, rdbuColor(v))
	}
	for _, tick := range []float64{1, 0.5, 0, -0.5, -1} {
		y := float64(heatTop) + (1-tick)/2*float64(gridH)
		fmt.Fprintf(&b, `<text x="%d" y="%.1f" font-size="11" dominant-baseline="middle">%.1f</text>`,
			lx+heatLegendW+4, y, tick)
	}

	b.WriteString(`</svg>`)
	_, err := io.WriteString(w, b.String())
	return err
}

func escape(s string) string {
	return html.EscapeString(s)
}
