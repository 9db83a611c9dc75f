// Package chart turns one trajectory into a 2D figure: ground track,
// altitude or speed over time, or the correlation heatmap.
//
// Line and ground-track figures are drawn with go-chart; the heatmap has no
// go-chart equivalent and is written as SVG directly.
package chart

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/star/orbitviz/internal/metrics"
	"github.com/star/orbitviz/internal/propagation"
)

var tracer = otel.Tracer("github.com/star/orbitviz/internal/chart")

// Mode is a view selected by the mode buttons.
type Mode string

const (
	ModeOrbit       Mode = "orbit"
	ModeOrbit3D     Mode = "orbit3d" // rendered by the scene package
	ModeAltitude    Mode = "altitude"
	ModeSpeed       Mode = "speed"
	ModeCorrelation Mode = "correlation"
)

// ParseMode reports whether s names a known mode.
func ParseMode(s string) (Mode, bool) {
	switch m := Mode(s); m {
	case ModeOrbit, ModeOrbit3D, ModeAltitude, ModeSpeed, ModeCorrelation:
		return m, true
	}
	return "", false
}

// Kind is the plot type of a figure.
type Kind string

const (
	KindGeo     Kind = "scattergeo"
	KindLine    Kind = "line"
	KindHeatmap Kind = "heatmap"
)

// Figure is a renderer-agnostic description of one 2D plot. It serialises to
// JSON for the browser and renders to SVG with RenderSVG.
type Figure struct {
	Mode      Mode   `json:"mode"`
	Kind      Kind   `json:"kind"`
	Title     string `json:"title"`
	Satellite string `json:"satellite"`

	XLabel string `json:"xLabel,omitempty"`
	YLabel string `json:"yLabel,omitempty"`

	// Line plots.
	Times []time.Time `json:"times,omitempty"`

	// Ground track: X is longitude, Y latitude. Line plots use Y only.
	X          []float64 `json:"x,omitempty"`
	Y          []float64 `json:"y,omitempty"`
	Projection string    `json:"projection,omitempty"`

	// Heatmap.
	Labels     []string   `json:"labels,omitempty"`
	Z          Grid       `json:"z,omitempty"`
	Text       [][]string `json:"text,omitempty"`
	Colorscale string     `json:"colorscale,omitempty"`

	Width  int `json:"width"`
	Height int `json:"height"`
}

const (
	defaultWidth  = 800
	defaultHeight = 450
)

// Points returns the number of plotted samples.
func (f *Figure) Points() int {
	switch f.Kind {
	case KindLine:
		return len(f.Times)
	case KindGeo:
		return len(f.X)
	case KindHeatmap:
		return len(f.Z)
	}
	return 0
}

// RenderSVG writes the figure as a standalone SVG document.
func (f *Figure) RenderSVG(w io.Writer) error {
	switch f.Kind {
	case KindLine:
		return f.renderLine(w)
	case KindGeo:
		return f.renderGroundTrack(w)
	case KindHeatmap:
		return f.renderHeatmap(w)
	default:
		return fmt.Errorf("unknown figure kind %q", f.Kind)
	}
}

// Render builds the figure for mode from traj.
func Render(ctx context.Context, mode Mode, traj *propagation.Trajectory) (*Figure, error) {
	_, span := tracer.Start(ctx, "chart.Render")
	defer span.End()
	span.SetAttributes(
		attribute.String("mode", string(mode)),
		attribute.Int("samples", traj.Len()),
	)

	var (
		fig *Figure
		err error
	)
	switch mode {
	case ModeOrbit:
		fig = GroundTrack(traj)
	case ModeAltitude:
		fig = Altitude(traj)
	case ModeSpeed:
		fig = Speed(traj)
	case ModeCorrelation:
		fig, err = Correlation(traj)
	default:
		return nil, fmt.Errorf("mode %q has no 2D figure", mode)
	}
	if err != nil {
		return nil, err
	}
	metrics.IncChartRenders(string(mode))
	return fig, nil
}

// Grid is a matrix whose NaN cells encode as JSON null.
type Grid [][]float64

func (g Grid) MarshalJSON() ([]byte, error) {
	out := make([][]*float64, len(g))
	for i, row := range g {
		out[i] = make([]*float64, len(row))
		for j := range row {
			if v := row[j]; !math.IsNaN(v) && !math.IsInf(v, 0) {
				out[i][j] = &row[j]
			}
		}
	}
	return json.Marshal(out)
}
