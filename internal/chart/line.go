package chart

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/star/orbitviz/internal/propagation"
)

var traceColor = drawing.ColorFromHex("1f77b4")

// GroundTrack plots latitude against longitude on a world projection.
func GroundTrack(traj *propagation.Trajectory) *Figure {
	return &Figure{
		Mode:       ModeOrbit,
		Kind:       KindGeo,
		Title:      "Ground Track – " + traj.Name,
		Satellite:  traj.Name,
		XLabel:     "Longitude",
		YLabel:     "Latitude",
		X:          clone(traj.Lons),
		Y:          clone(traj.Lats),
		Projection: "natural earth",
		Width:      defaultWidth,
		Height:     defaultHeight,
	}
}

// Altitude plots altitude in meters over time.
func Altitude(traj *propagation.Trajectory) *Figure {
	return timeFigure(ModeAltitude, "Altitude vs Time", "Altitude (m)", traj, traj.Alts)
}

// Speed plots speed in m/s over time.
func Speed(traj *propagation.Trajectory) *Figure {
	return timeFigure(ModeSpeed, "Speed vs Time", "Speed (m/s)", traj, traj.Speeds)
}

func timeFigure(mode Mode, title, yLabel string, traj *propagation.Trajectory, ys []float64) *Figure {
	return &Figure{
		Mode:      mode,
		Kind:      KindLine,
		Title:     title,
		Satellite: traj.Name,
		XLabel:    "Time (UTC)",
		YLabel:    yLabel,
		Times:     append([]time.Time(nil), traj.Times...),
		Y:         clone(ys),
		Width:     defaultWidth,
		Height:    defaultHeight,
	}
}

func (f *Figure) renderLine(w io.Writer) error {
	if len(f.Times) == 0 {
		return writeEmpty(w, f)
	}

	xRange := &chart.ContinuousRange{
		Min: chart.TimeToFloat64(f.Times[0]),
		Max: chart.TimeToFloat64(f.Times[len(f.Times)-1]),
	}
	if xRange.Min == xRange.Max {
		xRange.Min = chart.TimeToFloat64(f.Times[0].Add(-time.Minute))
		xRange.Max = chart.TimeToFloat64(f.Times[0].Add(time.Minute))
	}

	ch := chart.Chart{
		Title:      f.Title,
		Width:      f.Width,
		Height:     f.Height,
		Background: chart.Style{Padding: chart.Box{Top: 48, Left: 16, Right: 16, Bottom: 16}},
		XAxis: chart.XAxis{
			Name:           f.XLabel,
			Range:          xRange,
			ValueFormatter: chart.TimeValueFormatterWithFormat("15:04"),
		},
		YAxis: chart.YAxis{
			Name:  f.YLabel,
			Range: paddedRange(f.Y),
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    f.Satellite,
				XValues: f.Times,
				YValues: f.Y,
				Style:   chart.Style{StrokeColor: traceColor, StrokeWidth: 2},
			},
		},
	}
	if err := ch.Render(chart.SVG, w); err != nil {
		return fmt.Errorf("rendering %s: %w", f.Mode, err)
	}
	return nil
}

func (f *Figure) renderGroundTrack(w io.Writer) error {
	if len(f.X) == 0 {
		return writeEmpty(w, f)
	}

	var series []chart.Series
	for _, seg := range splitAntimeridian(f.X) {
		series = append(series, chart.ContinuousSeries{
			Name:    f.Satellite,
			XValues: f.X[seg[0]:seg[1]],
			YValues: f.Y[seg[0]:seg[1]],
			Style: chart.Style{
				StrokeColor: traceColor,
				StrokeWidth: 2,
				DotColor:    traceColor,
				DotWidth:    1.5,
			},
		})
	}

	ch := chart.Chart{
		Title:      f.Title,
		Width:      f.Width,
		Height:     f.Height,
		Background: chart.Style{Padding: chart.Box{Top: 48, Left: 16, Right: 16, Bottom: 16}},
		XAxis: chart.XAxis{
			Name:  f.XLabel,
			Range: &chart.ContinuousRange{Min: -180, Max: 180},
			Ticks: degreeTicks(-180, 180, 60),
		},
		YAxis: chart.YAxis{
			Name:  f.YLabel,
			Range: &chart.ContinuousRange{Min: -90, Max: 90},
			Ticks: degreeTicks(-90, 90, 30),
		},
		Series: series,
	}
	if err := ch.Render(chart.SVG, w); err != nil {
		return fmt.Errorf("rendering ground track: %w", err)
	}
	return nil
}

// splitAntimeridian returns [start, end) index ranges of lons such that no
// range contains a jump of more than 180 degrees between neighbours.
func splitAntimeridian(lons []float64) [][2]int {
	if len(lons) == 0 {
		return nil
	}
	var segs [][2]int
	start := 0
	for i := 1; i < len(lons); i++ {
		if math.Abs(lons[i]-lons[i-1]) > 180 {
			segs = append(segs, [2]int{start, i})
			start = i
		}
	}
	return append(segs, [2]int{start, len(lons)})
}

func degreeTicks(min, max, step int) []chart.Tick {
	var ticks []chart.Tick
	for v := min; v <= max; v += step {
		ticks = append(ticks, chart.Tick{Value: float64(v), Label: fmt.Sprintf("%d°", v)})
	}
	return ticks
}

// paddedRange returns a y range with a 5% margin; a flat series gets a
// unit margin so the range is never empty.
func paddedRange(ys []float64) *chart.ContinuousRange {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, y := range ys {
		if math.IsNaN(y) {
			continue
		}
		lo = math.Min(lo, y)
		hi = math.Max(hi, y)
	}
	if math.IsInf(lo, 0) {
		return &chart.ContinuousRange{Min: 0, Max: 1}
	}
	pad := (hi - lo) * 0.05
	if pad == 0 {
		pad = 1
	}
	return &chart.ContinuousRange{Min: lo - pad, Max: hi + pad}
}

func writeEmpty(w io.Writer, f *Figure) error {
	width, height := f.Width, f.Height
	if width == 0 {
		width, height = defaultWidth, defaultHeight
	}
	_, err := fmt.Fprintf(w,
		`<svg width="%d" height="%d" xmlns="http://www.w3.org/2000/svg"><rect width="100%%" height="100%%" fill="white"/><text x="20" y="30" fill="black">%s</text><text x="20" y="60" fill="dimgray">No samples to plot.</text></svg>`,
		width, height, escape(f.Title))
	return err
}

func clone(v []float64) []float64 {
	return append([]float64(nil), v...)
}
