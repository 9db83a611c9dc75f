// Command diag propagates one record from a TLE file and prints what the
// service would show for it: the sample table, a chart SVG and a few
// animation frames.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/star/orbitviz/internal/chart"
	"github.com/star/orbitviz/internal/propagation"
	"github.com/star/orbitviz/internal/scene"
	"github.com/star/orbitviz/internal/tle"
)

func main() {
	source := flag.String("tle", "data/tle.txt", "TLE file path or URL")
	index := flag.Int("index", 0, "record index to propagate")
	mode := flag.String("mode", "altitude", "chart mode written with -svg (orbit, altitude, speed, correlation)")
	svgPath := flag.String("svg", "", "write the chart SVG to this file")
	frames := flag.Int("frames", 5, "animation frames to print")
	every := flag.Int("every", 20, "print every n-th sample")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	ctx := context.Background()

	ds, err := tle.NewSource(*source, nil, logger).Load(ctx)
	if err != nil {
		fmt.Println("ERROR loading TLE:", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d records from %s\n", len(ds.Records), ds.Source)

	rec, ok := ds.Record(*index)
	if !ok {
		fmt.Printf("ERROR: no record at index %d\n", *index)
		os.Exit(1)
	}
	fmt.Printf("Record %d: %s (NORAD %d) epoch %v\n", rec.Index, rec.Name, rec.NORADID, rec.Epoch)

	prop := propagation.NewPropagator(propagation.DefaultConfig(), logger)
	traj, err := prop.Trajectory(ctx, ds, *index, time.Now())
	if err != nil {
		fmt.Println("ERROR propagating:", err)
		os.Exit(1)
	}
	fmt.Printf("Samples: %d, gaps: %d\n", traj.Len(), traj.Gaps)
	for i, s := range traj.Samples() {
		if i%*every != 0 && i != traj.Len()-1 {
			continue
		}
		fmt.Printf("  step %3d %s lat=%7.2f lon=%8.2f alt=%7.1fkm v=%6.0fm/s\n",
			s.Step, s.Time.Format(time.RFC3339), s.Latitude, s.Longitude, s.Altitude/1000, s.Speed)
	}

	corr, err := chart.Correlation(traj)
	if err == nil {
		fmt.Println("Correlation:")
		for i, row := range corr.Text {
			fmt.Printf("  %-9s %v\n", corr.Labels[i], row)
		}
	}

	if *svgPath != "" {
		m, ok := chart.ParseMode(*mode)
		if !ok || m == chart.ModeOrbit3D {
			fmt.Printf("ERROR: cannot write SVG for mode %q\n", *mode)
			os.Exit(1)
		}
		fig, err := chart.Render(ctx, m, traj)
		if err != nil {
			fmt.Println("ERROR rendering chart:", err)
			os.Exit(1)
		}
		f, err := os.Create(*svgPath)
		if err != nil {
			fmt.Println("ERROR creating SVG file:", err)
			os.Exit(1)
		}
		if err := fig.RenderSVG(f); err != nil {
			f.Close()
			fmt.Println("ERROR writing SVG:", err)
			os.Exit(1)
		}
		f.Close()
		fmt.Printf("Wrote %s (%s, %d points)\n", *svgPath, fig.Title, fig.Points())
	}

	anim := scene.NewAnimator(0, logger)
	anim.Reset(scene.Build([]*propagation.Trajectory{traj}))
	for i := 0; i < *frames; i++ {
		// One displayed frame per second of animation.
		f := anim.Step(60)
		for _, m := range f.Markers {
			fmt.Printf("  frame seq=%d index=%d rot=%.3f pos=(%.3f, %.3f, %.3f) footprint=%.3f\n",
				f.Seq, f.Index, f.EarthRotation,
				m.Position.X(), m.Position.Y(), m.Position.Z(), m.Footprint.Scale.X())
		}
	}
}
