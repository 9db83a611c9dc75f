package propagation

import (
	"fmt"
	"time"
)

// GapPolicy decides what happens to a time step SGP4 cannot resolve.
type GapPolicy string

const (
	// GapCompact drops the step; later samples shift down one position.
	GapCompact GapPolicy = "compact"
	// GapPad repeats the last known sample at the missing step's time.
	// Gaps before the first good sample are still dropped.
	GapPad GapPolicy = "pad"
)

// ParseGapPolicy parses a policy name; empty means GapCompact.
func ParseGapPolicy(s string) (GapPolicy, error) {
	switch GapPolicy(s) {
	case "", GapCompact:
		return GapCompact, nil
	case GapPad:
		return GapPad, nil
	default:
		return "", fmt.Errorf("unknown gap policy %q (want compact or pad)", s)
	}
}

// Config holds propagation configuration.
type Config struct {
	Workers   int           // worker pool size (default: runtime.NumCPU())
	Step      time.Duration // sample interval (default: 1m)
	Steps     int           // number of intervals; Steps+1 nominal samples (default: 120)
	GapPolicy GapPolicy
}

// DefaultConfig returns the 120 one-minute step horizon.
func DefaultConfig() Config {
	return Config{
		Workers:   4,
		Step:      time.Minute,
		Steps:     120,
		GapPolicy: GapCompact,
	}
}

// Sample is one propagated time step.
type Sample struct {
	Time      time.Time
	Step      int     // nominal step index the sample belongs to
	Latitude  float64 // degrees
	Longitude float64 // degrees
	Altitude  float64 // meters
	Speed     float64 // m/s
}

// Trajectory is one satellite's samples stored as parallel arrays.
// All slices always have the same length.
type Trajectory struct {
	Index   int
	Name    string
	NORADID int

	Times  []time.Time
	Steps  []int
	Lats   []float64
	Lons   []float64
	Alts   []float64
	Speeds []float64

	Gaps int // steps SGP4 could not resolve
}

func newTrajectory(index int, name string, noradID, capacity int) *Trajectory {
	return &Trajectory{
		Index:   index,
		Name:    name,
		NORADID: noradID,
		Times:   make([]time.Time, 0, capacity),
		Steps:   make([]int, 0, capacity),
		Lats:    make([]float64, 0, capacity),
		Lons:    make([]float64, 0, capacity),
		Alts:    make([]float64, 0, capacity),
		Speeds:  make([]float64, 0, capacity),
	}
}

func (t *Trajectory) add(s Sample) {
	t.Times = append(t.Times, s.Time)
	t.Steps = append(t.Steps, s.Step)
	t.Lats = append(t.Lats, s.Latitude)
	t.Lons = append(t.Lons, s.Longitude)
	t.Alts = append(t.Alts, s.Altitude)
	t.Speeds = append(t.Speeds, s.Speed)
}

// Len returns the number of samples.
func (t *Trajectory) Len() int {
	return len(t.Times)
}

// Sample returns sample i.
func (t *Trajectory) Sample(i int) Sample {
	return Sample{
		Time:      t.Times[i],
		Step:      t.Steps[i],
		Latitude:  t.Lats[i],
		Longitude: t.Lons[i],
		Altitude:  t.Alts[i],
		Speed:     t.Speeds[i],
	}
}

// Samples returns the per-sample view of the arrays.
func (t *Trajectory) Samples() []Sample {
	out := make([]Sample, t.Len())
	for i := range out {
		out[i] = t.Sample(i)
	}
	return out
}
