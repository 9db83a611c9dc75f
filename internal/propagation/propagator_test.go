package propagation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/star/orbitviz/internal/tle"
	"github.com/star/orbitviz/internal/transform"
)

// ISS elements near epoch 2024-04-09 12:00 UTC.
const (
	issLine1 = "1 25544U 98067A   24100.50000000  .00016717  00000-0  10270-3 0  9005"
	issLine2 = "2 25544  51.6400 100.0000 0001000   0.0000   0.0000 15.50000000    09"
)

// Starlink TLE (typical LEO constellation satellite).
const (
	starlinkLine1 = "1 44713U 19074A   24100.50000000  .00001000  00000-0  10000-4 0  9995"
	starlinkLine2 = "2 44713  53.0000 200.0000 0001500  90.0000 270.0000 15.06000000    05"
)

var testStart = time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testDataset() *tle.Dataset {
	return &tle.Dataset{
		Source:   "test",
		LoadedAt: testStart,
		Records: []tle.SatelliteRecord{
			{Index: 0, Name: "ISS (ZARYA)", Line1: issLine1, Line2: issLine2, NORADID: 25544},
			{Index: 1, Name: "STARLINK-1007", Line1: starlinkLine1, Line2: starlinkLine2, NORADID: 44713},
			{Index: 2, Name: "BROKEN", Line1: "1 garbage", Line2: "2 garbage"},
		},
	}
}

func TestPropagateSingle(t *testing.T) {
	prop, err := NewSGP4Propagator(issLine1, issLine2)
	if err != nil {
		t.Fatalf("NewSGP4Propagator failed: %v", err)
	}

	teme, err := prop.Propagate(testStart)
	if err != nil {
		t.Fatalf("Propagate failed: %v", err)
	}

	// ~6371 + 420 km.
	mag := math.Sqrt(teme.X*teme.X + teme.Y*teme.Y + teme.Z*teme.Z)
	if mag < 6500 || mag > 7000 {
		t.Errorf("TEME position magnitude = %.1f km, expected ~6791 km", mag)
	}

	ecef := transform.TEMEToECEF(teme, testStart)
	if !transform.ValidateECEF(ecef) {
		t.Errorf("ECEF position failed validation: [%.1f, %.1f, %.1f] m", ecef.X, ecef.Y, ecef.Z)
	}
}

func TestNewSGP4PropagatorRejectsBadLines(t *testing.T) {
	tests := []struct {
		name         string
		line1, line2 string
	}{
		{"short", "1 25544U", "2 25544"},
		{"swapped", issLine2, issLine1},
		{"bad inclination", issLine1, "2 25544  51.64x0 100.0000 0001000   0.0000   0.0000 15.50000000    09"},
		{"bad epoch", "1 25544U 98067A   24abc.50000000  .00016717  00000-0  10270-3 0  9005", issLine2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSGP4Propagator(tt.line1, tt.line2); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestTrajectoryShape(t *testing.T) {
	p := NewPropagator(DefaultConfig(), testLogger())
	traj, err := p.Trajectory(context.Background(), testDataset(), 0, testStart)
	if err != nil {
		t.Fatalf("Trajectory failed: %v", err)
	}

	if traj.Len() != 121 {
		t.Fatalf("samples = %d, want 121", traj.Len())
	}
	for name, n := range map[string]int{
		"Steps":  len(traj.Steps),
		"Lats":   len(traj.Lats),
		"Lons":   len(traj.Lons),
		"Alts":   len(traj.Alts),
		"Speeds": len(traj.Speeds),
	} {
		if n != traj.Len() {
			t.Errorf("len(%s) = %d, want %d", name, n, traj.Len())
		}
	}
	if traj.Gaps != 0 {
		t.Errorf("gaps = %d, want 0", traj.Gaps)
	}
	if traj.Name != "ISS (ZARYA)" || traj.NORADID != 25544 {
		t.Errorf("identity = %q/%d", traj.Name, traj.NORADID)
	}

	for i := 0; i < traj.Len(); i++ {
		s := traj.Sample(i)
		if s.Step != i {
			t.Fatalf("sample %d has step %d", i, s.Step)
		}
		if want := testStart.Add(time.Duration(i) * time.Minute); !s.Time.Equal(want) {
			t.Fatalf("sample %d time = %v, want %v", i, s.Time, want)
		}
		if s.Altitude < 350e3 || s.Altitude > 480e3 {
			t.Errorf("sample %d altitude = %.0f m, want ISS range", i, s.Altitude)
		}
		if s.Speed < 7000 || s.Speed > 8000 {
			t.Errorf("sample %d speed = %.0f m/s, want 7000-8000", i, s.Speed)
		}
		if math.Abs(s.Latitude) > 52.5 {
			t.Errorf("sample %d latitude %.2f exceeds inclination", i, s.Latitude)
		}
		if s.Longitude < -180 || s.Longitude > 180 {
			t.Errorf("sample %d longitude %.2f out of range", i, s.Longitude)
		}
	}
}

func TestTrajectoryStartTruncatedToSecond(t *testing.T) {
	p := NewPropagator(Config{Steps: 2}, testLogger())
	traj, err := p.Trajectory(context.Background(), testDataset(), 1, testStart.Add(750*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if !traj.Times[0].Equal(testStart) {
		t.Errorf("first time = %v, want %v", traj.Times[0], testStart)
	}
	if traj.Len() != 3 {
		t.Errorf("samples = %d, want 3", traj.Len())
	}
}

func TestTrajectoryInitError(t *testing.T) {
	p := NewPropagator(DefaultConfig(), testLogger())
	_, err := p.Trajectory(context.Background(), testDataset(), 2, testStart)

	var initErr *InitError
	if !errors.As(err, &initErr) {
		t.Fatalf("err = %v, want *InitError", err)
	}
	if initErr.Index != 2 || initErr.Name != "BROKEN" {
		t.Errorf("InitError = %+v", initErr)
	}
}

func TestTrajectoryOutOfRange(t *testing.T) {
	p := NewPropagator(DefaultConfig(), testLogger())
	if _, err := p.Trajectory(context.Background(), testDataset(), 9, testStart); err == nil {
		t.Error("expected error for missing record")
	}
}

func TestTrajectoriesOrderAndSkip(t *testing.T) {
	p := NewPropagator(Config{Workers: 3, Steps: 10}, testLogger())
	trajs, err := p.Trajectories(context.Background(), testDataset(), []int{1, 2, 0}, testStart)
	if err != nil {
		t.Fatalf("Trajectories failed: %v", err)
	}
	if len(trajs) != 2 {
		t.Fatalf("trajectories = %d, want 2 (broken record skipped)", len(trajs))
	}
	if trajs[0].Index != 1 || trajs[1].Index != 0 {
		t.Errorf("order = [%d %d], want [1 0]", trajs[0].Index, trajs[1].Index)
	}
}

func TestTrajectoriesCancelled(t *testing.T) {
	p := NewPropagator(DefaultConfig(), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Trajectories(ctx, testDataset(), []int{0, 1}, testStart)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestModelCacheReusedPerDataset(t *testing.T) {
	p := NewPropagator(DefaultConfig(), testLogger())
	ds := testDataset()

	first := p.models(ds)
	second := p.models(ds)
	if &first[0] != &second[0] {
		t.Error("models rebuilt for the same dataset")
	}

	third := p.models(testDataset())
	if &first[0] == &third[0] {
		t.Error("models not rebuilt for a new dataset")
	}
}

// flaky fails at the listed steps relative to start.
type flaky struct {
	inner *SGP4Propagator
	start time.Time
	fail  map[int]bool
}

func (f flaky) Propagate(t time.Time) (transform.PositionTEME, error) {
	if f.fail[int(t.Sub(f.start)/time.Minute)] {
		return transform.PositionTEME{}, ErrNoPosition
	}
	return f.inner.Propagate(t)
}

// fixed always reports the same TEME state.
type fixed transform.PositionTEME

func (f fixed) Propagate(time.Time) (transform.PositionTEME, error) {
	return transform.PositionTEME(f), nil
}

func TestSampleRejectsOutOfRangePosition(t *testing.T) {
	tests := []struct {
		name string
		pos  fixed
	}{
		{"inside earth", fixed{X: 100}},
		{"beyond range", fixed{X: 60000}},
		{"non finite", fixed{X: math.Inf(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := sampleAt(tt.pos, testStart, 0); !errors.Is(err, ErrNoPosition) {
				t.Errorf("err = %v, want ErrNoPosition", err)
			}
		})
	}

	s, err := sampleAt(fixed{X: 6778, VY: 7.67}, testStart, 3)
	if err != nil {
		t.Fatalf("sampleAt failed: %v", err)
	}
	if s.Step != 3 || s.Altitude < 390e3 || s.Altitude > 420e3 {
		t.Errorf("sample = %+v", s)
	}
}

func TestGapPolicies(t *testing.T) {
	sp, err := NewSGP4Propagator(issLine1, issLine2)
	if err != nil {
		t.Fatal(err)
	}
	pos := flaky{inner: sp, start: testStart, fail: map[int]bool{0: true, 3: true, 4: true}}
	rec := testDataset().Records[0]

	t.Run("compact", func(t *testing.T) {
		p := NewPropagator(Config{Steps: 6, GapPolicy: GapCompact}, testLogger())
		traj, err := p.run(context.Background(), rec, pos, testStart)
		if err != nil {
			t.Fatal(err)
		}
		if traj.Gaps != 3 {
			t.Errorf("gaps = %d, want 3", traj.Gaps)
		}
		want := []int{1, 2, 5, 6}
		if len(traj.Steps) != len(want) {
			t.Fatalf("steps = %v, want %v", traj.Steps, want)
		}
		for i := range want {
			if traj.Steps[i] != want[i] {
				t.Errorf("steps = %v, want %v", traj.Steps, want)
				break
			}
		}
	})

	t.Run("pad", func(t *testing.T) {
		p := NewPropagator(Config{Steps: 6, GapPolicy: GapPad}, testLogger())
		traj, err := p.run(context.Background(), rec, pos, testStart)
		if err != nil {
			t.Fatal(err)
		}
		if traj.Gaps != 3 {
			t.Errorf("gaps = %d, want 3", traj.Gaps)
		}
		// Leading gap dropped, 3 and 4 padded from 2.
		if traj.Len() != 6 {
			t.Fatalf("samples = %d, want 6", traj.Len())
		}
		for i, s := range traj.Samples() {
			if s.Step != i+1 {
				t.Errorf("sample %d step = %d, want %d", i, s.Step, i+1)
			}
		}
		if traj.Lats[2] != traj.Lats[1] || traj.Lats[3] != traj.Lats[1] {
			t.Errorf("padded latitudes = %v", traj.Lats)
		}
		if !traj.Times[3].Equal(testStart.Add(4 * time.Minute)) {
			t.Errorf("padded sample time = %v", traj.Times[3])
		}
	})
}

func TestParseGapPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    GapPolicy
		wantErr bool
	}{
		{"", GapCompact, false},
		{"compact", GapCompact, false},
		{"pad", GapPad, false},
		{"interpolate", "", true},
	}
	for _, tt := range tests {
		got, err := ParseGapPolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseGapPolicy(%q) err = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseGapPolicy(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWorkerPoolPreservesOrder(t *testing.T) {
	wp := NewWorkerPool(4, testLogger())
	indices := []int{7, 3, 9, 1, 5, 0}

	results := wp.Run(context.Background(), indices, func(_ context.Context, index int) (*Trajectory, error) {
		// Larger indices finish first.
		time.Sleep(time.Duration(10-index) * time.Millisecond)
		return &Trajectory{Index: index}, nil
	})

	for i, res := range results {
		if res.err != nil {
			t.Fatalf("slot %d: %v", i, res.err)
		}
		if res.traj.Index != indices[i] {
			t.Errorf("slot %d = %d, want %d", i, res.traj.Index, indices[i])
		}
	}
}

func TestWorkerPoolEmpty(t *testing.T) {
	wp := NewWorkerPool(0, testLogger())
	if got := wp.Run(context.Background(), nil, nil); len(got) != 0 {
		t.Errorf("results = %d, want 0", len(got))
	}
}
