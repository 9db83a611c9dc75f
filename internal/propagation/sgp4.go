package propagation

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
	"github.com/star/orbitviz/internal/transform"
)

// SGP4 comes from github.com/joshuaferrara/go-satellite: pure Go, TEME output.
//
// The library parses element fields with log.Fatal on error and slices lines
// without bounds checks, so every field it reads is checked here first.
// Propagate takes the Satellite by value, which hides per-call error codes;
// failures are detected from the output instead.

// ErrNoPosition is returned when SGP4 yields no usable position for a time
// (decayed orbit, NaN output, or a non-physical radius).
var ErrNoPosition = errors.New("no position")

// InitError reports a record whose SGP4 model could not be initialised.
type InitError struct {
	Index int
	Name  string
	Err   error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("sgp4 init for record %d (%s): %v", e.Index, e.Name, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// SGP4Propagator wraps an initialised go-satellite model. It holds no mutable
// state and is safe for concurrent use.
type SGP4Propagator struct {
	sat satellite.Satellite
}

// NewSGP4Propagator initialises an SGP4 model from two element lines.
func NewSGP4Propagator(line1, line2 string) (*SGP4Propagator, error) {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)
	if err := validateTLELines(line1, line2); err != nil {
		return nil, err
	}

	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS84)
	if sat.Error != 0 {
		return nil, fmt.Errorf("sgp4 init failed: code=%d %s", sat.Error, sat.ErrorStr)
	}
	return &SGP4Propagator{sat: sat}, nil
}

// field is a column range the library parses, with the transform it applies.
type field struct {
	line       int
	start, end int
	name       string
	build      func(s string) string
}

var checkedFields = []field{
	{1, 2, 7, "catalog number", strings.TrimSpace},
	{1, 18, 20, "epoch year", keep},
	{1, 20, 32, "epoch day", keep},
	{1, 33, 43, "mean motion dot", stripSpaces},
	{1, 44, 52, "mean motion ddot", func(s string) string { return stripSpaces(s[:1] + "." + s[1:6] + "e" + s[6:8]) }},
	{1, 53, 61, "bstar", func(s string) string { return stripSpaces(s[:1] + "." + s[1:6] + "e" + s[6:8]) }},
	{2, 8, 16, "inclination", stripSpaces},
	{2, 17, 25, "raan", stripSpaces},
	{2, 26, 33, "eccentricity", func(s string) string { return "." + s }},
	{2, 34, 42, "argument of perigee", stripSpaces},
	{2, 43, 51, "mean anomaly", stripSpaces},
	{2, 52, 63, "mean motion", stripSpaces},
}

func keep(s string) string { return s }

func stripSpaces(s string) string { return strings.ReplaceAll(s, " ", "") }

// validateTLELines checks the line shape and every numeric field go-satellite
// will parse.
func validateTLELines(line1, line2 string) error {
	if len(line1) < 69 {
		return fmt.Errorf("line1 length %d, expected 69", len(line1))
	}
	if len(line2) < 69 {
		return fmt.Errorf("line2 length %d, expected 69", len(line2))
	}
	if line1[0] != '1' {
		return fmt.Errorf("line1 must start with '1', got '%c'", line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("line2 must start with '2', got '%c'", line2[0])
	}

	for _, f := range checkedFields {
		line := line1
		if f.line == 2 {
			line = line2
		}
		s := f.build(line[f.start:f.end])
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return fmt.Errorf("line%d %s %q: not a number", f.line, f.name, line[f.start:f.end])
		}
	}
	return nil
}

// Propagate returns the TEME state at t. go-satellite resolves whole seconds;
// the sub-second part of t is dropped.
func (p *SGP4Propagator) Propagate(t time.Time) (transform.PositionTEME, error) {
	t = t.UTC()
	pos, vel := satellite.Propagate(p.sat, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())

	for _, v := range []float64{pos.X, pos.Y, pos.Z, vel.X, vel.Y, vel.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return transform.PositionTEME{}, fmt.Errorf("%w: output is NaN/Inf", ErrNoPosition)
		}
	}

	return transform.PositionTEME{
		X:  pos.X,
		Y:  pos.Y,
		Z:  pos.Z,
		VX: vel.X,
		VY: vel.Y,
		VZ: vel.Z,
	}, nil
}
