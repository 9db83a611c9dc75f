// Package transform converts SGP4 output into Earth-fixed and geodetic
// coordinates.
//
// The chain is TEME (SGP4 output, km) -> ECEF (metres, GMST-only rotation) ->
// geodetic WGS-84 latitude/longitude/height. The TEME -> ECEF step ignores
// polar motion and the equation of the equinoxes; the resulting error is tens
// of metres, far below what a chart or a 2-unit globe can show.
//
// Reference: Vallado, "Fundamentals of Astrodynamics and Applications", Ch. 3.
package transform

import (
	"math"
	"time"
)

// PositionTEME is a state vector in the TEME frame.
type PositionTEME struct {
	X, Y, Z    float64 // km
	VX, VY, VZ float64 // km/s
}

// Speed returns the inertial speed in m/s.
func (p PositionTEME) Speed() float64 {
	return math.Sqrt(p.VX*p.VX+p.VY*p.VY+p.VZ*p.VZ) * 1000.0
}

// PositionECEF is a state vector in the Earth-fixed frame.
type PositionECEF struct {
	X, Y, Z    float64 // meters
	VX, VY, VZ float64 // m/s
}

// TEMEToECEF rotates a TEME state into ECEF at UTC time t.
func TEMEToECEF(teme PositionTEME, t time.Time) PositionECEF {
	return TEMEToECEFWithGMST(teme, GMST(t))
}

// TEMEToECEFWithGMST rotates a TEME state into ECEF using a precomputed GMST
// angle in radians, converting km to m on the way.
//
//	r_ECEF = R3(θ) r_TEME
//	v_ECEF = R3(θ) v_TEME - ω × r_ECEF
func TEMEToECEFWithGMST(teme PositionTEME, gmst float64) PositionECEF {
	cosG := math.Cos(gmst)
	sinG := math.Sin(gmst)

	x := teme.X*cosG + teme.Y*sinG
	y := -teme.X*sinG + teme.Y*cosG
	z := teme.Z

	vx := teme.VX*cosG + teme.VY*sinG + OmegaEarth*y
	vy := -teme.VX*sinG + teme.VY*cosG - OmegaEarth*x
	vz := teme.VZ

	return PositionECEF{
		X:  x * 1000.0,
		Y:  y * 1000.0,
		Z:  z * 1000.0,
		VX: vx * 1000.0,
		VY: vy * 1000.0,
		VZ: vz * 1000.0,
	}
}

// ValidateECEF reports whether pos is finite and at an orbital radius between
// 6200 km and 50000 km.
func ValidateECEF(pos PositionECEF) bool {
	for _, v := range []float64{pos.X, pos.Y, pos.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}

	const (
		minRadius = 6200.0 * 1000.0
		maxRadius = 50000.0 * 1000.0
	)
	mag := math.Sqrt(pos.X*pos.X + pos.Y*pos.Y + pos.Z*pos.Z)
	return mag >= minRadius && mag <= maxRadius
}
