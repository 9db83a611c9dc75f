// Package scene builds the 3D globe scene and drives its animation.
//
// Scene units: the Earth is a sphere of radius EarthRadius, and altitudes are
// scaled down by AltitudeScale before being added to it. Longitude is negated
// so the scene's right-handed axes match the texture orientation.
package scene

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	EarthRadius       = 2.0       // scene units
	AltitudeScale     = 1_000_000 // meters per scene unit above the surface
	HorizonFrames     = 120       // frames per animation cycle
	SpeedFactor       = 0.05      // frames advanced per tick
	EarthRotationStep = 0.0005    // radians per tick
	FootprintLift     = 0.01      // footprint height above the surface
)

// ToScene converts geodetic degrees and meters to scene coordinates.
func ToScene(latDeg, lonDeg, altM float64) mgl64.Vec3 {
	lat := mgl64.DegToRad(latDeg)
	lon := mgl64.DegToRad(lonDeg)
	r := EarthRadius + altM/AltitudeScale
	return mgl64.Vec3{
		r * math.Cos(lat) * math.Cos(lon),
		r * math.Sin(lat),
		r * math.Cos(lat) * math.Sin(-lon),
	}
}

// FromScene inverts ToScene.
func FromScene(v mgl64.Vec3) (latDeg, lonDeg, altM float64) {
	r := v.Len()
	if r == 0 {
		return 0, 0, -EarthRadius * AltitudeScale
	}
	latDeg = mgl64.RadToDeg(math.Asin(mgl64.Clamp(v.Y()/r, -1, 1)))
	lonDeg = mgl64.RadToDeg(math.Atan2(-v.Z(), v.X()))
	altM = (r - EarthRadius) * AltitudeScale
	return latDeg, lonDeg, altM
}

// FootprintRadius returns the radius of the visible cap under a satellite at
// altM: R·sin(acos(R/(R+alt))). It is 0 at the surface and tends to R.
func FootprintRadius(altM float64) float64 {
	cosTheta := EarthRadius / (EarthRadius + altM/AltitudeScale)
	theta := math.Acos(mgl64.Clamp(cosTheta, -1, 1))
	return EarthRadius * math.Sin(theta)
}

// footprintOrientation rotates the disc's +Z normal onto the direction from
// the ground point to the satellite.
func footprintOrientation(ground, sat mgl64.Vec3) mgl64.Quat {
	dir := sat.Sub(ground)
	if dir.Len() == 0 {
		dir = sat
	}
	z := mgl64.Vec3{0, 0, 1}
	dir = dir.Normalize()

	cos := mgl64.Clamp(z.Dot(dir), -1, 1)
	axis := z.Cross(dir)
	switch {
	case axis.Len() > 1e-12:
		return mgl64.QuatRotate(math.Acos(cos), axis.Normalize())
	case cos > 0:
		return mgl64.QuatIdent()
	default:
		return mgl64.QuatRotate(math.Pi, mgl64.Vec3{1, 0, 0})
	}
}
