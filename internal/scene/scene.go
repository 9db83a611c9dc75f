package scene

import (
	"encoding/json"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/star/orbitviz/internal/propagation"
)

// Group is the static geometry of one satellite.
type Group struct {
	Index     int          `json:"index"`
	Name      string       `json:"name"`
	OrbitPath []mgl64.Vec3 `json:"orbitPath"`
	Altitudes []float64    `json:"altitudes"`
	Times     []time.Time  `json:"times"`
}

// Scene is the globe plus one group per trajectory.
type Scene struct {
	EarthRadius float64 `json:"earthRadius"`
	Texture     string  `json:"texture"`
	Groups      []Group `json:"groups"`
}

// Build converts trajectories into scene geometry.
func Build(trajs []*propagation.Trajectory) *Scene {
	s := &Scene{
		EarthRadius: EarthRadius,
		Texture:     "data/earth.jpg",
		Groups:      make([]Group, 0, len(trajs)),
	}
	for _, t := range trajs {
		g := Group{
			Index:     t.Index,
			Name:      t.Name,
			OrbitPath: make([]mgl64.Vec3, t.Len()),
			Altitudes: append([]float64(nil), t.Alts...),
			Times:     append([]time.Time(nil), t.Times...),
		}
		for i := range g.OrbitPath {
			g.OrbitPath[i] = ToScene(t.Lats[i], t.Lons[i], t.Alts[i])
		}
		s.Groups = append(s.Groups, g)
	}
	return s
}

// Footprint places the coverage disc under a marker.
type Footprint struct {
	Position    mgl64.Vec3
	Orientation mgl64.Quat
	Scale       mgl64.Vec3
}

// MarshalJSON writes the orientation as [x, y, z, w], the order three.js uses.
func (f Footprint) MarshalJSON() ([]byte, error) {
	q := f.Orientation
	return json.Marshal(struct {
		Position   mgl64.Vec3 `json:"position"`
		Quaternion [4]float64 `json:"quaternion"`
		Scale      mgl64.Vec3 `json:"scale"`
	}{f.Position, [4]float64{q.X(), q.Y(), q.Z(), q.W}, f.Scale})
}

// Marker is one satellite's state in a frame.
type Marker struct {
	Index     int        `json:"index"`
	Position  mgl64.Vec3 `json:"position"`
	Time      time.Time  `json:"time"`
	Footprint Footprint  `json:"footprint"`
}

// Frame is the scene state for one animation tick.
type Frame struct {
	Seq           uint64   `json:"seq"`
	Generation    uint64   `json:"generation"` // changes when the scene is rebuilt
	Index         int      `json:"index"`
	EarthRotation float64  `json:"earthRotation"`
	Markers       []Marker `json:"markers"`
}

// FrameAt returns the frame for fractional position pos. The position is
// floored; there is no interpolation. Groups with no sample at that index
// are left out of the frame.
func (s *Scene) FrameAt(pos, earthRotation float64) Frame {
	idx := int(math.Floor(pos))
	f := Frame{
		Index:         idx,
		EarthRotation: earthRotation,
		Markers:       make([]Marker, 0, len(s.Groups)),
	}
	if idx < 0 {
		return f
	}
	for _, g := range s.Groups {
		if idx >= len(g.OrbitPath) {
			continue
		}
		sat := g.OrbitPath[idx]
		ground := sat.Normalize().Mul(EarthRadius + FootprintLift)
		r := FootprintRadius(g.Altitudes[idx])
		f.Markers = append(f.Markers, Marker{
			Index:    g.Index,
			Position: sat,
			Time:     g.Times[idx],
			Footprint: Footprint{
				Position:    ground,
				Orientation: footprintOrientation(ground, sat),
				Scale:       mgl64.Vec3{r, r, 1},
			},
		})
	}
	return f
}
