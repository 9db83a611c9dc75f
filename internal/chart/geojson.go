package chart

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/star/orbitviz/internal/propagation"
)

// GroundTrackGeoJSON returns the ground track as a feature collection holding
// one MultiLineString, split where the track crosses the antimeridian.
func GroundTrackGeoJSON(traj *propagation.Trajectory) *geojson.FeatureCollection {
	var mls orb.MultiLineString
	for _, seg := range splitAntimeridian(traj.Lons) {
		ls := make(orb.LineString, 0, seg[1]-seg[0])
		for i := seg[0]; i < seg[1]; i++ {
			ls = append(ls, orb.Point{traj.Lons[i], traj.Lats[i]})
		}
		mls = append(mls, ls)
	}

	f := geojson.NewFeature(mls)
	f.Properties["name"] = traj.Name
	f.Properties["index"] = traj.Index
	f.Properties["norad_id"] = traj.NORADID
	f.Properties["samples"] = traj.Len()
	f.Properties["gaps"] = traj.Gaps
	if traj.Len() > 0 {
		f.Properties["start"] = traj.Times[0].UTC()
		f.Properties["end"] = traj.Times[traj.Len()-1].UTC()
	}

	fc := geojson.NewFeatureCollection()
	fc.Append(f)
	return fc
}
