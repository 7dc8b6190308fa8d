// Package geo provides the pure, stateless geometry operations the
// map-matching pipeline needs: WGS84<->Mercator projection, point-to-segment
// distance and projection, bearing, and angular difference. Projection and
// Euclidean distance are built on orb; the segment projection, bearing and
// angle helpers are plain arithmetic.
package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"

	"mapmatch/pkg/model"
)

// Project converts a WGS84 lon/lat pair into the Web-Mercator-equivalent
// planar frame used everywhere else in this package.
func Project(lon, lat float64) model.Projected {
	p := project.Point(orb.Point{lon, lat}, project.WGS84.ToMercator)
	return model.Projected{X: p[0], Y: p[1]}
}

// Unproject is the inverse of Project.
func Unproject(p model.Projected) (lon, lat float64) {
	q := project.Point(orb.Point{p.X, p.Y}, project.Mercator.ToWGS84)
	return q[0], q[1]
}

// Distance returns the Euclidean distance between two projected points, in
// the same units as the projection (meters).
func Distance(a, b model.Projected) float64 {
	return planar.Distance(toOrb(a), toOrb(b))
}

// PointToSegment returns the closest point on segment ab to p, the
// parametric position t of that point within [0,1], and the perpendicular
// distance from p to it. A degenerate (zero-length) segment returns t=0 and
// the distance to a.
func PointToSegment(p, a, b model.Projected) (closest model.Projected, t float64, dist float64) {
	dx := b.X - a.X
	dy := b.Y - a.Y

	if dx == 0 && dy == 0 {
		return a, 0, Distance(p, a)
	}

	t = ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / (dx*dx + dy*dy)
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}

	closest = model.Projected{X: a.X + t*dx, Y: a.Y + t*dy}
	return closest, t, Distance(p, closest)
}

// Bearing returns the tangent bearing from a to b in degrees, clockwise from
// north, in [0,360). ok is false when a == b, in which case the returned
// bearing is 0 and callers must treat it as undefined rather than meaningful.
func Bearing(a, b model.Projected) (bearing float64, ok bool) {
	if a == b {
		return 0, false
	}
	// In the projected frame, north is +Y and east is +X.
	angle := math.Atan2(b.X-a.X, b.Y-a.Y)
	deg := angle * 180.0 / math.Pi
	return math.Mod(deg+360.0, 360.0), true
}

// AngleDiff returns the smallest unsigned angular difference between h1 and
// h2, both in degrees, in the range [0,180].
func AngleDiff(h1, h2 float64) float64 {
	d := math.Mod(math.Abs(h1-h2), 360)
	if d > 180 {
		d = 360 - d
	}
	return d
}

func toOrb(p model.Projected) orb.Point {
	return orb.Point{p.X, p.Y}
}
