package geo

import "mapmatch/pkg/model"

// ClosestPointOnPolyline projects p onto every sub-segment of polyline and
// returns the overall closest point, the index of the sub-segment's first
// vertex, the parametric t within that sub-segment, and the perpendicular
// distance. polyline must have at least 2 points.
func ClosestPointOnPolyline(p model.Projected, polyline []model.Projected) (closest model.Projected, vertexIndex int, t float64, dist float64) {
	dist = -1
	for i := 0; i < len(polyline)-1; i++ {
		c, ct, cd := PointToSegment(p, polyline[i], polyline[i+1])
		if dist < 0 || cd < dist {
			closest, vertexIndex, t, dist = c, i, ct, cd
		}
	}
	return closest, vertexIndex, t, dist
}

// SegmentBearing returns the tangent bearing of polyline[idx] -> polyline[idx+1].
// Falls back to 0 for a degenerate (repeated-point) sub-segment.
func SegmentBearing(polyline []model.Projected, idx int) float64 {
	b, ok := Bearing(polyline[idx], polyline[idx+1])
	if !ok {
		return 0
	}
	return b
}
