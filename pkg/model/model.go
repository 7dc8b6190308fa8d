// Package model holds the data types shared across the map-matching pipeline:
// observations coming in, projected/candidate records flowing through the
// lattice, and the column structure the Viterbi core builds.
package model

import "time"

// Observation is a single GPS fix: longitude/latitude in WGS84 degrees,
// speed in meters per second, and heading in degrees clockwise from north.
// Timestamp is optional and used only for logging correlation, never scoring.
type Observation struct {
	Lon       float64
	Lat       float64
	Speed     float64
	Heading   float64
	Timestamp time.Time
}

// Projected is a planar point in the Web-Mercator-equivalent frame all
// distance and geometry math happens in.
type Projected struct {
	X float64
	Y float64
}

// Candidate is a road segment considered for one observation. Candidates are
// constructed fresh at each DP step and never mutated afterward; backtracking
// relies on that immutability.
type Candidate struct {
	SegmentID int64
	Polyline  []Projected
	Oneway    bool

	// Projection is the point on Polyline closest to the observation.
	Projection Projected
	// VertexIndex is the index of the polyline vertex starting the matched
	// sub-segment (Polyline[VertexIndex], Polyline[VertexIndex+1]).
	VertexIndex int
	// T is the parametric position of Projection within that sub-segment, in [0,1].
	T float64
	// Bearing is the tangent bearing of the matched sub-segment, degrees.
	Bearing float64
	// Distance is the perpendicular distance from the observation's
	// projected point to Projection, in meters.
	Distance float64

	// SpeedLimitKPH is the posted speed limit for the segment, when known.
	// Zero means "no data"; the emission scorer treats that as compatible.
	SpeedLimitKPH float64
}

// Column is the Viterbi lattice state at one DP step: candidates paired with
// their log-probabilities and backpointers into the previous real column.
type Column struct {
	// ObservationIndex is the index into the original observation slice this
	// column was built from.
	ObservationIndex int
	Candidates       []Candidate
	LogProbs         []float64
	// Backptrs[i] is the index of the candidate in the previous real column
	// that best explains Candidates[i], or -1 if none.
	Backptrs []int
	// Anchor is the observation's projected point, used as p_prev by the
	// next real column's transition scoring.
	Anchor Projected
}
