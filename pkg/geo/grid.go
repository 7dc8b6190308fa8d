package geo

import "github.com/uber/h3-go/v4"

// DefaultH3Resolution is the coarse grid resolution used to tag trace log
// lines with the H3 cell an observation falls in, so a trace of a noisy
// stretch of a trace can be grouped by area without pulling in a full
// tile-query log line per step. Resolution 7 cells are roughly 1-2km across.
const DefaultH3Resolution = 7

// CellID returns the H3 cell index containing (lat, lon) at resolution.
// Returns the zero value ("") if the coordinate cannot be indexed.
func CellID(lat, lon float64, resolution int) string {
	ll := h3.NewLatLng(lat, lon)
	cell, err := h3.LatLngToCell(ll, resolution)
	if err != nil {
		return ""
	}
	return cell.String()
}
