// Package candidates implements the candidate-provider component: given a
// GPS observation and a search radius, it returns the nearby road segments
// as projected-frame polylines with per-segment candidate attributes.
package candidates

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"mapmatch/pkg/geo"
	"mapmatch/pkg/logging"
	"mapmatch/pkg/model"
	"mapmatch/pkg/store"
)

// Provider queries a spatial store for segment candidates near an
// observation, consulting a tile-keyed cache before each fresh query.
type Provider struct {
	store        store.SegmentStore
	cache        *store.CellCache
	h3Resolution int
}

// NewProvider builds a Provider over store, using cache as its prefetch
// tier and h3Resolution to tag trace log lines with the observation's H3 cell.
func NewProvider(segStore store.SegmentStore, cache *store.CellCache, h3Resolution int) *Provider {
	return &Provider{store: segStore, cache: cache, h3Resolution: h3Resolution}
}

// Query projects obs, looks up segments within radius meters, and returns
// candidates sorted ascending by (distance, segment_id) and truncated to
// maxStates. An empty, non-error result means "no candidates found" — the
// caller decides the retry policy.
func (p *Provider) Query(ctx context.Context, obs model.Observation, radius float64, maxStates int) (model.Projected, []model.Candidate, error) {
	point := geo.Project(obs.Lon, obs.Lat)

	segments, err := p.segmentsNear(ctx, obs, point, radius)
	if err != nil {
		return point, nil, fmt.Errorf("candidates: query segments: %w", err)
	}

	candidates := make([]model.Candidate, 0, len(segments))
	for _, seg := range segments {
		if seg.SegmentID <= 0 {
			continue
		}

		polyline := make([]model.Projected, len(seg.Line))
		for i, ll := range seg.Line {
			polyline[i] = geo.Project(ll.X, ll.Y)
		}
		if len(polyline) < 2 {
			continue
		}

		closest, vertexIdx, t, dist := geo.ClosestPointOnPolyline(point, polyline)
		if dist > radius {
			continue
		}

		candidates = append(candidates, model.Candidate{
			SegmentID:     seg.SegmentID,
			Polyline:      polyline,
			Oneway:        seg.Oneway,
			Projection:    closest,
			VertexIndex:   vertexIdx,
			T:             t,
			Bearing:       geo.SegmentBearing(polyline, vertexIdx),
			Distance:      dist,
			SpeedLimitKPH: seg.SpeedLimitKPH,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Distance != candidates[j].Distance {
			return candidates[i].Distance < candidates[j].Distance
		}
		return candidates[i].SegmentID < candidates[j].SegmentID
	})

	if maxStates > 0 && len(candidates) > maxStates {
		candidates = candidates[:maxStates]
	}

	logging.Trace(slog.Default(), "candidates filtered",
		"lon", obs.Lon, "lat", obs.Lat, "radius", radius, "kept", len(candidates))
	return point, candidates, nil
}

// segmentsNear queries the store for segments around point, consulting the
// cache first. The cache is keyed by a radius-sized tile, not by the
// observation's own point: two observations that land in the same tile can
// sit anywhere within it, so the cached entry is populated from a box padded
// by a further radius on every side of the tile. That guarantees any point
// inside the tile has its own ±radius query box fully contained in the
// cached box, so a cache hit can never under-report candidates the way a
// cache keyed on a single observation's narrow ±radius box would for a
// different observation sharing the same coarse cell.
func (p *Provider) segmentsNear(ctx context.Context, obs model.Observation, point model.Projected, radius float64) ([]store.Segment, error) {
	tileX := math.Floor(point.X / radius)
	tileY := math.Floor(point.Y / radius)
	cacheKey := fmt.Sprintf("%.0f/%.0f/%.0f", tileX, tileY, radius)

	if cached, ok := p.cache.Get(cacheKey); ok {
		return cached, nil
	}

	tileMinX := tileX * radius
	tileMinY := tileY * radius
	box := store.BBox{
		MinX: tileMinX - radius, MaxX: tileMinX + 2*radius,
		MinY: tileMinY - radius, MaxY: tileMinY + 2*radius,
	}

	segments, err := p.store.QueryBBox(ctx, box)
	if err != nil {
		return nil, err
	}
	p.cache.Set(cacheKey, segments)

	logging.Trace(slog.Default(), "candidate tile query",
		"h3_cell", geo.CellID(obs.Lat, obs.Lon, p.h3Resolution),
		"tile_x", tileX, "tile_y", tileY, "radius", radius, "segments", len(segments))
	return segments, nil
}
