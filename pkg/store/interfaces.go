// Package store wraps the SQLite-backed spatial index of road segments: a
// bounding-box query against an R*Tree virtual table, WKB geometry decode,
// and an in-memory tile-keyed prefetch cache in front of it.
package store

import (
	"context"

	"mapmatch/pkg/model"
)

// Segment is one road polyline as loaded from the spatial store, still in
// geodesic WGS84 coordinates (candidates.Query re-projects it).
type Segment struct {
	SegmentID     int64
	Oneway        bool
	SpeedLimitKPH float64
	Line          []model.Projected // lon/lat pairs, NOT yet projected
}

// BBox is an axis-aligned bounding box in the projected (Mercator) frame.
type BBox struct {
	MinX, MaxX float64
	MinY, MaxY float64
}

// SegmentStore is the read side of the spatial store the candidate provider
// depends on.
type SegmentStore interface {
	// QueryBBox returns every segment whose bounding box intersects box.
	QueryBBox(ctx context.Context, box BBox) ([]Segment, error)
	Close() error
}

// SegmentWriter is the write side used by the road-network importer.
type SegmentWriter interface {
	// InsertSegment stores one segment's geodesic polyline plus its
	// projected-frame bounding box (so the R*Tree index stays in the same
	// frame the matcher queries in).
	InsertSegment(ctx context.Context, segmentID int64, oneway bool, speedLimitKPH float64, lonLat []model.Projected, box BBox) error
	RecordImportRun(ctx context.Context, source string, segmentCount int) error
}
