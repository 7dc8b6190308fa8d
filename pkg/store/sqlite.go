package store

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"mapmatch/pkg/db"
	"mapmatch/pkg/model"
)

// Error wraps a storage failure. Fatal marks conditions the matcher cannot
// recover from (spec.md's "underlying storage errors propagate as a fatal
// kind").
type Error struct {
	Op    string
	Err   error
	Fatal bool
}

func (e *Error) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// SQLiteStore implements SegmentStore and SegmentWriter against the
// segments/rtree_segments_geometry tables created by pkg/db.
type SQLiteStore struct {
	db *db.DB
}

// NewSQLiteStore wraps an already-migrated *db.DB.
func NewSQLiteStore(d *db.DB) *SQLiteStore {
	return &SQLiteStore{db: d}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// QueryBBox returns every segment whose projected-frame bounding box
// intersects box, read-only against the R*Tree index.
func (s *SQLiteStore) QueryBBox(ctx context.Context, box BBox) ([]Segment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT segment_id, oneway, speed_limit_kph, geometry
		FROM segments
		WHERE id IN (
			SELECT id FROM rtree_segments_geometry
			WHERE minX <= ? AND maxX >= ? AND minY <= ? AND maxY >= ?
		)`, box.MaxX, box.MinX, box.MaxY, box.MinY)
	if err != nil {
		return nil, &Error{Op: "QueryBBox", Err: err, Fatal: true}
	}
	defer rows.Close()

	var segments []Segment
	for rows.Next() {
		var segID int64
		var onewayInt int
		var speedLimit float64
		var geomBytes []byte
		if err := rows.Scan(&segID, &onewayInt, &speedLimit, &geomBytes); err != nil {
			return nil, &Error{Op: "QueryBBox scan", Err: err, Fatal: true}
		}
		if segID <= 0 {
			continue
		}

		geom, err := wkb.Unmarshal(geomBytes)
		if err != nil {
			return nil, &Error{Op: "QueryBBox decode geometry", Err: err, Fatal: true}
		}
		line, ok := geom.(orb.LineString)
		if !ok {
			return nil, &Error{Op: "QueryBBox decode geometry", Err: fmt.Errorf("segment %d: expected LINESTRING, got %T", segID, geom), Fatal: true}
		}

		points := make([]model.Projected, len(line))
		for i, pt := range line {
			points[i] = model.Projected{X: pt[0], Y: pt[1]}
		}

		segments = append(segments, Segment{
			SegmentID:     segID,
			Oneway:        onewayInt != 0,
			SpeedLimitKPH: speedLimit,
			Line:          points,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "QueryBBox rows", Err: err, Fatal: true}
	}

	return segments, nil
}

// InsertSegment stores a segment's geodesic polyline and its projected-frame
// bounding box, keeping the R*Tree row id in sync with the segments row id.
func (s *SQLiteStore) InsertSegment(ctx context.Context, segmentID int64, oneway bool, speedLimitKPH float64, lonLat []model.Projected, box BBox) error {
	line := make(orb.LineString, len(lonLat))
	for i, p := range lonLat {
		line[i] = orb.Point{p.X, p.Y}
	}
	geomBytes, err := wkb.Marshal(line)
	if err != nil {
		return &Error{Op: "InsertSegment encode geometry", Err: err, Fatal: true}
	}

	onewayInt := 0
	if oneway {
		onewayInt = 1
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO segments (segment_id, oneway, speed_limit_kph, geometry) VALUES (?, ?, ?, ?)`,
		segmentID, onewayInt, speedLimitKPH, geomBytes)
	if err != nil {
		return &Error{Op: "InsertSegment", Err: err, Fatal: true}
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return &Error{Op: "InsertSegment last insert id", Err: err, Fatal: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rtree_segments_geometry (id, minX, maxX, minY, maxY) VALUES (?, ?, ?, ?, ?)`,
		rowID, box.MinX, box.MaxX, box.MinY, box.MaxY)
	if err != nil {
		return &Error{Op: "InsertSegment rtree", Err: err, Fatal: true}
	}

	return nil
}

// RecordImportRun appends a row to import_runs for audit purposes.
func (s *SQLiteStore) RecordImportRun(ctx context.Context, source string, segmentCount int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO import_runs (source, segment_count) VALUES (?, ?)`, source, segmentCount)
	if err != nil {
		return &Error{Op: "RecordImportRun", Err: err, Fatal: true}
	}
	return nil
}
