package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"mapmatch/pkg/db"
	"mapmatch/pkg/geo"
	"mapmatch/pkg/model"
	"mapmatch/pkg/store"
)

func openTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	d, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return store.NewSQLiteStore(d)
}

func TestInsertAndQueryBBox(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	lonLat := []model.Projected{{X: -0.1, Y: 51.5}, {X: -0.09, Y: 51.51}}
	a := geo.Project(lonLat[0].X, lonLat[0].Y)
	b := geo.Project(lonLat[1].X, lonLat[1].Y)
	box := store.BBox{
		MinX: min(a.X, b.X) - 1, MaxX: max(a.X, b.X) + 1,
		MinY: min(a.Y, b.Y) - 1, MaxY: max(a.Y, b.Y) + 1,
	}

	if err := s.InsertSegment(ctx, 42, true, 50, lonLat, box); err != nil {
		t.Fatalf("InsertSegment: %v", err)
	}

	got, err := s.QueryBBox(ctx, box)
	if err != nil {
		t.Fatalf("QueryBBox: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d segments, want 1", len(got))
	}
	if got[0].SegmentID != 42 {
		t.Errorf("SegmentID = %d, want 42", got[0].SegmentID)
	}
	if !got[0].Oneway {
		t.Error("Oneway = false, want true")
	}
	if len(got[0].Line) != 2 {
		t.Fatalf("Line has %d points, want 2", len(got[0].Line))
	}
}

func TestQueryBBoxFiltersNonPositiveSegmentID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	lonLat := []model.Projected{{X: 0, Y: 0}, {X: 0.01, Y: 0.01}}
	box := store.BBox{MinX: -1e7, MaxX: 1e7, MinY: -1e7, MaxY: 1e7}

	if err := s.InsertSegment(ctx, -5, false, 0, lonLat, box); err != nil {
		t.Fatalf("InsertSegment: %v", err)
	}

	got, err := s.QueryBBox(ctx, box)
	if err != nil {
		t.Fatalf("QueryBBox: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d segments, want 0 (negative segment_id filtered)", len(got))
	}
}

func TestQueryBBoxOutsideBoxReturnsEmpty(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	lonLat := []model.Projected{{X: 0, Y: 0}, {X: 0.01, Y: 0.01}}
	box := store.BBox{MinX: -100, MaxX: 100, MinY: -100, MaxY: 100}
	if err := s.InsertSegment(ctx, 1, false, 0, lonLat, box); err != nil {
		t.Fatalf("InsertSegment: %v", err)
	}

	far := store.BBox{MinX: 1e8, MaxX: 1e8 + 1, MinY: 1e8, MaxY: 1e8 + 1}
	got, err := s.QueryBBox(ctx, far)
	if err != nil {
		t.Fatalf("QueryBBox: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d segments, want 0", len(got))
	}
}

func TestRecordImportRun(t *testing.T) {
	s := openTestStore(t)
	if err := s.RecordImportRun(context.Background(), "test.shp", 10); err != nil {
		t.Fatalf("RecordImportRun: %v", err)
	}
}
