// Command roadimport populates the mapmatch spatial store's segments table
// and R*Tree index from a road-network shapefile or a GeoJSON
// LineString/MultiLineString FeatureCollection. This is the "database
// provisioning" collaborator spec.md §6 treats as out of scope for the
// matcher's hot path, wired here as a concrete companion tool.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"mapmatch/pkg/db"
	"mapmatch/pkg/geo"
	"mapmatch/pkg/model"
	"mapmatch/pkg/store"
)

var (
	inputPath = flag.String("input", "", "path to the .shp or .geojson road network file")
	dbPath    = flag.String("db", "./data/roads.db", "path to the mapmatch spatial store")
)

func main() {
	flag.Parse()

	if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "-input is required")
		os.Exit(1)
	}

	if err := run(context.Background(), *inputPath, *dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "roadimport failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, inputPath, dbPath string) error {
	dbConn, err := db.Init(dbPath)
	if err != nil {
		return fmt.Errorf("open spatial store: %w", err)
	}
	defer dbConn.Close()

	segStore := store.NewSQLiteStore(dbConn)
	defer segStore.Close()

	var segments []importedSegment
	switch strings.ToLower(filepath.Ext(inputPath)) {
	case ".shp":
		segments, err = readShapefile(inputPath)
	case ".geojson", ".json":
		segments, err = readGeoJSON(inputPath)
	default:
		return fmt.Errorf("unsupported input extension: %s", filepath.Ext(inputPath))
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", inputPath, err)
	}

	imported := 0
	skipped := 0
	for _, seg := range segments {
		if seg.SegmentID <= 0 {
			skipped++
			continue
		}
		if len(seg.LonLat) < 2 {
			skipped++
			continue
		}

		box := boundingBox(seg.LonLat)
		if err := segStore.InsertSegment(ctx, seg.SegmentID, seg.Oneway, seg.SpeedLimitKPH, seg.LonLat, box); err != nil {
			return fmt.Errorf("insert segment %d: %w", seg.SegmentID, err)
		}
		imported++
	}

	if skipped > 0 {
		slog.Warn("skipped segments during import", "count", skipped, "reason", "non-positive segment_id or degenerate geometry")
	}

	if err := segStore.RecordImportRun(ctx, inputPath, imported); err != nil {
		return fmt.Errorf("record import run: %w", err)
	}

	fmt.Printf("imported %d segments from %s (%d skipped)\n", imported, inputPath, skipped)
	return nil
}

// importedSegment is the intermediate form both readers produce before
// bounding-box computation and insertion.
type importedSegment struct {
	SegmentID     int64
	Oneway        bool
	SpeedLimitKPH float64
	LonLat        []model.Projected
}

// boundingBox computes a segment's bounding box in the same projected frame
// the matcher's R*Tree index is queried in, per spec.md §6.
func boundingBox(lonLat []model.Projected) store.BBox {
	first := geo.Project(lonLat[0].X, lonLat[0].Y)
	box := store.BBox{MinX: first.X, MaxX: first.X, MinY: first.Y, MaxY: first.Y}
	for _, ll := range lonLat[1:] {
		p := geo.Project(ll.X, ll.Y)
		box.MinX = math.Min(box.MinX, p.X)
		box.MaxX = math.Max(box.MaxX, p.X)
		box.MinY = math.Min(box.MinY, p.Y)
		box.MaxY = math.Max(box.MaxY, p.Y)
	}
	return box
}

func readShapefile(path string) ([]importedSegment, error) {
	shape, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shapefile: %w", err)
	}
	defer shape.Close()

	fields := shape.Fields()
	fieldNames := make([]string, len(fields))
	for i, f := range fields {
		fieldNames[i] = f.String()
	}
	segIDIdx := fieldIndex(fieldNames, "segment_id", "seg_id", "id")
	onewayIdx := fieldIndex(fieldNames, "oneway", "one_way")
	speedIdx := fieldIndex(fieldNames, "speed_limit", "maxspeed", "speed_kph")

	var segments []importedSegment
	for shape.Next() {
		n, p := shape.Shape()
		line, ok := p.(*shp.PolyLine)
		if !ok {
			continue
		}

		seg := importedSegment{}
		if segIDIdx >= 0 {
			seg.SegmentID = parseInt64(shape.ReadAttribute(n, segIDIdx))
		}
		if onewayIdx >= 0 {
			seg.Oneway = parseBool(shape.ReadAttribute(n, onewayIdx))
		}
		if speedIdx >= 0 {
			seg.SpeedLimitKPH = parseFloat(shape.ReadAttribute(n, speedIdx))
		}

		for i := 0; i < int(line.NumPoints); i++ {
			seg.LonLat = append(seg.LonLat, model.Projected{X: line.Points[i].X, Y: line.Points[i].Y})
		}
		segments = append(segments, seg)
	}
	if err := shape.Err(); err != nil {
		return nil, fmt.Errorf("iterate shapefile: %w", err)
	}

	return segments, nil
}

func readGeoJSON(path string) ([]importedSegment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse geojson: %w", err)
	}

	var segments []importedSegment
	for _, feature := range fc.Features {
		lines := linesOf(feature.Geometry)
		for _, line := range lines {
			seg := importedSegment{
				SegmentID:     propInt64(feature.Properties, "segment_id", "seg_id", "id"),
				Oneway:        propBool(feature.Properties, "oneway", "one_way"),
				SpeedLimitKPH: propFloat(feature.Properties, "speed_limit", "maxspeed", "speed_kph"),
			}
			for _, pt := range line {
				seg.LonLat = append(seg.LonLat, model.Projected{X: pt[0], Y: pt[1]})
			}
			segments = append(segments, seg)
		}
	}
	return segments, nil
}

func linesOf(geom orb.Geometry) []orb.LineString {
	switch g := geom.(type) {
	case orb.LineString:
		return []orb.LineString{g}
	case orb.MultiLineString:
		return g
	default:
		return nil
	}
}

func fieldIndex(names []string, candidates ...string) int {
	for i, name := range names {
		for _, c := range candidates {
			if strings.EqualFold(name, c) {
				return i
			}
		}
	}
	return -1
}

func propInt64(props geojson.Properties, keys ...string) int64 {
	for _, k := range keys {
		if v, ok := props[k]; ok {
			return parseInt64(fmt.Sprintf("%v", v))
		}
	}
	return 0
}

func propBool(props geojson.Properties, keys ...string) bool {
	for _, k := range keys {
		if v, ok := props[k]; ok {
			return parseBool(fmt.Sprintf("%v", v))
		}
	}
	return false
}

func propFloat(props geojson.Properties, keys ...string) float64 {
	for _, k := range keys {
		if v, ok := props[k]; ok {
			return parseFloat(fmt.Sprintf("%v", v))
		}
	}
	return 0
}

func parseInt64(s string) int64 {
	s = strings.TrimSpace(s)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseFloat(s string) float64 {
	s = strings.TrimSpace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "1" || s == "true" || s == "y" || s == "yes"
}
