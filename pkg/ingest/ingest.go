// Package ingest implements the CSV observation reader and the segment-id
// output sink the CLI wires in front of the matching engine. Neither is
// part of the matcher's hot path (spec.md §6 scopes both out of the core),
// but both are concrete, wired components so the repository runs end to end.
package ingest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"mapmatch/pkg/model"
)

// Column layout of the reference ingestion CSV: lon, lat, heading, speed at
// fixed indices, zero-indexed, matching spec.md §6.
const (
	colLon     = 3
	colLat     = 4
	colSpeed   = 6
	colHeading = 7

	minColumns = 8
)

// ReadObservations parses observations from r: a UTF-8, comma-separated
// file with a header line. Rows with fewer than minColumns columns are
// skipped with a logged warning, not a fatal error, per spec.md §7's data
// error policy.
func ReadObservations(r io.Reader) ([]model.Observation, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // rows vary in width; we validate per-row

	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("ingest: read header: %w", err)
	}

	var observations []model.Observation
	rowNum := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			slog.Warn("ingest: skipping unparseable row", "row", rowNum, "error", err)
			continue
		}

		obs, err := parseRow(row)
		if err != nil {
			slog.Warn("ingest: skipping row", "row", rowNum, "error", err)
			continue
		}
		observations = append(observations, obs)
	}

	return observations, nil
}

func parseRow(row []string) (model.Observation, error) {
	if len(row) < minColumns {
		return model.Observation{}, fmt.Errorf("row has %d columns, want at least %d", len(row), minColumns)
	}

	lon, err := strconv.ParseFloat(row[colLon], 64)
	if err != nil {
		return model.Observation{}, fmt.Errorf("parse lon: %w", err)
	}
	lat, err := strconv.ParseFloat(row[colLat], 64)
	if err != nil {
		return model.Observation{}, fmt.Errorf("parse lat: %w", err)
	}
	heading, err := strconv.ParseFloat(row[colHeading], 64)
	if err != nil {
		return model.Observation{}, fmt.Errorf("parse heading: %w", err)
	}
	speed, err := strconv.ParseFloat(row[colSpeed], 64)
	if err != nil {
		return model.Observation{}, fmt.Errorf("parse speed: %w", err)
	}

	return model.Observation{Lon: lon, Lat: lat, Heading: heading, Speed: speed}, nil
}

// Format selects the output sink's encoding.
type Format int

const (
	// FormatLines writes one segment id per line (the default).
	FormatLines Format = iota
	// FormatJSON writes the segment ids as a JSON array.
	FormatJSON
)

// WriteSegmentIDs writes ids to w in the requested format.
func WriteSegmentIDs(w io.Writer, ids []int64, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		if err := enc.Encode(ids); err != nil {
			return fmt.Errorf("ingest: write json output: %w", err)
		}
		return nil
	default:
		for _, id := range ids {
			if _, err := fmt.Fprintf(w, "%d\n", id); err != nil {
				return fmt.Errorf("ingest: write line output: %w", err)
			}
		}
		return nil
	}
}

// ParseFormat maps a CLI-provided format name to a Format. Unknown names
// default to FormatLines.
func ParseFormat(name string) Format {
	if name == "json" {
		return FormatJSON
	}
	return FormatLines
}
