package viterbi

import (
	"context"
	"errors"
	"testing"
	"time"

	"mapmatch/pkg/candidates"
	"mapmatch/pkg/config"
	"mapmatch/pkg/geo"
	"mapmatch/pkg/model"
	"mapmatch/pkg/scorer"
	"mapmatch/pkg/store"
)

// fakeStore returns a fixed segment set regardless of the box queried,
// mirroring pkg/candidates's own test double.
type fakeStore struct {
	segments []store.Segment
}

func (f *fakeStore) QueryBBox(ctx context.Context, box store.BBox) ([]store.Segment, error) {
	return f.segments, nil
}
func (f *fakeStore) Close() error { return nil }

// failAfterStore returns segments normally for the first okCalls queries,
// then fails every query after that, simulating a connection drop partway
// through a batch run.
type failAfterStore struct {
	segments []store.Segment
	okCalls  int
	calls    int
}

func (f *failAfterStore) QueryBBox(ctx context.Context, box store.BBox) ([]store.Segment, error) {
	f.calls++
	if f.calls > f.okCalls {
		return nil, errors.New("connection reset by peer")
	}
	return f.segments, nil
}
func (f *failAfterStore) Close() error { return nil }

func newMatcher(segments []store.Segment) *Matcher {
	fs := &fakeStore{segments: segments}
	provider := candidates.NewProvider(fs, store.NewCellCache(time.Minute), geo.DefaultH3Resolution)
	emission := scorer.NewEmissionScorer(config.EmissionConfig{Distance: 0.60, Orientation: 0.35, SpeedLimit: 0.05}, 10)
	transition := scorer.NewTransitionScorer(config.TransitConfig{DistanceDiff: 0.8, Backtrack: 0.2}, 50, 0.1)
	return NewMatcher(provider, emission, transition)
}

func defaultMatchConfig() config.MatchConfig {
	return config.MatchConfig{Radius: 20, MaxStates: 10}
}

// northSouthRoad runs from (lon, 51.50) to (lon, 51.52), a straight line
// pointing due north (bearing 0).
func northSouthRoad(segmentID int64, lon float64, oneway bool) store.Segment {
	return store.Segment{
		SegmentID: segmentID,
		Oneway:    oneway,
		Line: []model.Projected{
			{X: lon, Y: 51.50},
			{X: lon, Y: 51.52},
		},
	}
}

func TestMatchEmptyObservations(t *testing.T) {
	m := newMatcher(nil)
	res := m.Match(context.Background(), nil, defaultMatchConfig())
	if res.Err != nil {
		t.Fatalf("Match(empty) error = %v, want nil", res.Err)
	}
	if len(res.SegmentIDs) != 0 {
		t.Fatalf("Match(empty) = %v, want empty", res.SegmentIDs)
	}
}

func TestMatchNoStartingCandidatesIsFatal(t *testing.T) {
	m := newMatcher(nil) // no segments anywhere
	obs := []model.Observation{{Lon: -0.1, Lat: 51.505, Heading: 0}}

	res := m.Match(context.Background(), obs, defaultMatchConfig())
	if res.Err == nil {
		t.Fatal("Match: expected NoStartingCandidates error, got nil")
	}
	matchErr, ok := res.Err.(*MatchError)
	if !ok || matchErr.Kind != NoStartingCandidates {
		t.Fatalf("Match error = %v, want *MatchError{Kind: NoStartingCandidates}", res.Err)
	}
	if len(res.SegmentIDs) != 0 {
		t.Fatalf("Match.SegmentIDs = %v, want empty on fatal start error", res.SegmentIDs)
	}
}

func TestMatchStraightDriveDedupesToOneSegment(t *testing.T) {
	road := northSouthRoad(42, -0.1, false)
	m := newMatcher([]store.Segment{road})

	var obs []model.Observation
	for i := 0; i < 5; i++ {
		lat := 51.500 + float64(i)*0.002
		obs = append(obs, model.Observation{Lon: -0.1, Lat: lat, Heading: 0, Speed: 10})
	}

	res := m.Match(context.Background(), obs, defaultMatchConfig())
	if res.Err != nil {
		t.Fatalf("Match: unexpected error: %v", res.Err)
	}
	if len(res.SegmentIDs) != 1 || res.SegmentIDs[0] != 42 {
		t.Fatalf("Match.SegmentIDs = %v, want [42]", res.SegmentIDs)
	}
}

func TestMatchSingleObservationReturnsSingleSegmentPath(t *testing.T) {
	road := northSouthRoad(7, -0.1, false)
	m := newMatcher([]store.Segment{road})

	obs := []model.Observation{{Lon: -0.1, Lat: 51.505, Heading: 0}}
	res := m.Match(context.Background(), obs, defaultMatchConfig())
	if res.Err != nil {
		t.Fatalf("Match: unexpected error: %v", res.Err)
	}
	if len(res.SegmentIDs) != 1 || res.SegmentIDs[0] != 7 {
		t.Fatalf("Match.SegmentIDs = %v, want [7]", res.SegmentIDs)
	}
}

func TestMatchSkipsOutlierObservation(t *testing.T) {
	road := northSouthRoad(99, -0.1, false)
	m := newMatcher([]store.Segment{road})

	obs := []model.Observation{
		{Lon: -0.1, Lat: 51.500, Heading: 0, Speed: 10},
		{Lon: -0.1, Lat: 51.505, Heading: 0, Speed: 10},
		// Far off-road: misses even at 2x the default 20m radius.
		{Lon: -0.3, Lat: 51.510, Heading: 0, Speed: 10},
		{Lon: -0.1, Lat: 51.515, Heading: 0, Speed: 10},
		{Lon: -0.1, Lat: 51.520, Heading: 0, Speed: 10},
	}

	res := m.Match(context.Background(), obs, defaultMatchConfig())
	if res.Err != nil {
		t.Fatalf("Match: unexpected error: %v", res.Err)
	}
	if len(res.SegmentIDs) != 1 || res.SegmentIDs[0] != 99 {
		t.Fatalf("Match.SegmentIDs = %v, want [99] (outlier skipped, not biasing the path)", res.SegmentIDs)
	}
}

func TestMatchIdempotenceOfSkippedSteps(t *testing.T) {
	road := northSouthRoad(99, -0.1, false)
	cfg := defaultMatchConfig()

	withOutlier := []model.Observation{
		{Lon: -0.1, Lat: 51.500, Heading: 0, Speed: 10},
		{Lon: -0.1, Lat: 51.505, Heading: 0, Speed: 10},
		{Lon: -0.3, Lat: 51.510, Heading: 0, Speed: 10},
		{Lon: -0.1, Lat: 51.515, Heading: 0, Speed: 10},
	}
	withoutOutlier := []model.Observation{
		{Lon: -0.1, Lat: 51.500, Heading: 0, Speed: 10},
		{Lon: -0.1, Lat: 51.505, Heading: 0, Speed: 10},
		{Lon: -0.1, Lat: 51.515, Heading: 0, Speed: 10},
	}

	resWith := newMatcher([]store.Segment{road}).Match(context.Background(), withOutlier, cfg)
	resWithout := newMatcher([]store.Segment{road}).Match(context.Background(), withoutOutlier, cfg)

	if resWith.Err != nil || resWithout.Err != nil {
		t.Fatalf("Match errors: with=%v without=%v", resWith.Err, resWithout.Err)
	}
	if len(resWith.SegmentIDs) != len(resWithout.SegmentIDs) {
		t.Fatalf("paths differ in length: with=%v without=%v", resWith.SegmentIDs, resWithout.SegmentIDs)
	}
	for i := range resWith.SegmentIDs {
		if resWith.SegmentIDs[i] != resWithout.SegmentIDs[i] {
			t.Fatalf("paths differ: with=%v without=%v", resWith.SegmentIDs, resWithout.SegmentIDs)
		}
	}
}

func TestMatchTurnAcrossTwoSegments(t *testing.T) {
	// An L-shape: segment 1 runs north along lon -0.1 from 51.50 to 51.52;
	// segment 2 runs east along lat 51.52 from -0.1 to -0.08.
	seg1 := store.Segment{
		SegmentID: 1,
		Line: []model.Projected{
			{X: -0.1, Y: 51.50},
			{X: -0.1, Y: 51.52},
		},
	}
	seg2 := store.Segment{
		SegmentID: 2,
		Line: []model.Projected{
			{X: -0.1, Y: 51.52},
			{X: -0.08, Y: 51.52},
		},
	}
	m := newMatcher([]store.Segment{seg1, seg2})

	obs := []model.Observation{
		{Lon: -0.1, Lat: 51.500, Heading: 0, Speed: 10},
		{Lon: -0.1, Lat: 51.510, Heading: 0, Speed: 10},
		{Lon: -0.1, Lat: 51.520, Heading: 0, Speed: 10},
		{Lon: -0.09, Lat: 51.520, Heading: 90, Speed: 10},
		{Lon: -0.08, Lat: 51.520, Heading: 90, Speed: 10},
	}

	res := m.Match(context.Background(), obs, defaultMatchConfig())
	if res.Err != nil {
		t.Fatalf("Match: unexpected error: %v", res.Err)
	}
	if len(res.SegmentIDs) != 2 || res.SegmentIDs[0] != 1 || res.SegmentIDs[1] != 2 {
		t.Fatalf("Match.SegmentIDs = %v, want [1 2]", res.SegmentIDs)
	}
}

func TestDedupeConsecutiveAllowsNonAdjacentRepeats(t *testing.T) {
	path := []model.Candidate{
		{SegmentID: 1}, {SegmentID: 1}, {SegmentID: 2}, {SegmentID: 1},
	}
	got := dedupeConsecutive(path)
	want := []int64{1, 2, 1}
	if len(got) != len(want) {
		t.Fatalf("dedupeConsecutive = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dedupeConsecutive = %v, want %v", got, want)
		}
	}
}

func TestMatchMidStreamStoreErrorIsFatal(t *testing.T) {
	road := northSouthRoad(42, -0.1, false)
	fs := &failAfterStore{segments: []store.Segment{road}, okCalls: 1}
	provider := candidates.NewProvider(fs, store.NewCellCache(time.Minute), geo.DefaultH3Resolution)
	emission := scorer.NewEmissionScorer(config.EmissionConfig{Distance: 0.60, Orientation: 0.35, SpeedLimit: 0.05}, 10)
	transition := scorer.NewTransitionScorer(config.TransitConfig{DistanceDiff: 0.8, Backtrack: 0.2}, 50, 0.1)
	m := NewMatcher(provider, emission, transition)

	obs := []model.Observation{
		{Lon: -0.1, Lat: 51.500, Heading: 0, Speed: 10},
		{Lon: -0.1, Lat: 51.505, Heading: 0, Speed: 10},
		{Lon: -0.1, Lat: 51.510, Heading: 0, Speed: 10},
	}

	res := m.Match(context.Background(), obs, defaultMatchConfig())
	if res.Err == nil {
		t.Fatal("Match: expected a fatal StoreError once the store starts failing, got nil")
	}
	matchErr, ok := res.Err.(*MatchError)
	if !ok || matchErr.Kind != StoreError {
		t.Fatalf("Match error = %v, want *MatchError{Kind: StoreError}", res.Err)
	}
	// Best-effort: the column built from the first (successful) observation
	// is still returned, not silently dropped nor treated as a plain skip.
	if len(res.SegmentIDs) != 1 || res.SegmentIDs[0] != 42 {
		t.Fatalf("Match.SegmentIDs = %v, want best-effort [42]", res.SegmentIDs)
	}
}

func TestSafeLogNeverProducesNaN(t *testing.T) {
	for _, p := range []float64{0, -1, 1, 0.5} {
		v := safeLog(p)
		if v != v { // NaN check
			t.Fatalf("safeLog(%v) = NaN", p)
		}
	}
}
