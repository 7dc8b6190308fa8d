package scorer

import (
	"math"
	"testing"

	"mapmatch/pkg/config"
	"mapmatch/pkg/model"
)

func defaultEmissionScorer() *EmissionScorer {
	return NewEmissionScorer(config.EmissionConfig{Distance: 0.60, Orientation: 0.35, SpeedLimit: 0.05}, 10)
}

func TestEmissionScoreZeroDistance(t *testing.T) {
	s := defaultEmissionScorer()
	c := model.Candidate{Distance: 0, Bearing: 90, Oneway: true}
	obs := model.Observation{Heading: 90}

	got := s.Score(c, obs).Score
	// d=0 => sDistance=1; heading aligned => sOrientation=1; no speed data => sSpeed=1
	if math.Abs(got-1.0) > 1e-9 {
		t.Errorf("Score = %v, want 1.0", got)
	}
}

func TestEmissionScoreDecreasesWithDistance(t *testing.T) {
	s := defaultEmissionScorer()
	obs := model.Observation{Heading: 0}
	near := s.Score(model.Candidate{Distance: 1, Bearing: 0}, obs).Score
	far := s.Score(model.Candidate{Distance: 50, Bearing: 0}, obs).Score
	if !(near > far) {
		t.Errorf("expected closer candidate to score higher: near=%v far=%v", near, far)
	}
}

func TestOrientationSymmetryForTwoWaySegments(t *testing.T) {
	s := defaultEmissionScorer()
	c := model.Candidate{Distance: 5, Bearing: 0, Oneway: false}

	forward := s.Score(c, model.Observation{Heading: 0}).Score
	reversed := s.Score(c, model.Observation{Heading: 180}).Score

	if math.Abs(forward-reversed) > 1e-9 {
		t.Errorf("two-way segment should score heading 0 and 180 equally: %v vs %v", forward, reversed)
	}
}

func TestOrientationOnewayPenalizesReverseHeading(t *testing.T) {
	s := defaultEmissionScorer()
	c := model.Candidate{Distance: 5, Bearing: 0, Oneway: true}

	forward := s.Score(c, model.Observation{Heading: 0}).Score
	reversed := s.Score(c, model.Observation{Heading: 180}).Score

	if !(forward > reversed) {
		t.Errorf("oneway segment should penalize reverse heading: forward=%v reversed=%v", forward, reversed)
	}
}

func TestSpeedScoreNoDataIsNeutral(t *testing.T) {
	c := model.Candidate{SpeedLimitKPH: 0}
	if got := speedScore(c, model.Observation{Speed: 100}); got != 1 {
		t.Errorf("speedScore with no limit data = %v, want 1", got)
	}
}

func TestSpeedScorePenalizesExcess(t *testing.T) {
	c := model.Candidate{SpeedLimitKPH: 50}
	compliant := speedScore(c, model.Observation{Speed: 50 / 3.6})
	excessive := speedScore(c, model.Observation{Speed: 120 / 3.6})
	if !(compliant >= excessive) {
		t.Errorf("compliant speed should score >= excessive: compliant=%v excessive=%v", compliant, excessive)
	}
}

func defaultTransitionScorer() *TransitionScorer {
	return NewTransitionScorer(config.TransitConfig{DistanceDiff: 0.8, Backtrack: 0.2}, 50, 0.1)
}

func TestTransitionScoreConsistentDistance(t *testing.T) {
	s := defaultTransitionScorer()
	pPrev := model.Projected{X: 0, Y: 0}
	pCurr := model.Projected{X: 10, Y: 0}
	prev := model.Candidate{Projection: model.Projected{X: 0, Y: 0}}
	curr := model.Candidate{Projection: model.Projected{X: 10, Y: 0}}

	got := s.Score(pPrev, pCurr, prev, curr).Score
	if got < 0.79 {
		t.Errorf("matching distances should score near 1 (weighted 0.8 contribution): got %v", got)
	}
}

func TestTransitionScoreClampedToUnitRange(t *testing.T) {
	s := defaultTransitionScorer()
	pPrev := model.Projected{X: 0, Y: 0}
	pCurr := model.Projected{X: 1000, Y: 0}
	prev := model.Candidate{Projection: model.Projected{X: 0, Y: 0}}
	curr := model.Candidate{Projection: model.Projected{X: 0, Y: 0}}

	got := s.Score(pPrev, pCurr, prev, curr).Score
	if got < 0 || got > 1 {
		t.Errorf("score %v out of [0,1] range", got)
	}
}

func TestTransitionScorePenalizesOnewayBacktrack(t *testing.T) {
	s := defaultTransitionScorer()
	// Movement heads east (bearing 90); the oneway segment points west (bearing 270).
	pPrev := model.Projected{X: 0, Y: 0}
	pCurr := model.Projected{X: 10, Y: 0}
	prev := model.Candidate{Projection: model.Projected{X: 0, Y: 0}, Oneway: true, Bearing: 270}
	curr := model.Candidate{Projection: model.Projected{X: 10, Y: 0}, Oneway: true, Bearing: 270}

	got := s.Score(pPrev, pCurr, prev, curr).Score
	full := s.Score(pPrev, pCurr, model.Candidate{Projection: prev.Projection}, model.Candidate{Projection: curr.Projection}).Score

	if !(got < full) {
		t.Errorf("backtracking transition should score lower than a non-oneway equivalent: backtrack=%v full=%v", got, full)
	}
}
