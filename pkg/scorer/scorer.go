// Package scorer implements the emission and transition scoring models: a
// weighted linear combination of component scores in [0,1], each producing a
// human-readable debug trail alongside its numeric result.
package scorer

import (
	"fmt"
	"math"

	"mapmatch/pkg/config"
	"mapmatch/pkg/geo"
	"mapmatch/pkg/model"
)

// EmissionScorer scores how well a candidate segment explains an observation.
type EmissionScorer struct {
	weights config.EmissionConfig
	sigmaD  float64
}

// NewEmissionScorer builds an EmissionScorer from match configuration.
func NewEmissionScorer(weights config.EmissionConfig, sigmaDistance float64) *EmissionScorer {
	return &EmissionScorer{weights: weights, sigmaD: sigmaDistance}
}

// Result holds a score plus the trail of component contributions that
// produced it, for debug logging.
type Result struct {
	Score float64
	Trail []string
}

// Score computes the emission probability of candidate c explaining obs.
func (s *EmissionScorer) Score(c model.Candidate, obs model.Observation) Result {
	sDist := math.Exp(-c.Distance / s.sigmaD)
	sOrient := orientationScore(c, obs)
	sSpeed := speedScore(c, obs)

	score := s.weights.Distance*sDist + s.weights.Orientation*sOrient + s.weights.SpeedLimit*sSpeed

	return Result{
		Score: score,
		Trail: []string{
			fmt.Sprintf("distance: d=%.1fm score=%.3f weight=%.2f", c.Distance, sDist, s.weights.Distance),
			fmt.Sprintf("orientation: score=%.3f weight=%.2f", sOrient, s.weights.Orientation),
			fmt.Sprintf("speed_limit: score=%.3f weight=%.2f", sSpeed, s.weights.SpeedLimit),
		},
	}
}

func orientationScore(c model.Candidate, obs model.Observation) float64 {
	forward := (1 + math.Cos(geo.AngleDiff(c.Bearing, obs.Heading)*math.Pi/180)) / 2
	if c.Oneway {
		return forward
	}
	backward := (1 + math.Cos(geo.AngleDiff(math.Mod(c.Bearing+180, 360), obs.Heading)*math.Pi/180)) / 2
	return math.Max(forward, backward)
}

func speedScore(c model.Candidate, obs model.Observation) float64 {
	if c.SpeedLimitKPH <= 0 {
		return 1
	}
	observedKPH := obs.Speed * 3.6
	// Mild penalty for exceeding the limit; no penalty for driving under it.
	if observedKPH <= c.SpeedLimitKPH*1.2 {
		return 1
	}
	over := observedKPH - c.SpeedLimitKPH*1.2
	return math.Max(0, 1-over/c.SpeedLimitKPH)
}

// TransitionScorer scores the plausibility of moving from a previous
// candidate to a current one given the observed displacement.
type TransitionScorer struct {
	weights         config.TransitConfig
	sigmaT          float64
	backtrackFactor float64
}

// NewTransitionScorer builds a TransitionScorer from match configuration.
func NewTransitionScorer(weights config.TransitConfig, sigmaTransition, backtrackFactor float64) *TransitionScorer {
	return &TransitionScorer{weights: weights, sigmaT: sigmaTransition, backtrackFactor: backtrackFactor}
}

// Score computes T[j][i]: the transition probability from prev (observed at
// pPrev) to curr (observed at pCurr).
func (s *TransitionScorer) Score(pPrev, pCurr model.Projected, prev, curr model.Candidate) Result {
	dObs := geo.Distance(pPrev, pCurr)
	dSeg := geo.Distance(prev.Projection, curr.Projection)

	sDiff := math.Exp(-math.Abs(dObs-dSeg) / s.sigmaT)
	sBack := s.backtrackScore(pPrev, pCurr, prev, curr)

	score := s.weights.DistanceDiff*sDiff + s.weights.Backtrack*sBack
	if score < 0 {
		score = 0
	} else if score > 1 {
		score = 1
	}

	return Result{
		Score: score,
		Trail: []string{
			fmt.Sprintf("distance_diff: obs=%.1fm seg=%.1fm score=%.3f weight=%.2f", dObs, dSeg, sDiff, s.weights.DistanceDiff),
			fmt.Sprintf("backtrack: score=%.3f weight=%.2f", sBack, s.weights.Backtrack),
		},
	}
}

func (s *TransitionScorer) backtrackScore(pPrev, pCurr model.Projected, prev, curr model.Candidate) float64 {
	if !prev.Oneway && !curr.Oneway {
		return 1
	}

	moveBearing, ok := geo.Bearing(prev.Projection, curr.Projection)
	if !ok {
		return 1
	}

	against := func(oneway bool, segBearing float64) bool {
		return oneway && geo.AngleDiff(moveBearing, segBearing) > 90
	}

	if against(prev.Oneway, prev.Bearing) || against(curr.Oneway, curr.Bearing) {
		return s.backtrackFactor
	}
	return 1
}
