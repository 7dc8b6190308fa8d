// Package viterbi drives the candidate-provider and scorer components over
// an observation sequence, maintaining a log-domain lattice of
// (time-step, candidate) log-probabilities and backpointers, and
// backtracking through it to produce the best-matched path.
package viterbi

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"mapmatch/pkg/candidates"
	"mapmatch/pkg/config"
	"mapmatch/pkg/logging"
	"mapmatch/pkg/model"
	"mapmatch/pkg/scorer"
)

// LOG0 is the log-domain sentinel for zero probability. Never NaN.
var LOG0 = math.Inf(-1)

// Kind distinguishes the fatal/recoverable matching error conditions from
// spec.md's error-handling design.
type Kind int

const (
	// NoStartingCandidates means the first observation matched nothing
	// within 2x the configured radius. Fatal.
	NoStartingCandidates Kind = iota
	// DegenerateColumn means every candidate in an extended column landed
	// at LOG0. Fatal.
	DegenerateColumn
	// StoreError means a mid-stream candidate query failed with an
	// underlying storage error rather than simply finding no candidates.
	// Fatal: per spec.md §4.2, storage errors always propagate as fatal,
	// never silently degrade to a skip.
	StoreError
	// BacktrackCycle means the backtrack walk revisited a (column,
	// candidate) pair. Recoverable: the walk is truncated.
	BacktrackCycle
)

func (k Kind) String() string {
	switch k {
	case NoStartingCandidates:
		return "NoStartingCandidates"
	case DegenerateColumn:
		return "DegenerateColumn"
	case StoreError:
		return "StoreError"
	case BacktrackCycle:
		return "BacktrackCycle"
	default:
		return "Unknown"
	}
}

// MatchError is returned for the fatal conditions in §4.5. CLI callers
// branch on Kind to choose an exit code.
type MatchError struct {
	Kind Kind
	Msg  string
}

func (e *MatchError) Error() string { return fmt.Sprintf("viterbi: %s: %s", e.Kind, e.Msg) }

// Matcher drives the forward pass and backtrack over an observation
// sequence, wiring the candidate provider and the emission/transition
// scorers together.
type Matcher struct {
	provider   *candidates.Provider
	emission   *scorer.EmissionScorer
	transition *scorer.TransitionScorer
}

// NewMatcher builds a Matcher from its collaborators.
func NewMatcher(provider *candidates.Provider, emission *scorer.EmissionScorer, transition *scorer.TransitionScorer) *Matcher {
	return &Matcher{provider: provider, emission: emission, transition: transition}
}

// Result is the outcome of one Match run: the matched segment-id path (when
// any segment was matched) plus the fatal error, if the run ended early.
type Result struct {
	SegmentIDs []int64
	Err        error
}

// Match runs the Viterbi DP over observations and returns the best-matched
// path of segment ids. A non-nil error is always a *MatchError.
func (m *Matcher) Match(ctx context.Context, observations []model.Observation, cfg config.MatchConfig) Result {
	runID := uuid.New().String()
	log := slog.With("run_id", runID)

	if len(observations) == 0 {
		return Result{}
	}

	columns, err := m.forward(ctx, observations, cfg, log)
	if err != nil {
		// Best-effort: if at least one real column was built before the
		// fatal condition, still return the backtrack from the last one.
		if len(columns) == 0 {
			return Result{Err: err}
		}
		path := m.backtrack(columns, log)
		return Result{SegmentIDs: dedupeConsecutive(path), Err: err}
	}

	path := m.backtrack(columns, log)
	return Result{SegmentIDs: dedupeConsecutive(path)}
}

// forward runs the DP forward pass, returning the lattice columns built:
// one entry per *real*, i.e. non-skipped, observation, appended in order.
func (m *Matcher) forward(ctx context.Context, observations []model.Observation, cfg config.MatchConfig, log *slog.Logger) ([]model.Column, error) {
	point0, cands0, err := m.provider.Query(ctx, observations[0], float64(cfg.Radius), cfg.MaxStates)
	if err != nil {
		return nil, &MatchError{Kind: NoStartingCandidates, Msg: err.Error()}
	}
	if len(cands0) == 0 {
		point0, cands0, err = m.provider.Query(ctx, observations[0], 2*float64(cfg.Radius), cfg.MaxStates)
		if err != nil {
			return nil, &MatchError{Kind: NoStartingCandidates, Msg: err.Error()}
		}
	}
	if len(cands0) == 0 {
		return nil, &MatchError{Kind: NoStartingCandidates, Msg: "no candidates for first observation within 2x radius"}
	}

	col0 := model.Column{
		ObservationIndex: 0,
		Candidates:       cands0,
		LogProbs:         make([]float64, len(cands0)),
		Backptrs:         make([]int, len(cands0)),
		Anchor:           point0,
	}
	for i, c := range cands0 {
		er := m.emission.Score(c, observations[0])
		col0.LogProbs[i] = safeLog(er.Score)
		col0.Backptrs[i] = -1
		logging.Trace(log, "emission", "step", 0, "candidate", i, "segment_id", c.SegmentID, "trail", er.Trail)
	}
	columns := []model.Column{col0}

	for t := 1; t < len(observations); t++ {
		obs := observations[t]
		point, cands, err := m.provider.Query(ctx, obs, float64(cfg.Radius), cfg.MaxStates)
		if err != nil {
			return columns, &MatchError{Kind: StoreError, Msg: fmt.Sprintf("step %d: %s", t, err)}
		}
		if len(cands) == 0 {
			point, cands, err = m.provider.Query(ctx, obs, 2*float64(cfg.Radius), cfg.MaxStates)
			if err != nil {
				return columns, &MatchError{Kind: StoreError, Msg: fmt.Sprintf("step %d (2x radius retry): %s", t, err)}
			}
		}
		if len(cands) == 0 {
			log.Warn("no candidates found for observation, skipping", "step", t)
			continue
		}

		prevCol := columns[len(columns)-1]
		col, ok := m.extend(prevCol, point, cands, obs, log)
		if !ok {
			// Every candidate landed at LOG0: fatal, but the caller still
			// gets the best-effort path built up to here.
			return columns, &MatchError{Kind: DegenerateColumn, Msg: fmt.Sprintf("step %d: all candidates scored LOG0", t)}
		}
		col.ObservationIndex = t
		columns = append(columns, col)
	}

	return columns, nil
}

// extend computes one forward-pass lattice column from the previous real
// column. ok is false when every candidate ties at LOG0 (degenerate column).
func (m *Matcher) extend(prev model.Column, point model.Projected, cands []model.Candidate, obs model.Observation, log *slog.Logger) (model.Column, bool) {
	logProbs := make([]float64, len(cands))
	backptrs := make([]int, len(cands))
	anyFinite := false

	for i, c := range cands {
		er := m.emission.Score(c, obs)
		emissionLog := safeLog(er.Score)
		logging.Trace(log, "emission", "candidate", i, "segment_id", c.SegmentID, "trail", er.Trail)

		best := LOG0
		bestJ := -1
		for j, pc := range prev.Candidates {
			if prev.LogProbs[j] == LOG0 {
				continue
			}
			tr := m.transition.Score(prev.Anchor, point, pc, c)
			transLog := safeLog(tr.Score)
			logging.Trace(log, "transition", "prev_candidate", j, "candidate", i,
				"prev_segment_id", pc.SegmentID, "segment_id", c.SegmentID, "trail", tr.Trail)
			candidate := prev.LogProbs[j] + transLog + emissionLog
			if candidate > best {
				best = candidate
				bestJ = j
			}
		}

		logProbs[i] = best
		backptrs[i] = bestJ
		if best != LOG0 {
			anyFinite = true
		}
	}

	return model.Column{Candidates: cands, LogProbs: logProbs, Backptrs: backptrs, Anchor: point}, anyFinite
}

// backtrack walks backpointers from the final column's argmax toward
// column 0, guarding against cycles and out-of-range indices.
func (m *Matcher) backtrack(columns []model.Column, log *slog.Logger) []model.Candidate {
	if len(columns) == 0 {
		return nil
	}

	last := columns[len(columns)-1]
	idx := argmax(last.LogProbs)
	if idx < 0 {
		return nil
	}

	var path []model.Candidate
	visited := make(map[[2]int]bool)

	for col := len(columns) - 1; col >= 0; col-- {
		if idx < 0 || idx >= len(columns[col].Candidates) {
			log.Warn("backtrack out-of-range index, truncating path", "column", col, "index", idx)
			break
		}
		key := [2]int{col, idx}
		if visited[key] {
			log.Warn("backtrack cycle detected, truncating path", "column", col, "index", idx)
			break
		}
		visited[key] = true

		path = append(path, columns[col].Candidates[idx])
		next := columns[col].Backptrs[idx]
		if next < 0 {
			break
		}
		idx = next
	}

	reverse(path)
	return path
}

func argmax(logProbs []float64) int {
	best := -1
	bestVal := LOG0
	for i, v := range logProbs {
		if best < 0 || v > bestVal {
			best = i
			bestVal = v
		}
	}
	return best
}

func reverse(path []model.Candidate) {
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
}

// safeLog returns LOG0 for non-positive input instead of -Inf's NaN-adjacent
// neighbors, keeping every log-prob either finite or the LOG0 sentinel.
func safeLog(p float64) float64 {
	if p <= 0 {
		return LOG0
	}
	return math.Log(p)
}

// dedupeConsecutive maps candidates to segment ids, collapsing consecutive
// duplicates only — a road re-entered later in the path is not a duplicate.
func dedupeConsecutive(path []model.Candidate) []int64 {
	if len(path) == 0 {
		return nil
	}
	out := make([]int64, 0, len(path))
	for _, c := range path {
		if len(out) > 0 && out[len(out)-1] == c.SegmentID {
			continue
		}
		out = append(out, c.SegmentID)
	}
	return out
}
