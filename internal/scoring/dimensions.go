// Package scoring turns raw rule results into dimension scores and converts
// failing results into 0-100 criticality scores.
package scoring

import (
	"context"
	"math"
	"time"

	"github.com/open-dqm/open-dqm/internal/store"
)

// NeutralScore is used for dimensions with no measured results in the window,
// so unmeasured dimensions are not penalized.
const NeutralScore = 50.0

// DefaultWindow is the trailing result window for dimension scores.
const DefaultWindow = 7 * 24 * time.Hour

// ResultCounter supplies pass/fail counts per dimension for an asset.
type ResultCounter interface {
	CountResultsByDimension(ctx context.Context, assetID string, since time.Time) ([]store.DimensionCounts, error)
}

// ScoreSet is the per-dimension score map plus the overall mean and the
// direction against the preceding window.
type ScoreSet struct {
	Dimensions map[string]float64 `json:"dimensions"`
	Overall    float64            `json:"overall"`
	Trend      string             `json:"trend"`
}

// DimensionScorer computes quality scores from the trailing result window.
type DimensionScorer struct {
	Results ResultCounter
	Window  time.Duration
	Now     func() time.Time
}

func NewDimensionScorer(results ResultCounter, window time.Duration) *DimensionScorer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &DimensionScorer{Results: results, Window: window}
}

// Score computes the six dimension scores for an asset: the percentage of
// passed results per dimension within the window, neutral 50 where a
// dimension has no data, and the overall unweighted mean rounded to two
// decimals and clamped to [0,100]. The trend compares the overall against
// the preceding window of the same length; an unmeasured preceding window
// reads as stable.
func (s *DimensionScorer) Score(ctx context.Context, assetID string) (ScoreSet, error) {
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}

	counts, err := s.Results.CountResultsByDimension(ctx, assetID, now.Add(-s.Window))
	if err != nil {
		return ScoreSet{}, err
	}
	wide, err := s.Results.CountResultsByDimension(ctx, assetID, now.Add(-2*s.Window))
	if err != nil {
		return ScoreSet{}, err
	}

	overall, dims := aggregate(counts)
	prior := priorCounts(wide, counts)
	priorOverall, _ := aggregate(prior)

	out := ScoreSet{Dimensions: dims, Overall: overall, Trend: store.TrendStable}
	if measured(prior) {
		switch {
		case overall > priorOverall+0.5:
			out.Trend = store.TrendImproving
		case overall < priorOverall-0.5:
			out.Trend = store.TrendWorsening
		}
	}
	return out, nil
}

func aggregate(counts []store.DimensionCounts) (float64, map[string]float64) {
	byDim := make(map[string]store.DimensionCounts, len(counts))
	for _, c := range counts {
		byDim[c.Dimension] = c
	}

	dims := make(map[string]float64, len(store.Dimensions))
	sum := 0.0
	for _, dim := range store.Dimensions {
		score := NeutralScore
		if c, ok := byDim[dim]; ok && c.Passed+c.Failed > 0 {
			score = 100 * float64(c.Passed) / float64(c.Passed+c.Failed)
		}
		score = clamp(round2(score))
		dims[dim] = score
		sum += score
	}
	return clamp(round2(sum / float64(len(store.Dimensions)))), dims
}

// priorCounts subtracts the current window from the doubled window, leaving
// the counts of the window before it.
func priorCounts(wide, current []store.DimensionCounts) []store.DimensionCounts {
	recent := make(map[string]store.DimensionCounts, len(current))
	for _, c := range current {
		recent[c.Dimension] = c
	}
	var out []store.DimensionCounts
	for _, c := range wide {
		r := recent[c.Dimension]
		prior := store.DimensionCounts{
			Dimension: c.Dimension,
			Passed:    c.Passed - r.Passed,
			Failed:    c.Failed - r.Failed,
		}
		if prior.Passed > 0 || prior.Failed > 0 {
			out = append(out, prior)
		}
	}
	return out
}

func measured(counts []store.DimensionCounts) bool {
	for _, c := range counts {
		if c.Passed+c.Failed > 0 {
			return true
		}
	}
	return false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clamp(v float64) float64 {
	return math.Min(100, math.Max(0, v))
}
