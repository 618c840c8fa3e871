package prefetch

import (
	"math"
	"sort"

	"github.com/fieldsync/cachecore/internal/platform/clock"
)

// Signal weights. Each signal is independently capped by construction:
// frequency tops out at 30, rank ladders at their first element, recency
// at 20.
var (
	hourRankPoints       = []float64{20, 16, 12, 8, 4}
	dayRankPoints        = []float64{15, 12, 9, 6, 3}
	transitionRankPoints = []float64{25, 20, 15, 10, 5}
)

const (
	frequencyWeight  = 30.0
	recencyWeight    = 20.0
	recencyDecayRate = 0.1
	signalKinds      = 5
)

// Score ranks one candidate entity for the current prediction cycle.
// Ephemeral; recomputed every cycle, never persisted.
type Score struct {
	Entity     string
	Score      float64
	Confidence float64
	Reasons    []string
}

// PatternAnalyzer combines behavior and navigation signals into a
// ranked list of entities worth prefetching.
type PatternAnalyzer struct {
	tracker   *BehaviorTracker
	predictor *RoutePredictor
	clk       clock.Clock
}

// NewPatternAnalyzer creates an analyzer over a tracker and a predictor.
func NewPatternAnalyzer(tracker *BehaviorTracker, predictor *RoutePredictor, clk clock.Clock) *PatternAnalyzer {
	if clk == nil {
		clk = clock.System
	}
	return &PatternAnalyzer{
		tracker:   tracker,
		predictor: predictor,
		clk:       clk,
	}
}

// Analyze scores candidate entities for the current route and moment,
// descending by score, truncated to limit.
func (a *PatternAnalyzer) Analyze(currentRoute string, limit int) []Score {
	if limit <= 0 {
		return nil
	}

	now := a.clk.Now()

	predictedRoutes := a.predictor.PredictNextRoutes(currentRoute, len(transitionRankPoints))
	hourRoutes := a.tracker.TopRoutesForHour(now.Hour(), len(hourRankPoints))
	dayRoutes := a.tracker.TopRoutesForDay(now.Weekday(), len(dayRankPoints))

	candidates := a.collectCandidates(predictedRoutes, hourRoutes, dayRoutes)

	maxViews := a.tracker.MaxViews()

	scores := make([]Score, 0, len(candidates))
	for _, entity := range candidates {
		s := Score{Entity: entity}
		signals := 0

		// Frequency: relative share of the hottest entity's views.
		if views := a.tracker.Views(entity); views > 0 && maxViews > 0 {
			s.Score += float64(views) / float64(maxViews) * frequencyWeight
			s.Reasons = append(s.Reasons, "frequency")
			signals++
		}

		// Time-of-day affinity: best rank among this hour's top routes.
		if pts := bestRankPoints(entity, hourRoutes, hourRankPoints); pts > 0 {
			s.Score += pts
			s.Reasons = append(s.Reasons, "hour-affinity")
			signals++
		}

		// Day-of-week affinity.
		if pts := bestRankPoints(entity, dayRoutes, dayRankPoints); pts > 0 {
			s.Score += pts
			s.Reasons = append(s.Reasons, "day-affinity")
			signals++
		}

		// Recency: exponential decay over days since last visit.
		if last, ok := a.tracker.LastVisit(entity); ok {
			days := now.Sub(last).Hours() / 24
			s.Score += recencyWeight * math.Exp(-recencyDecayRate*days)
			s.Reasons = append(s.Reasons, "recency")
			signals++
		}

		// Transition probability: rank of the predicted route showing it.
		if pts := bestRankPoints(entity, predictedRoutes, transitionRankPoints); pts > 0 {
			s.Score += pts
			s.Reasons = append(s.Reasons, "transition")
			signals++
		}

		s.Confidence = math.Min(float64(signals)/signalKinds, 1)
		scores = append(scores, s)
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].Entity < scores[j].Entity
	})

	if len(scores) > limit {
		scores = scores[:limit]
	}
	return scores
}

// collectCandidates unions tracked entities with those shown by any
// route under consideration.
func (a *PatternAnalyzer) collectCandidates(routeSets ...[]string) []string {
	seen := make(map[string]bool)
	var out []string

	add := func(entity string) {
		if !seen[entity] {
			seen[entity] = true
			out = append(out, entity)
		}
	}

	for _, entity := range a.tracker.Entities() {
		add(entity)
	}
	for _, routes := range routeSets {
		for _, route := range routes {
			for _, entity := range routeEntities[route] {
				add(entity)
			}
		}
	}
	return out
}

// bestRankPoints returns the points for the best-ranked route that
// displays entity, or 0.
func bestRankPoints(entity string, rankedRoutes []string, points []float64) float64 {
	for rank, route := range rankedRoutes {
		if rank >= len(points) {
			break
		}
		for _, e := range routeEntities[route] {
			if e == entity {
				return points[rank]
			}
		}
	}
	return 0
}
