package prefetch

import (
	"sort"
	"sync"
	"time"

	"github.com/fieldsync/cachecore/internal/platform/clock"
)

// BehaviorTracker accumulates raw usage signals: per-entity view counts
// and last-visit times, plus per-hour and per-weekday route histograms.
// Counts only grow; Clear resets all learned state.
type BehaviorTracker struct {
	mu         sync.Mutex
	clk        clock.Clock
	views      map[string]int
	lastVisit  map[string]time.Time
	hourRoutes [24]map[string]int
	dayRoutes  [7]map[string]int
}

// NewBehaviorTracker creates an empty tracker.
func NewBehaviorTracker(clk clock.Clock) *BehaviorTracker {
	if clk == nil {
		clk = clock.System
	}
	return &BehaviorTracker{
		clk:       clk,
		views:     make(map[string]int),
		lastVisit: make(map[string]time.Time),
	}
}

// RecordView notes one access of an entity's data.
func (t *BehaviorTracker) RecordView(entity string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.views[entity]++
	t.lastVisit[entity] = t.clk.Now()
}

// RecordRoute notes a route visit in the hour/day histograms.
func (t *BehaviorTracker) RecordRoute(route string) {
	route = NormalizeRoute(route)
	now := t.clk.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	hour := now.Hour()
	if t.hourRoutes[hour] == nil {
		t.hourRoutes[hour] = make(map[string]int)
	}
	t.hourRoutes[hour][route]++

	day := int(now.Weekday())
	if t.dayRoutes[day] == nil {
		t.dayRoutes[day] = make(map[string]int)
	}
	t.dayRoutes[day][route]++
}

// Views returns the view count for an entity.
func (t *BehaviorTracker) Views(entity string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.views[entity]
}

// MaxViews returns the highest view count across entities.
func (t *BehaviorTracker) MaxViews() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	max := 0
	for _, n := range t.views {
		if n > max {
			max = n
		}
	}
	return max
}

// Entities returns every entity with at least one recorded view.
func (t *BehaviorTracker) Entities() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.views))
	for entity := range t.views {
		out = append(out, entity)
	}
	return out
}

// LastVisit returns the last view time for an entity, if any.
func (t *BehaviorTracker) LastVisit(entity string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.lastVisit[entity]
	return ts, ok
}

// TopRoutesForHour ranks the routes most visited in the given hour.
func (t *BehaviorTracker) TopRoutesForHour(hour int, limit int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return topRoutes(t.hourRoutes[hour%24], limit)
}

// TopRoutesForDay ranks the routes most visited on the given weekday.
func (t *BehaviorTracker) TopRoutesForDay(day time.Weekday, limit int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return topRoutes(t.dayRoutes[int(day)], limit)
}

func topRoutes(counts map[string]int, limit int) []string {
	if limit <= 0 || len(counts) == 0 {
		return nil
	}

	routes := make([]string, 0, len(counts))
	for route := range counts {
		routes = append(routes, route)
	}
	sort.Slice(routes, func(i, j int) bool {
		if counts[routes[i]] != counts[routes[j]] {
			return counts[routes[i]] > counts[routes[j]]
		}
		return routes[i] < routes[j]
	})

	if len(routes) > limit {
		routes = routes[:limit]
	}
	return routes
}

// Clear resets all learned state.
func (t *BehaviorTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.views = make(map[string]int)
	t.lastVisit = make(map[string]time.Time)
	for i := range t.hourRoutes {
		t.hourRoutes[i] = nil
	}
	for i := range t.dayRoutes {
		t.dayRoutes[i] = nil
	}
}
