// Package prefetch predicts likely-needed data from observed navigation
// and access behavior, and schedules fetches ahead of need.
package prefetch

import (
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/fieldsync/cachecore/internal/platform/clock"
)

// maxEdgesPerRoute caps each route's learned outgoing edge set.
const maxEdgesPerRoute = 10

// RouteTransition is one learned edge in the navigation graph. Counts
// only increase; pruning drops whole edges, never decrements.
type RouteTransition struct {
	From     string
	To       string
	Count    int
	LastSeen time.Time
}

// staticNext is the fallback navigation hierarchy consulted when the
// learned graph has nothing for a route.
var staticNext = map[string][]string{
	"/dashboard":    {"/orders", "/maintenance", "/clients"},
	"/orders":       {"/orders/:id", "/clients", "/products"},
	"/orders/:id":   {"/clients/:id", "/invoices"},
	"/clients":      {"/clients/:id", "/orders"},
	"/clients/:id":  {"/orders", "/maintenance"},
	"/products":     {"/orders", "/suppliers"},
	"/maintenance":  {"/maintenance/:id", "/clients"},
	"/maintenance/:id": {"/clients/:id", "/technicians"},
	"/invoices":     {"/orders", "/clients"},
}

// routeEntities maps each route to the entities its view displays.
var routeEntities = map[string][]string{
	"/dashboard":       {"orders", "maintenance-visits"},
	"/orders":          {"orders"},
	"/orders/:id":      {"orders", "clients", "products"},
	"/clients":         {"clients"},
	"/clients/:id":     {"clients", "orders"},
	"/products":        {"products"},
	"/suppliers":       {"suppliers"},
	"/maintenance":     {"maintenance-visits"},
	"/maintenance/:id": {"maintenance-visits", "technicians"},
	"/invoices":        {"invoices"},
}

// RoutePredictor learns a transition graph over normalized navigation
// targets and predicts the next routes from the current one.
type RoutePredictor struct {
	mu          sync.Mutex
	transitions map[string]map[string]*RouteTransition
	clk         clock.Clock
}

// NewRoutePredictor creates a route predictor.
func NewRoutePredictor(clk clock.Clock) *RoutePredictor {
	if clk == nil {
		clk = clock.System
	}
	return &RoutePredictor{
		transitions: make(map[string]map[string]*RouteTransition),
		clk:         clk,
	}
}

// NormalizeRoute collapses dynamic path segments to ":id" so
// /orders/42 and /orders/7 land on the same graph node.
func NormalizeRoute(path string) string {
	if path == "" || path == "/" {
		return "/"
	}

	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, seg := range segments {
		if isDynamicSegment(seg) {
			segments[i] = ":id"
		}
	}
	return "/" + strings.Join(segments, "/")
}

// isDynamicSegment treats purely numeric segments and long hex/uuid-like
// identifiers as dynamic.
func isDynamicSegment(seg string) bool {
	if seg == "" {
		return false
	}

	numeric := true
	hexLike := true
	for _, r := range seg {
		if !unicode.IsDigit(r) {
			numeric = false
		}
		if !strings.ContainsRune("0123456789abcdefABCDEF-", r) {
			hexLike = false
		}
	}
	if numeric {
		return true
	}
	// UUIDs and similar opaque ids: long, hex-ish, and containing a digit.
	return hexLike && len(seg) >= 12 && strings.ContainsAny(seg, "0123456789")
}

// RecordNavigation learns one transition, pruning the source's edge set
// to its top-10 by count.
func (p *RoutePredictor) RecordNavigation(from, to string) {
	from = NormalizeRoute(from)
	to = NormalizeRoute(to)
	if from == to {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	edges, ok := p.transitions[from]
	if !ok {
		edges = make(map[string]*RouteTransition)
		p.transitions[from] = edges
	}

	if edge, ok := edges[to]; ok {
		edge.Count++
		edge.LastSeen = p.clk.Now()
	} else {
		edges[to] = &RouteTransition{From: from, To: to, Count: 1, LastSeen: p.clk.Now()}
	}

	if len(edges) > maxEdgesPerRoute {
		var weakest string
		weakestCount := -1
		for to, edge := range edges {
			if weakestCount == -1 || edge.Count < weakestCount {
				weakest = to
				weakestCount = edge.Count
			}
		}
		delete(edges, weakest)
	}
}

// PredictNextRoutes returns up to limit likely next routes: learned
// edges by descending count first, then the static hierarchy.
func (p *RoutePredictor) PredictNextRoutes(current string, limit int) []string {
	if limit <= 0 {
		return nil
	}
	current = NormalizeRoute(current)

	p.mu.Lock()
	learned := make([]*RouteTransition, 0, len(p.transitions[current]))
	for _, edge := range p.transitions[current] {
		learned = append(learned, edge)
	}
	p.mu.Unlock()

	sort.Slice(learned, func(i, j int) bool {
		if learned[i].Count != learned[j].Count {
			return learned[i].Count > learned[j].Count
		}
		return learned[i].To < learned[j].To
	})

	var out []string
	seen := make(map[string]bool)
	for _, edge := range learned {
		if len(out) == limit {
			return out
		}
		if !seen[edge.To] {
			seen[edge.To] = true
			out = append(out, edge.To)
		}
	}

	for _, route := range staticNext[current] {
		if len(out) == limit {
			break
		}
		if !seen[route] {
			seen[route] = true
			out = append(out, route)
		}
	}

	return out
}

// PredictedEntities unions the entities displayed by the predicted next
// routes, in prediction order.
func (p *RoutePredictor) PredictedEntities(current string, routeLimit int) []string {
	var out []string
	seen := make(map[string]bool)
	for _, route := range p.PredictNextRoutes(current, routeLimit) {
		for _, entity := range routeEntities[route] {
			if !seen[entity] {
				seen[entity] = true
				out = append(out, entity)
			}
		}
	}
	return out
}

// EntitiesForRoute returns the entities a route displays.
func EntitiesForRoute(route string) []string {
	return routeEntities[NormalizeRoute(route)]
}

// Clear drops all learned transitions.
func (p *RoutePredictor) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transitions = make(map[string]map[string]*RouteTransition)
}
