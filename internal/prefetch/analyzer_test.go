package prefetch

import (
	"testing"
	"time"

	"github.com/fieldsync/cachecore/internal/platform/clock"
)

// Tuesday 10:00, inside working hours.
var analyzerNow = time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)

// TestBehaviorTracker_ViewsAndRecency verifies the raw counters
func TestBehaviorTracker_ViewsAndRecency(t *testing.T) {
	clk := clock.NewManual(analyzerNow)
	tr := NewBehaviorTracker(clk)

	tr.RecordView("orders")
	tr.RecordView("orders")
	clk.Advance(time.Hour)
	tr.RecordView("clients")

	if tr.Views("orders") != 2 || tr.Views("clients") != 1 {
		t.Errorf("View counts wrong: orders=%d clients=%d", tr.Views("orders"), tr.Views("clients"))
	}
	if tr.MaxViews() != 2 {
		t.Errorf("MaxViews = %d, want 2", tr.MaxViews())
	}

	last, ok := tr.LastVisit("clients")
	if !ok || !last.Equal(analyzerNow.Add(time.Hour)) {
		t.Errorf("LastVisit wrong: %v %v", last, ok)
	}
	if _, ok := tr.LastVisit("never-seen"); ok {
		t.Error("LastVisit for unseen entity must report absent")
	}

	t.Log("✓ Tracker accumulates views and last-visit times")
}

// TestBehaviorTracker_TimeHistograms verifies per-hour and per-day ranking
func TestBehaviorTracker_TimeHistograms(t *testing.T) {
	clk := clock.NewManual(analyzerNow) // Tuesday 10:00
	tr := NewBehaviorTracker(clk)

	tr.RecordRoute("/orders")
	tr.RecordRoute("/orders")
	tr.RecordRoute("/clients")

	top := tr.TopRoutesForHour(10, 2)
	if len(top) != 2 || top[0] != "/orders" {
		t.Errorf("Hour ranking wrong: %v", top)
	}
	if got := tr.TopRoutesForHour(11, 5); len(got) != 0 {
		t.Errorf("Untouched hour must be empty, got %v", got)
	}

	topDay := tr.TopRoutesForDay(time.Tuesday, 5)
	if len(topDay) != 2 || topDay[0] != "/orders" {
		t.Errorf("Day ranking wrong: %v", topDay)
	}

	tr.Clear()
	if tr.MaxViews() != 0 || len(tr.TopRoutesForHour(10, 5)) != 0 {
		t.Error("Clear must reset all learned state")
	}

	t.Log("✓ Route histograms rank by hour and weekday")
}

// TestAnalyzer_FrequencyRaisesScore verifies more-viewed entities score higher
func TestAnalyzer_FrequencyRaisesScore(t *testing.T) {
	clk := clock.NewManual(analyzerNow)
	tr := NewBehaviorTracker(clk)
	p := NewRoutePredictor(clk)
	a := NewPatternAnalyzer(tr, p, clk)

	for i := 0; i < 10; i++ {
		tr.RecordView("orders")
	}
	tr.RecordView("clients")

	scores := a.Analyze("/dashboard", 10)
	if len(scores) < 2 {
		t.Fatalf("Expected at least 2 candidates, got %v", scores)
	}

	byEntity := map[string]Score{}
	for _, s := range scores {
		byEntity[s.Entity] = s
	}

	if byEntity["orders"].Score <= byEntity["clients"].Score {
		t.Errorf("Frequency signal inverted: orders=%.1f clients=%.1f",
			byEntity["orders"].Score, byEntity["clients"].Score)
	}

	t.Log("✓ Higher view frequency produces a higher score")
}

// TestAnalyzer_ConfidenceScalesWithSignals verifies confidence = signals/5
func TestAnalyzer_ConfidenceScalesWithSignals(t *testing.T) {
	clk := clock.NewManual(analyzerNow)
	tr := NewBehaviorTracker(clk)
	p := NewRoutePredictor(clk)
	a := NewPatternAnalyzer(tr, p, clk)

	// orders gets every signal: views (frequency + recency), hour and day
	// histograms via a route that displays it, and a learned transition.
	tr.RecordView("orders")
	tr.RecordRoute("/orders")
	p.RecordNavigation("/dashboard", "/orders")

	// suppliers only appears via a static-fallback route prediction.
	scores := a.Analyze("/dashboard", 20)

	var orders *Score
	for i := range scores {
		if scores[i].Entity == "orders" {
			orders = &scores[i]
		}
	}
	if orders == nil {
		t.Fatalf("orders missing from %v", scores)
	}

	if orders.Confidence != 1.0 {
		t.Errorf("All five signals present, confidence = %.2f, reasons = %v", orders.Confidence, orders.Reasons)
	}
	if len(orders.Reasons) != 5 {
		t.Errorf("Expected 5 reasons, got %v", orders.Reasons)
	}

	for _, s := range scores {
		if s.Entity != "orders" && s.Confidence >= orders.Confidence {
			t.Errorf("Entity %s with %v signals should trail orders' confidence", s.Entity, s.Reasons)
		}
	}

	t.Log("✓ Confidence reflects the fraction of contributing signals")
}

// TestAnalyzer_LimitAndOrdering verifies descending order and truncation
func TestAnalyzer_LimitAndOrdering(t *testing.T) {
	clk := clock.NewManual(analyzerNow)
	tr := NewBehaviorTracker(clk)
	a := NewPatternAnalyzer(tr, NewRoutePredictor(clk), clk)

	tr.RecordView("orders")
	tr.RecordView("orders")
	tr.RecordView("clients")
	tr.RecordView("products")

	scores := a.Analyze("/dashboard", 2)
	if len(scores) != 2 {
		t.Fatalf("Limit not applied: %v", scores)
	}
	if scores[0].Score < scores[1].Score {
		t.Errorf("Scores not descending: %v", scores)
	}
	if scores[0].Entity != "orders" {
		t.Errorf("Hottest entity must rank first, got %v", scores)
	}

	if got := a.Analyze("/dashboard", 0); got != nil {
		t.Errorf("Zero limit must return nil, got %v", got)
	}

	t.Log("✓ Results are descending and truncated to the limit")
}
