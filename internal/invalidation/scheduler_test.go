package invalidation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fieldsync/cachecore/internal/platform/clock"
	"github.com/fieldsync/cachecore/internal/platform/config"
)

// fakeCache records invalidation targets.
type fakeCache struct {
	mu      sync.Mutex
	targets []string
}

func (f *fakeCache) Invalidate(ctx context.Context, target string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, target)
	return 1
}

func (f *fakeCache) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.targets...)
}

// fakeAnnouncer records broadcast invalidations.
type fakeAnnouncer struct {
	mu     sync.Mutex
	causes []string
}

func (f *fakeAnnouncer) AnnounceInvalidation(ctx context.Context, target, cause string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.causes = append(f.causes, cause)
}

func (f *fakeAnnouncer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.causes)
}

// TestEngine_SyncCauseNotReAnnounced verifies broadcast loops are impossible
func TestEngine_SyncCauseNotReAnnounced(t *testing.T) {
	cache := &fakeCache{}
	announcer := &fakeAnnouncer{}
	engine := NewEngine(EngineConfig{Cache: cache, Announcer: announcer})

	ctx := context.Background()

	engine.Invalidate(ctx, "orders", CauseManual)
	if announcer.count() != 1 {
		t.Fatalf("Manual invalidation must announce, got %d", announcer.count())
	}

	engine.Invalidate(ctx, "orders", CauseSync)
	if announcer.count() != 1 {
		t.Errorf("Sync-caused invalidation must not re-announce, got %d", announcer.count())
	}

	if len(cache.calls()) != 2 {
		t.Errorf("Both invalidations must reach the cache, got %v", cache.calls())
	}

	t.Log("✓ Sync-caused invalidations are applied but never re-broadcast")
}

// TestScheduler_IntervalGate verifies a rule runs at most once per interval
func TestScheduler_IntervalGate(t *testing.T) {
	cache := &fakeCache{}
	engine := NewEngine(EngineConfig{Cache: cache})
	clk := clock.NewManual(time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)) // Tuesday

	s := NewScheduler(SchedulerConfig{Engine: engine, Clock: clk})
	s.Schedule("orders", 15*time.Minute, false)

	ctx := context.Background()

	s.Tick(ctx)
	s.Tick(ctx)
	if got := len(cache.calls()); got != 1 {
		t.Fatalf("Repeated ticks within the interval must fire once, got %d", got)
	}

	clk.Advance(15 * time.Minute)
	s.Tick(ctx)
	if got := len(cache.calls()); got != 2 {
		t.Errorf("Expected second fire after interval, got %d", got)
	}

	t.Log("✓ Scheduled rules are gated on lastRun + interval")
}

// TestScheduler_BusinessHoursWindow verifies business-hours-only rules skip off hours
func TestScheduler_BusinessHoursWindow(t *testing.T) {
	cache := &fakeCache{}
	engine := NewEngine(EngineConfig{Cache: cache})

	// Saturday 10:00: inside the hour window, wrong day.
	clk := clock.NewManual(time.Date(2026, 3, 7, 10, 0, 0, 0, time.UTC))
	s := NewScheduler(SchedulerConfig{
		Engine:        engine,
		Clock:         clk,
		BusinessHours: config.BusinessHoursConfig{StartHour: 8, EndHour: 18},
	})
	s.Schedule("orders", time.Minute, true)

	ctx := context.Background()

	s.Tick(ctx)
	if len(cache.calls()) != 0 {
		t.Fatalf("Saturday tick must not fire, got %v", cache.calls())
	}

	// Monday 07:00: right day, before the window opens.
	clk.Set(time.Date(2026, 3, 9, 7, 0, 0, 0, time.UTC))
	s.Tick(ctx)
	if len(cache.calls()) != 0 {
		t.Fatalf("Pre-window tick must not fire, got %v", cache.calls())
	}

	// Monday 09:30: inside the window.
	clk.Set(time.Date(2026, 3, 9, 9, 30, 0, 0, time.UTC))
	s.Tick(ctx)
	if len(cache.calls()) != 1 {
		t.Errorf("In-window tick must fire, got %v", cache.calls())
	}

	// Monday 18:00: window end is exclusive.
	clk.Set(time.Date(2026, 3, 9, 18, 0, 0, 0, time.UTC))
	s.Tick(ctx)
	if len(cache.calls()) != 1 {
		t.Errorf("End-of-window tick must not fire, got %v", cache.calls())
	}

	t.Log("✓ Business-hours rules fire only Mon-Fri inside [start, end)")
}

// TestScheduler_DisabledRuleSkipped verifies SetEnabled gates firing
func TestScheduler_DisabledRuleSkipped(t *testing.T) {
	cache := &fakeCache{}
	engine := NewEngine(EngineConfig{Cache: cache})
	clk := clock.NewManual(time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC))

	s := NewScheduler(SchedulerConfig{Engine: engine, Clock: clk})
	s.Schedule("orders", time.Minute, false)
	s.SetEnabled("orders", false)

	s.Tick(context.Background())
	if len(cache.calls()) != 0 {
		t.Errorf("Disabled rule fired: %v", cache.calls())
	}

	s.SetEnabled("orders", true)
	s.Tick(context.Background())
	if len(cache.calls()) != 1 {
		t.Errorf("Re-enabled rule must fire, got %v", cache.calls())
	}

	t.Log("✓ Disabled rules are skipped without losing state")
}

// TestScheduler_EventTriggers verifies conditional event fan-out
func TestScheduler_EventTriggers(t *testing.T) {
	cache := &fakeCache{}
	engine := NewEngine(EngineConfig{Cache: cache})
	s := NewScheduler(SchedulerConfig{Engine: engine})

	s.On(EventTrigger{
		Event:   "order-completed",
		Targets: []string{"orders", "invoices"},
	})
	s.On(EventTrigger{
		Event:   "order-completed",
		Targets: []string{"clients"},
		Condition: func(payload any) bool {
			m, ok := payload.(map[string]any)
			return ok && m["vip"] == true
		},
	})

	ctx := context.Background()

	s.Fire(ctx, "order-completed", map[string]any{"vip": false})
	if got := cache.calls(); len(got) != 2 {
		t.Fatalf("Expected unconditional targets only, got %v", got)
	}

	s.Fire(ctx, "order-completed", map[string]any{"vip": true})
	if got := cache.calls(); len(got) != 5 {
		t.Errorf("Expected conditional trigger to join, got %v", got)
	}

	s.Fire(ctx, "unknown-event", nil)
	if got := cache.calls(); len(got) != 5 {
		t.Errorf("Unknown events must be no-ops, got %v", got)
	}

	t.Log("✓ Event triggers fan out to their targets, honoring conditions")
}
