package invalidation

import (
	"context"
	"sync"
	"time"

	"github.com/fieldsync/cachecore/internal/platform/clock"
	"github.com/fieldsync/cachecore/internal/platform/config"
	"github.com/fieldsync/cachecore/internal/platform/observability"
)

// DefaultTickInterval is how often the scheduler evaluates its table.
const DefaultTickInterval = 60 * time.Second

// ScheduledInvalidation is one time-driven invalidation rule.
type ScheduledInvalidation struct {
	Entity            string
	Interval          time.Duration
	LastRun           time.Time
	Enabled           bool
	BusinessHoursOnly bool
}

// EventTrigger maps a named business event to the entities it stales.
// Condition, when set, is evaluated against the event payload.
type EventTrigger struct {
	Event     string
	Targets   []string
	Condition func(payload any) bool
}

// Scheduler owns the time-based and event-based invalidation tables and
// delegates the actual removals to the Engine.
type Scheduler struct {
	engine       *Engine
	clk          clock.Clock
	logger       *observability.Logger
	tickInterval time.Duration
	window       config.BusinessHoursConfig

	mu        sync.Mutex
	scheduled map[string]*ScheduledInvalidation
	triggers  map[string][]EventTrigger

	stopCh  chan struct{}
	stopOne sync.Once
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Engine        *Engine
	Clock         clock.Clock
	Logger        *observability.Logger
	TickInterval  time.Duration
	BusinessHours config.BusinessHoursConfig
}

// NewScheduler creates an invalidation scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewTestLogger()
	}
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	window := cfg.BusinessHours
	if window.EndHour == 0 {
		window = config.BusinessHoursConfig{StartHour: 8, EndHour: 18}
	}

	return &Scheduler{
		engine:       cfg.Engine,
		clk:          clk,
		logger:       logger.WithComponent("invalidation-scheduler"),
		tickInterval: tick,
		window:       window,
		scheduled:    make(map[string]*ScheduledInvalidation),
		triggers:     make(map[string][]EventTrigger),
		stopCh:       make(chan struct{}),
	}
}

// Schedule registers (or replaces) a time-based rule for an entity.
func (s *Scheduler) Schedule(entity string, interval time.Duration, businessHoursOnly bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled[entity] = &ScheduledInvalidation{
		Entity:            entity,
		Interval:          interval,
		Enabled:           true,
		BusinessHoursOnly: businessHoursOnly,
	}
}

// Unschedule removes the time-based rule for an entity.
func (s *Scheduler) Unschedule(entity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scheduled, entity)
}

// SetEnabled toggles a rule without losing its lastRun state.
func (s *Scheduler) SetEnabled(entity string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rule, ok := s.scheduled[entity]; ok {
		rule.Enabled = enabled
	}
}

// On registers an event trigger.
func (s *Scheduler) On(trigger EventTrigger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers[trigger.Event] = append(s.triggers[trigger.Event], trigger)
}

// Fire delivers a named event. Every target of every passing trigger is
// invalidated with an event-tagged cause.
func (s *Scheduler) Fire(ctx context.Context, event string, payload any) {
	s.mu.Lock()
	triggers := append([]EventTrigger(nil), s.triggers[event]...)
	s.mu.Unlock()

	for _, trigger := range triggers {
		if trigger.Condition != nil && !trigger.Condition(payload) {
			continue
		}
		for _, target := range trigger.Targets {
			s.engine.Invalidate(ctx, target, EventCause(event))
		}
	}
}

// Start runs the periodic tick until Stop or context cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Tick(ctx)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the periodic tick.
func (s *Scheduler) Stop() {
	s.stopOne.Do(func() { close(s.stopCh) })
}

// Tick evaluates the time-based table once. Re-running within an
// interval is a no-op: eligibility is gated on lastRun + interval.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.clk.Now()

	s.mu.Lock()
	var due []*ScheduledInvalidation
	for _, rule := range s.scheduled {
		if !rule.Enabled {
			continue
		}
		if now.Sub(rule.LastRun) < rule.Interval {
			continue
		}
		if rule.BusinessHoursOnly && !s.inBusinessHours(now) {
			continue
		}
		rule.LastRun = now
		due = append(due, rule)
	}
	s.mu.Unlock()

	for _, rule := range due {
		s.engine.Invalidate(ctx, rule.Entity, CauseScheduled)
	}
}

// inBusinessHours reports whether t falls Mon-Fri within the configured
// local-time window.
func (s *Scheduler) inBusinessHours(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	hour := t.Hour()
	return hour >= s.window.StartHour && hour < s.window.EndHour
}
