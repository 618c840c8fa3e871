// Package refresh keeps registered hot entities fresh ahead of their
// staleness deadline, while the consuming view is visible and the
// network is healthy.
package refresh

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fieldsync/cachecore/internal/cache"
	"github.com/fieldsync/cachecore/internal/netstatus"
	"github.com/fieldsync/cachecore/internal/platform/clock"
	"github.com/fieldsync/cachecore/internal/platform/observability"
	"github.com/fieldsync/cachecore/internal/platform/resilience"
)

// DefaultTickInterval is how often due tasks are evaluated.
const DefaultTickInterval = 30 * time.Second

// DefaultMaxPerTick bounds how many refreshes run per tick.
const DefaultMaxPerTick = 2

// refreshIntervalFactor puts the refresh ahead of the staleness deadline.
const refreshIntervalFactor = 0.8

// Task is one registered refresh target.
type Task struct {
	Key         cache.Key
	Fetcher     cache.Fetcher
	Priority    cache.Priority
	LastRefresh time.Time
	Interval    time.Duration
}

// Refresher periodically re-fetches registered keys and writes results
// straight into the cache. All failures are logged only; a missed
// refresh costs one staleness window.
type Refresher struct {
	cache   *cache.UniversalCache
	signal  netstatus.Signal
	clk     clock.Clock
	logger  *observability.Logger
	metrics *observability.Metrics

	tickInterval time.Duration
	maxPerTick   int

	visible atomic.Bool

	mu    sync.Mutex
	tasks map[string]*Task

	stopCh  chan struct{}
	stopOne sync.Once
}

// RefresherConfig configures a Refresher.
type RefresherConfig struct {
	Cache        *cache.UniversalCache
	Signal       netstatus.Signal
	Clock        clock.Clock
	Logger       *observability.Logger
	Metrics      *observability.Metrics
	TickInterval time.Duration
	MaxPerTick   int
}

// NewRefresher creates a background refresher. It starts in the visible
// state.
func NewRefresher(cfg RefresherConfig) *Refresher {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewTestLogger()
	}
	signal := cfg.Signal
	if signal == nil {
		signal = netstatus.NewStatic()
	}
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	maxPerTick := cfg.MaxPerTick
	if maxPerTick <= 0 {
		maxPerTick = DefaultMaxPerTick
	}

	r := &Refresher{
		cache:        cfg.Cache,
		signal:       signal,
		clk:          clk,
		logger:       logger.WithComponent("refresher"),
		metrics:      cfg.Metrics,
		tickInterval: tick,
		maxPerTick:   maxPerTick,
		tasks:        make(map[string]*Task),
		stopCh:       make(chan struct{}),
	}
	r.visible.Store(true)

	return r
}

// Register adds a refresh task. The interval defaults to 80% of the
// entity policy's stale time so the refresh lands before staleness.
func (r *Refresher) Register(key cache.Key, fetcher cache.Fetcher, priority cache.Priority) {
	policy := r.cache.Policies().For(key.Entity)
	interval := time.Duration(float64(policy.StaleTime) * refreshIntervalFactor)
	r.RegisterWithInterval(key, fetcher, priority, interval)
}

// RegisterWithInterval adds a refresh task with an explicit interval.
func (r *Refresher) RegisterWithInterval(key cache.Key, fetcher cache.Fetcher, priority cache.Priority, interval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[key.String()] = &Task{
		Key:      key,
		Fetcher:  fetcher,
		Priority: priority,
		Interval: interval,
	}
}

// Unregister removes a refresh task.
func (r *Refresher) Unregister(key cache.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, key.String())
}

// TaskCount returns the number of registered tasks.
func (r *Refresher) TaskCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// SetVisible records whether the consuming view is visible. Refresh is
// suspended while hidden; regaining visibility runs a tick immediately.
func (r *Refresher) SetVisible(ctx context.Context, visible bool) {
	was := r.visible.Swap(visible)
	if visible && !was {
		r.Tick(ctx)
	}
}

// Start runs the periodic tick until Stop or context cancellation.
func (r *Refresher) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.tickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.Tick(ctx)
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the periodic tick.
func (r *Refresher) Stop() {
	r.stopOne.Do(func() { close(r.stopCh) })
}

// Tick runs one refresh cycle: select due tasks, order by priority, run
// the top few. Duplicate runs are harmless; the next write simply
// overwrites.
func (r *Refresher) Tick(ctx context.Context) {
	if !r.visible.Load() {
		r.skip(ctx, "hidden")
		return
	}
	if !r.signal.Status().AllowBackground() {
		r.skip(ctx, "network")
		return
	}

	now := r.clk.Now()

	r.mu.Lock()
	var due []*Task
	for _, task := range r.tasks {
		if now.Sub(task.LastRefresh) >= task.Interval {
			due = append(due, task)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].Priority < due[j].Priority
	})
	if len(due) > r.maxPerTick {
		due = due[:r.maxPerTick]
	}
	for _, task := range due {
		task.LastRefresh = now
	}
	r.mu.Unlock()

	for _, task := range due {
		r.run(ctx, task)
	}
}

func (r *Refresher) run(ctx context.Context, task *Task) {
	value, err := resilience.RetryWithResult(ctx, resilience.BackgroundRetryConfig(), func(ctx context.Context) (any, error) {
		return task.Fetcher(ctx)
	})
	if err != nil {
		r.logger.LogWarn(ctx, "background refresh failed", "action", "refresh", "key", task.Key.String(), "error", err)
		if r.metrics != nil {
			r.metrics.RecordError(ctx, "refresher")
		}
		return
	}

	r.cache.Set(ctx, task.Key, value, nil)

	if r.metrics != nil && r.metrics.RefreshExecuted != nil {
		r.metrics.RefreshExecuted.Add(ctx, 1)
	}
}

func (r *Refresher) skip(ctx context.Context, reason string) {
	r.logger.LogDebug(ctx, "refresh suspended", "action", "refresh", "reason", reason)
	if r.metrics != nil && r.metrics.RefreshSkipped != nil {
		r.metrics.RefreshSkipped.Add(ctx, 1)
	}
}
