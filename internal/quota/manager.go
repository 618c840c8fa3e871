// Package quota watches persistent storage usage against a configured
// budget and drives eviction decisions before the store fills up.
package quota

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fieldsync/cachecore/internal/notification"
	"github.com/fieldsync/cachecore/internal/platform/clock"
	"github.com/fieldsync/cachecore/internal/platform/observability"
)

// DefaultCheckInterval is how often the monitor loop samples usage.
const DefaultCheckInterval = 5 * time.Minute

// pruneTargetFactor is where PruneCount aims: pruning stops at 80% of
// the per-entity limit so the next few writes don't immediately re-trip.
const pruneTargetFactor = 0.8

// Status is one quota snapshot.
type Status struct {
	TotalUsage     int64
	QuotaAvailable int64
	UsagePercent   float64
	IsWarning      bool
	IsCritical     bool
}

// Manager tracks storage usage against the configured budget, keeps
// per-key access recency for LRU decisions, and enforces per-entity
// entry limits. All checks fail soft: if usage cannot be read the cache
// keeps working and only monitoring degrades.
type Manager struct {
	provider UsageProvider
	alerter  notification.Alerter
	clk      clock.Clock
	logger   *observability.Logger
	metrics  *observability.Metrics

	totalBytes       int64
	warningPercent   float64
	criticalPercent  float64
	entityLimits     map[string]int
	defaultEntityMax int
	checkInterval    time.Duration

	mu         sync.Mutex
	lastAccess map[string]time.Time
	alerted    bool

	stopCh  chan struct{}
	stopOne sync.Once
}

// ManagerConfig configures a quota Manager.
type ManagerConfig struct {
	Provider UsageProvider
	Alerter  notification.Alerter
	Clock    clock.Clock
	Logger   *observability.Logger
	Metrics  *observability.Metrics

	TotalBytes       int64
	WarningPercent   float64
	CriticalPercent  float64
	EntityLimits     map[string]int
	DefaultEntityMax int
	CheckInterval    time.Duration
}

// NewManager creates a quota manager.
func NewManager(cfg ManagerConfig) *Manager {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewTestLogger()
	}
	warning := cfg.WarningPercent
	if warning <= 0 {
		warning = 70
	}
	critical := cfg.CriticalPercent
	if critical <= 0 {
		critical = 90
	}
	defaultMax := cfg.DefaultEntityMax
	if defaultMax <= 0 {
		defaultMax = 500
	}
	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = DefaultCheckInterval
	}

	return &Manager{
		provider:         cfg.Provider,
		alerter:          cfg.Alerter,
		clk:              clk,
		logger:           logger.WithComponent("quota"),
		metrics:          cfg.Metrics,
		totalBytes:       cfg.TotalBytes,
		warningPercent:   warning,
		criticalPercent:  critical,
		entityLimits:     cfg.EntityLimits,
		defaultEntityMax: defaultMax,
		checkInterval:    interval,
		lastAccess:       make(map[string]time.Time),
		stopCh:           make(chan struct{}),
	}
}

// Check samples current usage and classifies it against the thresholds.
func (m *Manager) Check(ctx context.Context) (Status, error) {
	usage, err := m.provider.Usage(ctx)
	if err != nil {
		m.logger.LogWarn(ctx, "usage estimate unavailable", "action", "check", "error", err)
		return Status{}, err
	}

	status := Status{
		TotalUsage:     usage,
		QuotaAvailable: m.totalBytes - usage,
	}
	if status.QuotaAvailable < 0 {
		status.QuotaAvailable = 0
	}
	if m.totalBytes > 0 {
		status.UsagePercent = float64(usage) / float64(m.totalBytes) * 100
	}
	status.IsWarning = status.UsagePercent >= m.warningPercent
	status.IsCritical = status.UsagePercent >= m.criticalPercent

	if m.metrics != nil && m.metrics.QuotaUsagePercent != nil {
		m.metrics.QuotaUsagePercent.Record(ctx, status.UsagePercent)
	}

	m.maybeAlert(ctx, status)
	return status, nil
}

// maybeAlert publishes one alert per excursion above critical; re-arming
// requires dropping back below the threshold first.
func (m *Manager) maybeAlert(ctx context.Context, status Status) {
	m.mu.Lock()
	fire := status.IsCritical && !m.alerted
	m.alerted = status.IsCritical
	m.mu.Unlock()

	if !fire || m.alerter == nil {
		return
	}

	alert := notification.QuotaAlert{
		Level:        notification.LevelCritical,
		UsageBytes:   status.TotalUsage,
		QuotaBytes:   m.totalBytes,
		UsagePercent: status.UsagePercent,
		Timestamp:    m.clk.Now(),
	}
	if err := m.alerter.PublishQuotaAlert(ctx, alert); err != nil {
		m.logger.LogWarn(ctx, "quota alert failed", "action", "alert", "error", err)
	}
}

// RecordAccess notes a key read/write for LRU ordering.
func (m *Manager) RecordAccess(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAccess[key] = m.clk.Now()
}

// Forget drops a key from the access index, after it is evicted.
func (m *Manager) Forget(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lastAccess, key)
}

// LRUKeys returns up to n tracked keys, least recently accessed first.
func (m *Manager) LRUKeys(n int) []string {
	if n <= 0 {
		return nil
	}

	m.mu.Lock()
	keys := make([]string, 0, len(m.lastAccess))
	for k := range m.lastAccess {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ti, tj := m.lastAccess[keys[i]], m.lastAccess[keys[j]]
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return keys[i] < keys[j]
	})
	m.mu.Unlock()

	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

// EntityLimit returns the max cached entries for an entity.
func (m *Manager) EntityLimit(entity string) int {
	if limit, ok := m.entityLimits[entity]; ok {
		return limit
	}
	return m.defaultEntityMax
}

// WithinLimit reports whether an entity's entry count is under its limit.
func (m *Manager) WithinLimit(entity string, count int) bool {
	return count < m.EntityLimit(entity)
}

// PruneCount returns how many of an entity's entries to evict: zero
// while under the limit, otherwise enough to land at the prune target.
func (m *Manager) PruneCount(entity string, count int) int {
	limit := m.EntityLimit(entity)
	if count <= limit {
		return 0
	}
	target := int(float64(limit) * pruneTargetFactor)
	return count - target
}

// RequestPersistence asks the platform to protect cached data from
// external eviction. No backing store here offers that guarantee, so
// this fails soft.
func (m *Manager) RequestPersistence(ctx context.Context) bool {
	return false
}

// IsPersisted reports whether the store is protected from external
// eviction. Fail-soft false, matching RequestPersistence.
func (m *Manager) IsPersisted(ctx context.Context) bool {
	return false
}

// Start runs the periodic usage check until Stop or context cancel.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.checkInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if status, err := m.Check(ctx); err == nil && status.IsWarning {
					m.logger.LogWarn(ctx, "storage quota pressure",
						"action", "check",
						"usage_percent", status.UsagePercent,
						"critical", status.IsCritical,
					)
				}
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the monitor loop.
func (m *Manager) Stop() {
	m.stopOne.Do(func() { close(m.stopCh) })
}
