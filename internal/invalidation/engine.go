// Package invalidation removes cache entries on demand, on schedule and
// on named business events.
package invalidation

import (
	"context"

	"github.com/fieldsync/cachecore/internal/platform/observability"
)

// Invalidation causes, attached to every removal for observability.
const (
	CauseManual    = "manual"
	CauseScheduled = "scheduled"
	CauseSync      = "sync"
)

// EventCause builds the cause tag for an event-driven invalidation.
func EventCause(event string) string {
	return "event:" + event
}

// Cache is the invalidation surface of the universal cache.
type Cache interface {
	Invalidate(ctx context.Context, target string) int
}

// Announcer propagates invalidations to other processes. Implemented by
// the sync manager; nil disables propagation.
type Announcer interface {
	AnnounceInvalidation(ctx context.Context, target, cause string)
}

// Engine is a thin pass-through to the cache's Invalidate, tagging each
// call with its cause and fanning it out cross-process.
type Engine struct {
	cache     Cache
	announcer Announcer
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	Cache     Cache
	Announcer Announcer
	Logger    *observability.Logger
	Metrics   *observability.Metrics
}

// NewEngine creates an invalidation engine.
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewTestLogger()
	}
	return &Engine{
		cache:     cfg.Cache,
		announcer: cfg.Announcer,
		logger:    logger.WithComponent("invalidation"),
		metrics:   cfg.Metrics,
	}
}

// Invalidate removes entries matching target (exact key or tag) and
// returns the number removed. Sync-caused invalidations are not
// re-announced, so a broadcast cannot loop between processes.
func (e *Engine) Invalidate(ctx context.Context, target, cause string) int {
	removed := e.cache.Invalidate(ctx, target)

	e.logger.LogDebug(ctx, "invalidated", "action", "invalidate", "target", target, "cause", cause, "removed", removed)
	if e.metrics != nil {
		e.metrics.RecordInvalidation(ctx, cause)
	}

	if e.announcer != nil && cause != CauseSync {
		e.announcer.AnnounceInvalidation(ctx, target, cause)
	}

	return removed
}
