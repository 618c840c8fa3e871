package cache

import (
	"time"

	"github.com/fieldsync/cachecore/internal/platform/config"
)

// Priority orders prefetch and refresh work. Lower values run first.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// ParsePriority maps a config string to a Priority, defaulting to medium.
func ParsePriority(s string) Priority {
	switch s {
	case "critical":
		return PriorityCritical
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// OfflineSupport declares which mutations an entity supports while offline.
type OfflineSupport string

const (
	OfflineFullCRUD   OfflineSupport = "full-crud"
	OfflineReadUpdate OfflineSupport = "read-update"
	OfflineReadCreate OfflineSupport = "read-create"
	OfflineReadOnly   OfflineSupport = "read-only"
)

// Policy is the per-entity timing, priority and offline configuration.
type Policy struct {
	StaleTime        time.Duration
	GCTime           time.Duration
	MaxAge           time.Duration
	PrefetchPriority Priority
	OfflineSupport   OfflineSupport
}

// DefaultPolicy applies to entities with no explicit configuration:
// 5 minutes stale, 24 hours gc, medium priority, read-only offline.
func DefaultPolicy() Policy {
	return Policy{
		StaleTime:        5 * time.Minute,
		GCTime:           24 * time.Hour,
		PrefetchPriority: PriorityMedium,
		OfflineSupport:   OfflineReadOnly,
	}
}

// PolicyTable looks up cache policies by entity name.
type PolicyTable struct {
	policies map[string]Policy
	fallback Policy
}

// NewPolicyTable builds a table from per-entity policies. Unknown entities
// resolve to DefaultPolicy.
func NewPolicyTable(policies map[string]Policy) *PolicyTable {
	if policies == nil {
		policies = make(map[string]Policy)
	}
	return &PolicyTable{
		policies: policies,
		fallback: DefaultPolicy(),
	}
}

// NewPolicyTableFromConfig converts config policy sections into a table.
func NewPolicyTableFromConfig(cfg map[string]config.Policy) *PolicyTable {
	policies := make(map[string]Policy, len(cfg))
	for entity, p := range cfg {
		policy := DefaultPolicy()
		if p.StaleTime > 0 {
			policy.StaleTime = p.StaleTime
		}
		if p.GCTime > 0 {
			policy.GCTime = p.GCTime
		}
		if p.MaxAge > 0 {
			policy.MaxAge = p.MaxAge
		}
		if p.PrefetchPriority != "" {
			policy.PrefetchPriority = ParsePriority(p.PrefetchPriority)
		}
		if p.OfflineSupport != "" {
			policy.OfflineSupport = OfflineSupport(p.OfflineSupport)
		}
		policies[entity] = policy
	}
	return NewPolicyTable(policies)
}

// For returns the policy for an entity, falling back to the default.
func (t *PolicyTable) For(entity string) Policy {
	if p, ok := t.policies[entity]; ok {
		return p
	}
	return t.fallback
}

// Entities returns the entity names with explicit policies.
func (t *PolicyTable) Entities() []string {
	names := make([]string, 0, len(t.policies))
	for name := range t.policies {
		names = append(names, name)
	}
	return names
}
