// Package netstatus exposes the connection-quality signal consumed by
// the prefetch and refresh gates. It never gates foreground reads.
package netstatus

import "sync"

// EffectiveType classifies the current connection, mirroring the usual
// effective-connection-type buckets.
type EffectiveType string

const (
	TypeSlow2G  EffectiveType = "slow-2g"
	Type2G      EffectiveType = "2g"
	Type3G      EffectiveType = "3g"
	Type4G      EffectiveType = "4g"
	TypeUnknown EffectiveType = "unknown"
)

// Status is a snapshot of connection quality.
type Status struct {
	Online        bool
	EffectiveType EffectiveType
	// SaveData is the explicit "reduce data usage" flag.
	SaveData bool
}

// AllowBackground reports whether optional background traffic (prefetch,
// refresh) should run: online, no data-saver, and at least a 3G-grade
// connection. Unknown types are allowed; only known-bad ones gate.
func (s Status) AllowBackground() bool {
	if !s.Online || s.SaveData {
		return false
	}
	switch s.EffectiveType {
	case TypeSlow2G, Type2G:
		return false
	default:
		return true
	}
}

// Signal provides the current connection status.
type Signal interface {
	Status() Status
}

// Static is a Signal whose status is set by the embedding application
// (platform probes, user toggles). Safe for concurrent use.
type Static struct {
	mu     sync.RWMutex
	status Status
}

// NewStatic creates a signal that starts online on an unknown connection.
func NewStatic() *Static {
	return &Static{status: Status{Online: true, EffectiveType: TypeUnknown}}
}

// Status returns the current snapshot.
func (s *Static) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Set replaces the current snapshot.
func (s *Static) Set(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}
