package cache

import (
	"encoding/json"
	"time"
)

// Metadata describes an entry's lifecycle timestamps and size.
// CreatedAt <= UpdatedAt always holds. StaleAt <= ExpiresAt is the usual
// convention but is not enforced; policies may set them independently.
type Metadata struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	StaleAt   time.Time `json:"stale_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Version   string    `json:"version"`
	SizeBytes int64     `json:"size_bytes,omitempty"`
}

// Entry is the durable representation of one cached value. Value is kept
// as raw JSON so stores never need to know payload schemas.
type Entry struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
	Meta  Metadata        `json:"meta"`
}

// NewEntry builds an entry for a freshly fetched value.
func NewEntry(key string, value any, now time.Time, staleTime, gcTime time.Duration, version string) (*Entry, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	return &Entry{
		Key:   key,
		Value: raw,
		Meta: Metadata{
			CreatedAt: now,
			UpdatedAt: now,
			StaleAt:   now.Add(staleTime),
			ExpiresAt: now.Add(gcTime),
			Version:   version,
			SizeBytes: int64(len(raw)),
		},
	}, nil
}

// Touch records a refresh of the entry's value.
func (e *Entry) Touch(value any, now time.Time, staleTime, gcTime time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	e.Value = raw
	e.Meta.UpdatedAt = now
	e.Meta.StaleAt = now.Add(staleTime)
	e.Meta.ExpiresAt = now.Add(gcTime)
	e.Meta.SizeBytes = int64(len(raw))
	return nil
}

// Decode unmarshals the stored payload.
func (e *Entry) Decode() (any, error) {
	var v any
	if err := json.Unmarshal(e.Value, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Fresh reports whether the entry is within staleTime of its last update.
func (e *Entry) Fresh(now time.Time, staleTime time.Duration) bool {
	return now.Sub(e.Meta.UpdatedAt) < staleTime
}
