package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fieldsync/cachecore/internal/platform/clock"
)

func storeEntry(t *testing.T, key string, now time.Time) *Entry {
	t.Helper()
	entry, err := NewEntry(key, "value-"+key, now, time.Minute, time.Hour, "v1")
	if err != nil {
		t.Fatalf("NewEntry failed: %v", err)
	}
	return entry
}

// TestMemoryStore_RoundTripAndMiss verifies basic Get/Set/Del behavior
func TestMemoryStore_RoundTripAndMiss(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	s := NewMemoryStore(0, 0, clk)
	ctx := context.Background()

	if _, err := s.Get(ctx, "absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Missing key must be ErrNotFound, got %v", err)
	}

	entry := storeEntry(t, "k1", clk.Now())
	if err := s.Set(ctx, "k1", entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := s.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Key != "k1" || string(got.Value) != string(entry.Value) {
		t.Errorf("Round trip mismatch: %+v", got)
	}

	// The store hands out copies; mutating a read result must not leak in.
	got.Meta.Version = "poisoned"
	again, _ := s.Get(ctx, "k1")
	if again.Meta.Version != "v1" {
		t.Errorf("Stored entry was mutated through a Get result")
	}

	if err := s.Del(ctx, "k1"); err != nil {
		t.Fatalf("Del failed: %v", err)
	}
	if _, err := s.Get(ctx, "k1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Deleted key must be ErrNotFound, got %v", err)
	}

	t.Log("✓ Entries round-trip, misses are ErrNotFound, reads are copies")
}

// TestMemoryStore_ExpiredReadsAsMiss verifies ExpiresAt acts like a TTL
func TestMemoryStore_ExpiredReadsAsMiss(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	s := NewMemoryStore(0, 0, clk)
	ctx := context.Background()

	if err := s.Set(ctx, "k1", storeEntry(t, "k1", clk.Now())); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	clk.Advance(2 * time.Hour)

	if _, err := s.Get(ctx, "k1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expired entry must read as ErrNotFound, got %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Expired entry must be removed on read, %d remain", s.Len())
	}

	t.Log("✓ Entries past ExpiresAt age out like a backend TTL")
}

// TestMemoryStore_PruneAgePass verifies entries older than maxAge go first
func TestMemoryStore_PruneAgePass(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	s := NewMemoryStore(0, 0, clk)
	ctx := context.Background()

	if err := s.Set(ctx, "old", storeEntry(t, "old", clk.Now())); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	clk.Advance(45 * time.Minute)
	if err := s.Set(ctx, "recent", storeEntry(t, "recent", clk.Now())); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	removed, err := s.Prune(ctx, 0, 30*time.Minute)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 removal in the age pass, got %d", removed)
	}
	if _, err := s.Get(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Error("Entry past maxAge must be pruned")
	}
	if _, err := s.Get(ctx, "recent"); err != nil {
		t.Errorf("Entry within maxAge must survive: %v", err)
	}

	t.Log("✓ The age pass removes entries updated before now-maxAge")
}

// TestMemoryStore_PruneCountTrim verifies oldest-by-update eviction to the limit
func TestMemoryStore_PruneCountTrim(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	s := NewMemoryStore(0, 0, clk)
	ctx := context.Background()

	// Seven entries, each updated a minute apart.
	for i := 0; i < 7; i++ {
		key := fmt.Sprintf("k%d", i)
		if err := s.Set(ctx, key, storeEntry(t, key, clk.Now())); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		clk.Advance(time.Minute)
	}

	removed, err := s.Prune(ctx, 4, 0)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 3 {
		t.Errorf("Expected 3 removals trimming 7 to 4, got %d", removed)
	}

	// Exactly the four most-recently-updated entries remain.
	for i := 0; i < 3; i++ {
		if _, err := s.Get(ctx, fmt.Sprintf("k%d", i)); !errors.Is(err, ErrNotFound) {
			t.Errorf("k%d is among the oldest and must be gone", i)
		}
	}
	for i := 3; i < 7; i++ {
		if _, err := s.Get(ctx, fmt.Sprintf("k%d", i)); err != nil {
			t.Errorf("k%d is among the newest and must survive: %v", i, err)
		}
	}

	t.Log("✓ The count pass keeps exactly the maxEntries most recently updated")
}

// TestMemoryStore_SetKicksPrune verifies writes trigger background pruning
func TestMemoryStore_SetKicksPrune(t *testing.T) {
	s := NewMemoryStore(2, 0, nil)
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 4; i++ {
		key := fmt.Sprintf("k%d", i)
		entry := storeEntry(t, key, base.Add(time.Duration(i)*time.Minute))
		if err := s.Set(ctx, key, entry); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && s.Len() > 2 {
		time.Sleep(10 * time.Millisecond)
		// Re-write the newest entry; a kick skipped while a previous
		// prune was in flight gets another trigger.
		if err := s.Set(ctx, "k3", storeEntry(t, "k3", base.Add(3*time.Minute))); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}
	if s.Len() > 2 {
		t.Errorf("Background prune never trimmed to the limit, %d remain", s.Len())
	}

	t.Log("✓ Set kicks an asynchronous prune toward maxEntries")
}
