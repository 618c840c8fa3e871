package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestPool_ProcessesAllJobs verifies every submitted job runs and reports
func TestPool_ProcessesAllJobs(t *testing.T) {
	p := NewPool(context.Background(), 3, 10)

	const jobs = 20
	var ran atomic.Int64
	for i := 0; i < jobs; i++ {
		err := p.Submit(Job{
			Key: "job",
			Run: func(ctx context.Context) error {
				ran.Add(1)
				return nil
			},
		})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	results := 0
	timeout := time.After(2 * time.Second)
	for results < jobs {
		select {
		case <-p.Results():
			results++
		case <-timeout:
			t.Fatalf("Only %d/%d results arrived", results, jobs)
		}
	}

	if ran.Load() != jobs {
		t.Errorf("Expected %d executions, got %d", jobs, ran.Load())
	}

	p.Close()
	t.Log("✓ All submitted jobs execute and report results")
}

// TestPool_ConcurrencyBound verifies at most N jobs run simultaneously
func TestPool_ConcurrencyBound(t *testing.T) {
	const workers = 2
	p := NewPool(context.Background(), workers, 10)
	defer p.Close()

	var current, peak atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		err := p.Submit(Job{
			Key: "bounded",
			Run: func(ctx context.Context) error {
				defer wg.Done()
				n := current.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				current.Add(-1)
				return nil
			},
		})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	wg.Wait()
	if peak.Load() > workers {
		t.Errorf("Concurrency exceeded bound: peak %d > %d workers", peak.Load(), workers)
	}

	t.Log("✓ Simultaneous executions never exceed the worker count")
}

// TestPool_ErrorsFlowThroughResults verifies failures carry their key
func TestPool_ErrorsFlowThroughResults(t *testing.T) {
	p := NewPool(context.Background(), 1, 1)
	defer p.Close()

	jobErr := errors.New("boom")
	if err := p.Submit(Job{Key: "failing", Run: func(ctx context.Context) error { return jobErr }}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	select {
	case result := <-p.Results():
		if result.Key != "failing" || !errors.Is(result.Err, jobErr) {
			t.Errorf("Result mismatch: %+v", result)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Result never arrived")
	}

	t.Log("✓ Job failures surface in results with their key")
}

// TestPool_SubmitAfterClose verifies shutdown rejects new work
func TestPool_SubmitAfterClose(t *testing.T) {
	p := NewPool(context.Background(), 1, 0)
	p.Close()

	if err := p.Submit(Job{Key: "late", Run: func(ctx context.Context) error { return nil }}); err == nil {
		t.Error("Submit after Close must fail")
	}

	t.Log("✓ A closed pool rejects submissions")
}
