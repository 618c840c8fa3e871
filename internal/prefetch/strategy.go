package prefetch

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/fieldsync/cachecore/internal/cache"
	"github.com/fieldsync/cachecore/internal/netstatus"
	"github.com/fieldsync/cachecore/internal/platform/clock"
	"github.com/fieldsync/cachecore/internal/platform/observability"
	"github.com/fieldsync/cachecore/internal/platform/worker"
)

// DefaultConcurrency bounds simultaneous prefetch fetches.
const DefaultConcurrency = 2

// gateRecheckInterval is how often a network-gated queue looks again.
const gateRecheckInterval = 15 * time.Second

// task is one queued prefetch, deduplicated by serialized key.
type task struct {
	key         cache.Key
	fetcher     cache.Fetcher
	priority    cache.Priority
	scheduledAt time.Time
	index       int
}

// taskHeap orders by priority first, then FIFO within a priority.
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].scheduledAt.Before(h[j].scheduledAt)
}
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *taskHeap) Push(x any) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Strategy is the prefetch execution queue: priority-ordered, key-
// deduplicated, drained through a small worker pool so the queue
// self-drains whenever a slot frees up. The same network gate as the
// background refresher applies; prefetch never runs on degraded
// connections.
type Strategy struct {
	cache   *cache.UniversalCache
	signal  netstatus.Signal
	clk     clock.Clock
	logger  *observability.Logger
	metrics *observability.Metrics

	pool *worker.Pool

	mu      sync.Mutex
	queue   taskHeap
	pending map[string]bool

	wake    chan struct{}
	stopCh  chan struct{}
	stopOne sync.Once
}

// StrategyConfig configures a Strategy.
type StrategyConfig struct {
	Cache       *cache.UniversalCache
	Signal      netstatus.Signal
	Clock       clock.Clock
	Logger      *observability.Logger
	Metrics     *observability.Metrics
	Concurrency int
	QueueSize   int
}

// NewStrategy creates a prefetch strategy. Call Start to begin draining.
func NewStrategy(cfg StrategyConfig) *Strategy {
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
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 100
	}

	return &Strategy{
		cache:       cfg.Cache,
		signal:      signal,
		clk:         clk,
		logger:      logger.WithComponent("prefetch"),
		metrics:     cfg.Metrics,
		pool:        worker.NewPool(context.Background(), concurrency, queueSize),
		pending:     make(map[string]bool),
		wake:        make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}
}

// Schedule queues a prefetch. A key already queued or running is a no-op.
func (s *Strategy) Schedule(key cache.Key, fetcher cache.Fetcher, priority cache.Priority) {
	ck := key.String()

	s.mu.Lock()
	if s.pending[ck] {
		s.mu.Unlock()
		return
	}
	s.pending[ck] = true
	heap.Push(&s.queue, &task{
		key:         key,
		fetcher:     fetcher,
		priority:    priority,
		scheduledAt: s.clk.Now(),
	})
	s.mu.Unlock()

	if s.metrics != nil && s.metrics.PrefetchScheduled != nil {
		s.metrics.PrefetchScheduled.Add(context.Background(), 1)
	}

	s.notify()
}

// ScheduleEntities queues list prefetches for a set of entities, using
// each entity's policy priority. Used with the analyzer's ranking.
func (s *Strategy) ScheduleEntities(entities []string, keys *cache.Factory, fetcherFor func(entity string) cache.Fetcher) {
	for _, entity := range entities {
		fetcher := fetcherFor(entity)
		if fetcher == nil {
			continue
		}
		priority := s.cache.Policies().For(entity).PrefetchPriority
		s.Schedule(keys.List(entity, nil), fetcher, priority)
	}
}

// QueueLen returns the number of tasks waiting (not yet executing).
func (s *Strategy) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Start launches the dispatcher and the result consumer.
func (s *Strategy) Start(ctx context.Context) {
	go s.dispatch(ctx)
	go s.consumeResults(ctx)
}

// Stop halts dispatching and shuts the pool down.
func (s *Strategy) Stop() {
	s.stopOne.Do(func() {
		close(s.stopCh)
		s.pool.Close()
	})
}

func (s *Strategy) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// dispatch moves tasks from the priority queue into the pool. Submit
// blocks when all workers are busy and the buffer is full, so pops
// resume exactly when capacity frees up.
func (s *Strategy) dispatch(ctx context.Context) {
	gateTimer := time.NewTicker(gateRecheckInterval)
	defer gateTimer.Stop()

	for {
		if !s.signal.Status().AllowBackground() {
			// Parked: hold the queue until the connection recovers.
			select {
			case <-gateTimer.C:
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
			continue
		}

		s.mu.Lock()
		var next *task
		if s.queue.Len() > 0 {
			next = heap.Pop(&s.queue).(*task)
		}
		s.mu.Unlock()

		if next == nil {
			select {
			case <-s.wake:
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
			continue
		}

		t := next
		ck := t.key.String()
		job := worker.Job{
			Key: ck,
			Run: func(ctx context.Context) error {
				// The job owns its dedup entry; the results channel is
				// lossy and must not be what unblocks a key.
				defer func() {
					s.mu.Lock()
					delete(s.pending, ck)
					s.mu.Unlock()
				}()

				// Populate through the normal read path; a prefetch
				// failure only costs the opportunity.
				if _, err := s.cache.Get(ctx, t.key, t.fetcher, nil); err != nil {
					s.logger.LogDebug(ctx, "prefetch failed", "action", "prefetch", "key", ck, "error", err)
				}
				return nil
			},
		}
		if err := s.pool.Submit(job); err != nil {
			return
		}
	}
}

// consumeResults counts finished tasks.
func (s *Strategy) consumeResults(ctx context.Context) {
	for {
		select {
		case _, ok := <-s.pool.Results():
			if !ok {
				return
			}
			if s.metrics != nil && s.metrics.PrefetchExecuted != nil {
				s.metrics.PrefetchExecuted.Add(ctx, 1)
			}
		case <-ctx.Done():
			return
		}
	}
}
