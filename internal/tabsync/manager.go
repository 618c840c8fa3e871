package tabsync

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fieldsync/cachecore/internal/platform/observability"
)

// Election timing defaults. A starting process asks for the incumbent
// with a leader-ping; silence for PongTimeout means nobody holds the
// role and the process self-promotes.
const (
	DefaultPongTimeout  = 1500 * time.Millisecond
	DefaultPingInterval = 10 * time.Second
)

// State is the manager's position in the election.
type State string

const (
	StateElecting State = "electing"
	StateLeader   State = "leader"
	StateFollower State = "follower"
)

// Handler receives broadcast messages of a subscribed type. Called from
// the receive goroutine; keep it fast or hand off.
type Handler func(ctx context.Context, msg Message)

// Manager runs leader election over a broadcast channel and fans
// received messages out to type-keyed subscribers. Exactly one process
// should hold leadership at a time; ties between simultaneous starters
// resolve toward the lexicographically smaller identifier. Leadership
// only gates singleton background work, never correctness.
type Manager struct {
	id string
	bc Broadcaster

	logger  *observability.Logger
	metrics *observability.Metrics

	pongTimeout  time.Duration
	pingInterval time.Duration

	mu       sync.Mutex
	state    State
	leaderID string
	lastPong time.Time
	handlers map[string][]Handler

	pongCh   chan struct{}
	demoteCh chan struct{}
	stopCh   chan struct{}
	stopOne  sync.Once
	wg       sync.WaitGroup
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// ID overrides the generated process identifier. Tests use fixed ids
	// to make tie-breaks deterministic.
	ID          string
	Broadcaster Broadcaster
	Logger      *observability.Logger
	Metrics     *observability.Metrics

	PongTimeout  time.Duration
	PingInterval time.Duration
}

// NewManager creates a sync manager. Call Start to join the channel.
func NewManager(cfg ManagerConfig) *Manager {
	id := cfg.ID
	if id == "" {
		id = uuid.New().String()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewTestLogger()
	}
	pongTimeout := cfg.PongTimeout
	if pongTimeout <= 0 {
		pongTimeout = DefaultPongTimeout
	}
	pingInterval := cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = DefaultPingInterval
	}

	return &Manager{
		id:           id,
		bc:           cfg.Broadcaster,
		logger:       logger.WithComponent("tabsync"),
		metrics:      cfg.Metrics,
		pongTimeout:  pongTimeout,
		pingInterval: pingInterval,
		state:        StateElecting,
		handlers:     make(map[string][]Handler),
		pongCh:       make(chan struct{}, 1),
		demoteCh:     make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
	}
}

// ID returns this process's channel identifier.
func (m *Manager) ID() string { return m.id }

// State returns the current election state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsLeader reports whether this process currently holds leadership.
func (m *Manager) IsLeader() bool {
	return m.State() == StateLeader
}

// On registers a handler for a message type. Must be called before Start.
func (m *Manager) On(msgType string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[msgType] = append(m.handlers[msgType], h)
}

// Start subscribes to the channel and begins the election. If the
// transport cannot be joined the manager degrades to standalone
// leadership: all background duties run locally, nothing is shared.
func (m *Manager) Start(ctx context.Context) {
	msgCh, err := m.bc.Subscribe(ctx)
	if err != nil {
		m.logger.LogWarn(ctx, "sync channel unavailable, running standalone", "action", "start", "error", err)
		m.setState(ctx, StateLeader)
		return
	}

	m.wg.Add(2)
	go m.recvLoop(ctx, msgCh)
	go m.electionLoop(ctx)
}

// Stop leaves the channel. A new election among the remaining processes
// replaces a departing leader after its pings stop.
func (m *Manager) Stop() {
	m.stopOne.Do(func() {
		close(m.stopCh)
		_ = m.bc.Close()
	})
	m.wg.Wait()
}

// Publish sends a typed message with a marshaled payload.
func (m *Manager) Publish(ctx context.Context, msgType string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		raw = data
	}

	m.countMessage(ctx, msgType, "send")
	return m.bc.Publish(ctx, Message{
		Type:      msgType,
		Payload:   raw,
		TabID:     m.id,
		Timestamp: time.Now(),
	})
}

// AnnounceInvalidation broadcasts an invalidation so peer processes drop
// the same entries. Best-effort; a lost message only delays convergence
// until the entry goes stale.
func (m *Manager) AnnounceInvalidation(ctx context.Context, target, cause string) {
	if err := m.Publish(ctx, TypeInvalidate, InvalidatePayload{Target: target, Cause: cause}); err != nil {
		m.logger.LogWarn(ctx, "invalidation broadcast failed", "action", "announce", "target", target, "error", err)
	}
}

// recvLoop dispatches inbound messages. Election control messages are
// handled here; everything else goes to registered handlers.
func (m *Manager) recvLoop(ctx context.Context, msgCh <-chan Message) {
	defer m.wg.Done()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			if msg.TabID == m.id {
				continue
			}
			m.countMessage(ctx, msg.Type, "recv")

			switch msg.Type {
			case TypeLeaderPing:
				m.handlePing(ctx)
			case TypeLeaderPong:
				m.handlePong(ctx, msg.TabID)
			default:
				m.dispatch(ctx, msg)
			}
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// handlePing answers a peer's election probe if we hold leadership.
func (m *Manager) handlePing(ctx context.Context) {
	if m.State() != StateLeader {
		return
	}
	if err := m.Publish(ctx, TypeLeaderPong, nil); err != nil {
		m.logger.LogWarn(ctx, "leader pong failed", "action", "pong", "error", err)
	}
}

// handlePong processes a leadership assertion from a peer. Two live
// leaders converge: the one with the larger identifier steps down.
func (m *Manager) handlePong(ctx context.Context, from string) {
	m.mu.Lock()
	state := m.state
	if state != StateLeader || from < m.id {
		m.leaderID = from
	}
	m.lastPong = time.Now()
	m.mu.Unlock()

	switch state {
	case StateElecting:
		select {
		case m.pongCh <- struct{}{}:
		default:
		}
	case StateLeader:
		if from < m.id {
			m.logger.LogInfo(ctx, "yielding leadership", "action", "demote", "to", from)
			m.setState(ctx, StateFollower)
			select {
			case m.demoteCh <- struct{}{}:
			default:
			}
		}
	}
}

// electionLoop drives the state machine: probe, then either follow the
// incumbent or assert leadership, watching for the other side to fail.
func (m *Manager) electionLoop(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		switch m.State() {
		case StateElecting:
			if !m.elect(ctx) {
				return
			}
		case StateLeader:
			if !m.lead(ctx) {
				return
			}
		case StateFollower:
			if !m.follow(ctx) {
				return
			}
		}
	}
}

// elect probes for an incumbent and waits PongTimeout for an answer.
// Returns false when stopping.
func (m *Manager) elect(ctx context.Context) bool {
	// Drop any pong signal left over from a previous round.
	select {
	case <-m.pongCh:
	default:
	}

	if err := m.Publish(ctx, TypeLeaderPing, nil); err != nil {
		m.logger.LogWarn(ctx, "leader ping failed", "action", "elect", "error", err)
	}

	timer := time.NewTimer(m.pongTimeout)
	defer timer.Stop()

	select {
	case <-m.pongCh:
		m.setState(ctx, StateFollower)
	case <-timer.C:
		m.setState(ctx, StateLeader)
		// Assert immediately so a simultaneous starter sees us.
		if err := m.Publish(ctx, TypeLeaderPong, nil); err != nil {
			m.logger.LogWarn(ctx, "leader pong failed", "action", "promote", "error", err)
		}
	case <-m.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
	return true
}

// lead re-asserts leadership every PingInterval until demoted.
func (m *Manager) lead(ctx context.Context) bool {
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.Publish(ctx, TypeLeaderPong, nil); err != nil {
				m.logger.LogWarn(ctx, "leader pong failed", "action", "lead", "error", err)
			}
		case <-m.demoteCh:
			return true
		case <-m.stopCh:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// follow watches the incumbent's pings and re-elects when they stop.
func (m *Manager) follow(ctx context.Context) bool {
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			silent := time.Since(m.lastPong) > 2*m.pingInterval+m.pongTimeout
			m.mu.Unlock()
			if silent {
				m.logger.LogInfo(ctx, "leader silent, re-electing", "action", "follow")
				m.setState(ctx, StateElecting)
				return true
			}
		case <-m.stopCh:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

func (m *Manager) dispatch(ctx context.Context, msg Message) {
	m.mu.Lock()
	handlers := m.handlers[msg.Type]
	m.mu.Unlock()

	for _, h := range handlers {
		h(ctx, msg)
	}
}

func (m *Manager) setState(ctx context.Context, s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	if s == StateLeader {
		m.leaderID = m.id
	}
	m.mu.Unlock()

	if prev != s {
		m.logger.LogInfo(ctx, "election state changed", "action", "election", "from", string(prev), "to", string(s))
	}
	if m.metrics != nil && m.metrics.LeaderState != nil {
		var v int64
		if s == StateLeader {
			v = 1
		}
		m.metrics.LeaderState.Record(ctx, v)
	}
}

func (m *Manager) countMessage(ctx context.Context, msgType, direction string) {
	if m.metrics != nil && m.metrics.SyncMessages != nil {
		m.metrics.SyncMessages.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", msgType),
			attribute.String("direction", direction),
		))
	}
}
