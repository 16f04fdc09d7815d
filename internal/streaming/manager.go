// Package streaming provides in-memory pub/sub for run events, with a
// per-run ring buffer for replay (Last-Event-ID support on the SSE and
// WebSocket endpoints) and an optional mirror of every event to Redis
// Streams so external consumers can tail runs.
package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/agentlab-ai/agentlab/internal/metrics"
	"github.com/agentlab-ai/agentlab/internal/orchestrator"
)

// Event is an orchestrator event with the manager's sequence number
// attached. Seq is monotonically increasing per run and is what clients
// hand back as Last-Event-ID.
type Event struct {
	orchestrator.Event
	Seq uint64 `json:"seq"`
}

// Marshal returns the JSON payload used by SSE frames and the Redis mirror.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

const defaultCapacity = 256

// Manager fans run events out to subscribers. Explicitly constructed and
// passed where needed; there is no package-level instance.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int

	rdb    *redis.Client
	logger *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithRedisMirror mirrors every published event to a Redis Stream named
// after the run, trimmed to roughly the ring capacity.
func WithRedisMirror(client *redis.Client) Option {
	return func(m *Manager) { m.rdb = client }
}

func WithCapacity(capacity int) Option {
	return func(m *Manager) {
		if capacity > 0 {
			m.capacity = capacity
		}
	}
}

func NewManager(logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    defaultCapacity,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetCapacity adjusts the ring capacity for rings created after the call.
// Existing rings keep their size. Used by config hot reload.
func (m *Manager) SetCapacity(capacity int) {
	if capacity <= 0 {
		return
	}
	m.mu.Lock()
	m.capacity = capacity
	m.mu.Unlock()
}

// Subscribe adds a subscriber channel for a run; the caller must drain it
// and call Unsubscribe when done.
func (m *Manager) Subscribe(runID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[runID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[runID] = subs
	}
	subs[ch] = struct{}{}
	metrics.StreamSubscribers.Inc()
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (m *Manager) Unsubscribe(runID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[runID]; ok {
		if _, present := subs[ch]; !present {
			return
		}
		delete(subs, ch)
		close(ch)
		metrics.StreamSubscribers.Dec()
		if len(subs) == 0 {
			delete(m.subscribers, runID)
		}
	}
}

// Publish assigns the next sequence number, records the event in the run's
// ring and fans it out to subscribers without blocking. Slow subscribers
// lose events; replay covers the gap.
func (m *Manager) Publish(runID string, ev orchestrator.Event) {
	m.mu.Lock()
	rg := m.history[runID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[runID] = rg
	}
	wrapped := Event{Event: ev, Seq: rg.nextSeq}
	rg.nextSeq++
	rg.push(wrapped)
	subs := m.subscribers[runID]
	m.mu.Unlock()

	metrics.StreamEventsPublished.Inc()
	for ch := range subs {
		select {
		case ch <- wrapped:
		default:
			metrics.StreamEventsDropped.Inc()
		}
	}

	if m.rdb != nil {
		m.mirror(runID, wrapped)
	}
}

// ReplaySince returns events with Seq > since, best-effort within the ring
// capacity.
func (m *Manager) ReplaySince(runID string, since uint64) []Event {
	m.mu.RLock()
	rg := m.history[runID]
	m.mu.RUnlock()
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Forget drops a run's replay history. Subscribers are unaffected.
func (m *Manager) Forget(runID string) {
	m.mu.Lock()
	delete(m.history, runID)
	m.mu.Unlock()
}

// StreamKey is the Redis Stream key a run's events are mirrored to.
func StreamKey(runID string) string {
	return fmt.Sprintf("agentlab:run:%s:events", runID)
}

func (m *Manager) mirror(runID string, ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := m.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey(runID),
		MaxLen: int64(m.capacity),
		Approx: true,
		Values: map[string]interface{}{
			"seq":   ev.Seq,
			"event": string(ev.Marshal()),
		},
	}).Err()
	if err != nil {
		m.logger.Warn("redis mirror failed",
			zap.String("run_id", runID),
			zap.Error(err),
		)
	}
}

// ring is a fixed-capacity ring buffer of events.
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &ring{buf: make([]Event, capacity)}
}

func (r *ring) push(e Event) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	// overwrite oldest
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
