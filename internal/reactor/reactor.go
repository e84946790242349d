// Package reactor implements the kernel's in-process, typed, priority-ordered
// pub/sub bus. Producers and consumers are expected to
// form a DAG per topic. Each subscription skips an event id it has already
// been handed; Publish always assigns a fresh id, so an event a handler
// republishes is a new event and is delivered again — the Reactor does not
// break a cyclic handler chain itself.
package reactor

import (
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/skillkernel/kernel/internal/async"
	"github.com/skillkernel/kernel/internal/logging"
)

// Event is one (topic, payload) pair with a monotonically increasing id.
type Event struct {
	ID      uint64
	Topic   string
	Payload any
}

// Handler processes one event. Handlers must be idempotent: the Reactor
// delivers at-least-once within the process.
type Handler func(Event)

// subscription pairs a handler with its declared priority (lower runs
// first).
type subscription struct {
	priority int
	seq      int // registration order, for stable sort among equal priority
	handler  Handler
}

const defaultQueueSize = 1024

// BackpressurePolicy controls what Publish does when a topic's queue is
// full.
type BackpressurePolicy string

const (
	// PolicyBlock blocks the publisher until space is available (the
	// default queue depth).
	PolicyBlock BackpressurePolicy = "block"
	// PolicyDrop drops the event and counts it, logging a warning.
	PolicyDrop BackpressurePolicy = "drop"
)

// Reactor is the process-wide typed event bus.
type Reactor struct {
	logger logging.Logger
	policy BackpressurePolicy

	mu          sync.RWMutex
	subscribers map[string][]subscription
	seq         int

	nextID atomic.Uint64

	// per-subscription record of the event ids already delivered to it.
	seenMu sync.Mutex
	seen   map[string]map[uint64]struct{}

	queueMu sync.Mutex
	queues  map[string]chan Event
	started map[string]bool

	dropped atomic.Uint64
}

// Option customizes Reactor construction.
type Option func(*Reactor)

// WithLogger sets the Reactor's diagnostic logger.
func WithLogger(logger logging.Logger) Option {
	return func(r *Reactor) { r.logger = logging.OrNop(logger) }
}

// WithBackpressurePolicy overrides the default block-on-full policy.
func WithBackpressurePolicy(p BackpressurePolicy) Option {
	return func(r *Reactor) { r.policy = p }
}

// New constructs a Reactor.
func New(opts ...Option) *Reactor {
	r := &Reactor{
		logger:      logging.NewComponentLogger("Reactor"),
		policy:      PolicyBlock,
		subscribers: make(map[string][]subscription),
		seen:        make(map[string]map[uint64]struct{}),
		queues:      make(map[string]chan Event),
		started:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe registers handler for topic with the given priority (lower runs
// first among subscribers of the same topic).
func (r *Reactor) Subscribe(topic string, priority int, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	subs := append(r.subscribers[topic], subscription{priority: priority, seq: r.seq, handler: handler})
	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].priority != subs[j].priority {
			return subs[i].priority < subs[j].priority
		}
		return subs[i].seq < subs[j].seq
	})
	r.subscribers[topic] = subs
	r.ensureQueueLocked(topic)
}

// ensureQueueLocked starts the per-topic dispatch goroutine the first time a
// topic is touched. Callers must hold r.mu (write).
func (r *Reactor) ensureQueueLocked(topic string) {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()
	if r.started[topic] {
		return
	}
	q := make(chan Event, defaultQueueSize)
	r.queues[topic] = q
	r.started[topic] = true
	async.Go(r.logger, "reactor."+topic, func() { r.dispatchLoop(topic, q) })
}

func (r *Reactor) dispatchLoop(topic string, q chan Event) {
	for ev := range q {
		r.mu.RLock()
		subs := append([]subscription(nil), r.subscribers[topic]...)
		r.mu.RUnlock()
		for _, sub := range subs {
			r.deliver(topic, ev, sub)
		}
	}
}

func (r *Reactor) deliver(topic string, ev Event, sub subscription) {
	key := subKey(sub)
	r.seenMu.Lock()
	m, ok := r.seen[key]
	if !ok {
		m = make(map[uint64]struct{})
		r.seen[key] = m
	}
	if _, dup := m[ev.ID]; dup {
		r.seenMu.Unlock()
		return
	}
	m[ev.ID] = struct{}{}
	r.seenMu.Unlock()

	defer async.Recover(r.logger, "reactor.handler."+topic)
	sub.handler(ev)
}

// subKey gives each subscription a stable identity for dedup bookkeeping.
// Handlers are compared by registration sequence, not by value, since Go
// funcs aren't comparable.
func subKey(sub subscription) string {
	return strconv.Itoa(sub.seq)
}

// Publish enqueues payload on topic with a fresh monotonically increasing
// event id, applying the Reactor's BackpressurePolicy if the topic's queue
// is full. Returns the event id.
func (r *Reactor) Publish(topic string, payload any) uint64 {
	r.mu.Lock()
	r.ensureQueueLocked(topic)
	r.mu.Unlock()

	id := r.nextID.Add(1)
	ev := Event{ID: id, Topic: topic, Payload: payload}

	r.queueMu.Lock()
	q := r.queues[topic]
	r.queueMu.Unlock()

	switch r.policy {
	case PolicyDrop:
		select {
		case q <- ev:
		default:
			r.dropped.Add(1)
			r.logger.Warn("reactor queue full, dropping event on topic %s", topic)
		}
	default:
		q <- ev
	}
	return id
}

// Dropped reports how many events PolicyDrop has discarded so far.
func (r *Reactor) Dropped() uint64 { return r.dropped.Load() }
