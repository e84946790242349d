// Package persistence implements the Persistence Service:
// writing agent step state asynchronously so the request path never blocks
// on the checkpoint backend.
package persistence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skillkernel/kernel/internal/async"
	domain "github.com/skillkernel/kernel/internal/domain/skill"
	"github.com/skillkernel/kernel/internal/logging"
	"github.com/skillkernel/kernel/internal/reactor"
)

const defaultQueueCapacity = 512

// Publisher is the *reactor.Reactor surface the Service needs to announce
// overflow.
type Publisher interface {
	Publish(topic string, payload any) uint64
}

// Option customizes Service construction.
type Option func(*Service)

// WithLogger sets the diagnostic logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Service) { s.logger = logging.OrNop(l) }
}

// WithQueueCapacity overrides the bounded queue's capacity (default 512).
func WithQueueCapacity(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithBackoff overrides the checkpoint-write retry policy.
func WithBackoff(cfg BackoffConfig) Option {
	return func(s *Service) { s.backoff = normalizeBackoff(cfg) }
}

// WithWriteTimeout overrides the per-write timeout (default 5s).
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// Service drains agent.step_complete events into a bounded queue and writes
// them to a CheckpointStore on a dedicated worker, retrying transient
// failures with backoff and shedding load (drop-oldest) when the queue is
// saturated.
type Service struct {
	logger       logging.Logger
	publisher    Publisher
	store        domain.CheckpointStore
	capacity     int
	backoff      BackoffConfig
	writeTimeout time.Duration

	mu      sync.Mutex
	queue   []domain.AgentStepPayload
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	dropped atomic.Uint64
}

// New constructs a Service. Call Start to begin draining.
func New(publisher Publisher, store domain.CheckpointStore, opts ...Option) *Service {
	s := &Service{
		logger:       logging.NewComponentLogger("Persistence"),
		publisher:    publisher,
		store:        store,
		capacity:     defaultQueueCapacity,
		backoff:      DefaultBackoffConfig(),
		writeTimeout: 5 * time.Second,
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start subscribes to agent.step_complete and launches the draining worker.
func (s *Service) Start(r *reactor.Reactor) {
	r.Subscribe(domain.TopicAgentStepComplete, 0, func(ev reactor.Event) {
		if payload, ok := ev.Payload.(domain.AgentStepPayload); ok {
			s.Enqueue(payload)
		}
	})
	async.Go(s.logger, "persistence.worker", s.run)
}

// Enqueue pushes payload onto the bounded queue, dropping the oldest
// pending entry (and publishing persistence.overflow) when full.
func (s *Service) Enqueue(payload domain.AgentStepPayload) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	overflowed := false
	if len(s.queue) >= s.capacity {
		s.queue = s.queue[1:]
		s.dropped.Add(1)
		overflowed = true
	}
	s.queue = append(s.queue, payload)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}

	if overflowed {
		s.publisher.Publish(domain.TopicPersistenceOverflow, domain.PersistenceOverflowPayload{Dropped: int(s.dropped.Load())})
	}
}

// Dropped reports how many entries have been shed to overflow so far.
func (s *Service) Dropped() int { return int(s.dropped.Load()) }

func (s *Service) dequeue() (domain.AgentStepPayload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return domain.AgentStepPayload{}, false
	}
	head := s.queue[0]
	s.queue = s.queue[1:]
	return head, true
}

func (s *Service) run() {
	defer close(s.done)
	for {
		payload, ok := s.dequeue()
		if !ok {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			<-s.wake
			continue
		}
		s.writeWithRetry(payload)
	}
}

// writeWithRetry attempts SaveCheckpoint up to backoff.MaxRetries+1 times,
// sleeping an exponentially growing, jittered interval between attempts.
// After the cap, the entry is dropped and persistence.overflow published —
// following the error taxonomy's propagation policy for persistence backend failures.
func (s *Service) writeWithRetry(payload domain.AgentStepPayload) {
	for attempt := 0; attempt <= s.backoff.MaxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		err := s.store.SaveCheckpoint(ctx, payload)
		cancel()
		if err == nil {
			return
		}
		s.logger.Warn("checkpoint write failed (thread=%s step=%d attempt=%d): %v",
			payload.ThreadID, payload.Step, attempt, err)
		if attempt >= s.backoff.MaxRetries {
			s.dropped.Add(1)
			s.publisher.Publish(domain.TopicPersistenceOverflow, domain.PersistenceOverflowPayload{Dropped: int(s.dropped.Load())})
			return
		}
		time.Sleep(calculateBackoff(attempt, s.backoff))
	}
}

// Stop drains the remaining queue (best-effort, bounded by ctx) and stops
// accepting new entries.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}

	select {
	case <-s.done:
	case <-ctx.Done():
		s.logger.Warn("persistence stop: flush deadline exceeded with %d entries still queued", s.pending())
	}
}

func (s *Service) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
