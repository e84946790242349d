package persistence

import (
	"context"
	"sync"
	"testing"
	"time"

	domain "github.com/skillkernel/kernel/internal/domain/skill"
)

type stubPublisher struct {
	mu     sync.Mutex
	events []domain.PersistenceOverflowPayload
}

func (p *stubPublisher) Publish(topic string, payload any) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if op, ok := payload.(domain.PersistenceOverflowPayload); ok {
		p.events = append(p.events, op)
	}
	return 0
}

func (p *stubPublisher) snapshot() []domain.PersistenceOverflowPayload {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.PersistenceOverflowPayload, len(p.events))
	copy(out, p.events)
	return out
}

type stubStore struct {
	mu       sync.Mutex
	saved    []domain.AgentStepPayload
	failN    int // fail this many calls before succeeding
	fails    int
	fixedErr error
}

func (s *stubStore) SaveCheckpoint(ctx context.Context, payload domain.AgentStepPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails < s.failN {
		s.fails++
		return s.fixedErr
	}
	s.saved = append(s.saved, payload)
	return nil
}

func (s *stubStore) snapshot() []domain.AgentStepPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AgentStepPayload, len(s.saved))
	copy(out, s.saved)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestServiceWritesEnqueuedCheckpoint(t *testing.T) {
	pub := &stubPublisher{}
	store := &stubStore{}
	s := New(pub, store)
	workerDone := make(chan struct{})
	go func() { s.run(); close(workerDone) }()

	s.Enqueue(domain.AgentStepPayload{ThreadID: "t1", Step: 1})
	waitFor(t, func() bool { return len(store.snapshot()) == 1 })

	s.Stop(context.Background())
	<-workerDone
}

func TestServiceRetriesTransientFailureThenSucceeds(t *testing.T) {
	pub := &stubPublisher{}
	store := &stubStore{failN: 2, fixedErr: errTransient{}}
	s := New(pub, store, WithBackoff(BackoffConfig{MaxRetries: 5, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, BackoffFactor: 2}))
	go s.run()

	s.Enqueue(domain.AgentStepPayload{ThreadID: "t1", Step: 1})
	waitFor(t, func() bool { return len(store.snapshot()) == 1 })

	s.Stop(context.Background())
}

func TestServiceDropsAfterExhaustingRetriesAndPublishesOverflow(t *testing.T) {
	pub := &stubPublisher{}
	store := &stubStore{failN: 1000, fixedErr: errTransient{}}
	s := New(pub, store, WithBackoff(BackoffConfig{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffFactor: 2}))
	go s.run()

	s.Enqueue(domain.AgentStepPayload{ThreadID: "t1", Step: 1})
	waitFor(t, func() bool { return len(pub.snapshot()) >= 1 })

	s.Stop(context.Background())
	if len(store.snapshot()) != 0 {
		t.Fatalf("expected no successful saves, got %d", len(store.snapshot()))
	}
}

func TestServiceShedsOldestOnQueueOverflow(t *testing.T) {
	pub := &stubPublisher{}
	store := &stubStore{}
	s := New(pub, store, WithQueueCapacity(2))

	// No worker started: Enqueue's drop-oldest logic can be observed
	// directly against the internal queue.
	s.Enqueue(domain.AgentStepPayload{ThreadID: "a", Step: 1})
	s.Enqueue(domain.AgentStepPayload{ThreadID: "b", Step: 2})
	s.Enqueue(domain.AgentStepPayload{ThreadID: "c", Step: 3})

	s.mu.Lock()
	queued := append([]domain.AgentStepPayload(nil), s.queue...)
	s.mu.Unlock()

	if len(queued) != 2 || queued[0].ThreadID != "b" || queued[1].ThreadID != "c" {
		t.Fatalf("expected oldest entry dropped, queue = %+v", queued)
	}
	if s.Dropped() != 1 {
		t.Fatalf("expected 1 dropped entry, got %d", s.Dropped())
	}
	if len(pub.snapshot()) != 1 {
		t.Fatalf("expected one overflow event published, got %d", len(pub.snapshot()))
	}
}

func TestServiceStopDrainsRemainingQueue(t *testing.T) {
	pub := &stubPublisher{}
	store := &stubStore{}
	s := New(pub, store)
	go s.run()

	for i := 0; i < 5; i++ {
		s.Enqueue(domain.AgentStepPayload{ThreadID: "t1", Step: i})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	if len(store.snapshot()) != 5 {
		t.Fatalf("expected all 5 entries drained before stop returned, got %d", len(store.snapshot()))
	}
}

type errTransient struct{}

func (errTransient) Error() string { return "transient failure" }
