// Package checkpoint implements the one concrete domain.CheckpointStore the
// kernel ships: a JSON file keyed by (thread_id, step), grounded on the
// teacher's own file-backed dispatch store
// (alex/internal/infra/kernel.FileStore — in-memory map guarded by a
// RWMutex, persisted via atomic temp-file + rename writes). Concrete
// checkpoint backends are otherwise out of scope; this is the
// kernel's own default, not a mandated format.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	domain "github.com/skillkernel/kernel/internal/domain/skill"
)

type key struct {
	ThreadID string
	Step     int
}

// FileStore is a file-backed domain.CheckpointStore.
type FileStore struct {
	mu       sync.RWMutex
	path     string
	records  map[key]domain.AgentStepPayload
}

// NewFileStore constructs a FileStore persisting to dir/checkpoints.json,
// loading any existing records.
func NewFileStore(dir string) (*FileStore, error) {
	s := &FileStore{
		path:    filepath.Join(dir, "checkpoints.json"),
		records: make(map[key]domain.AgentStepPayload),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// SaveCheckpoint persists payload, overwriting any prior entry with the
// same (ThreadID, Step) — idempotent by construction, per the port's
// contract.
func (s *FileStore) SaveCheckpoint(ctx context.Context, payload domain.AgentStepPayload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.records[key{payload.ThreadID, payload.Step}] = payload
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	return atomicWriteJSON(s.path, snapshot)
}

// Load returns the checkpoint for (threadID, step), if any.
func (s *FileStore) Load(threadID string, step int) (domain.AgentStepPayload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.records[key{threadID, step}]
	return payload, ok
}

func (s *FileStore) snapshotLocked() []domain.AgentStepPayload {
	out := make([]domain.AgentStepPayload, 0, len(s.records))
	for _, v := range s.records {
		out = append(out, v)
	}
	return out
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read checkpoint store: %w", err)
	}
	var records []domain.AgentStepPayload
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parse checkpoint store: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.records[key{r.ThreadID, r.Step}] = r
	}
	return nil
}

// atomicWriteJSON writes v to path via a temp file + rename, preventing a
// crash mid-write from corrupting the store.
func atomicWriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create checkpoint store dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint store: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint store temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename checkpoint store temp file: %w", err)
	}
	return nil
}
