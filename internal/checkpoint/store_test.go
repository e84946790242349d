package checkpoint

import (
	"context"
	"testing"

	domain "github.com/skillkernel/kernel/internal/domain/skill"
)

func TestSaveCheckpointPersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if err := store.SaveCheckpoint(context.Background(), domain.AgentStepPayload{ThreadID: "t1", Step: 1}); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}

	reloaded, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("reload file store: %v", err)
	}
	if _, ok := reloaded.Load("t1", 1); !ok {
		t.Fatal("expected the checkpoint to survive a reload")
	}
}

func TestSaveCheckpointOverwritesSameKey(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	ctx := context.Background()
	_ = store.SaveCheckpoint(ctx, domain.AgentStepPayload{ThreadID: "t1", Step: 1, State: map[string]any{"v": 1}})
	_ = store.SaveCheckpoint(ctx, domain.AgentStepPayload{ThreadID: "t1", Step: 1, State: map[string]any{"v": 2}})

	payload, ok := store.Load("t1", 1)
	if !ok {
		t.Fatal("expected a checkpoint")
	}
	if payload.State["v"] != 2 {
		t.Fatalf("expected the later write to win, got %v", payload.State["v"])
	}
}

func TestLoadMissingCheckpointReportsFalse(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if _, ok := store.Load("absent", 0); ok {
		t.Fatal("expected no checkpoint for an unknown key")
	}
}
