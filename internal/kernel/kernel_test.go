package kernel

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleSkillManifest = `---
name: files
version: "1.0.0"
description: file utilities
---
`

const sampleSkillScript = `
@skill_command(
    name="list",
    description="list files under a directory",
    category="files",
    keywords=["list", "files"],
)
def list_files(path: str):
    """List files."""
    return path
`

func writeSampleSkill(t *testing.T, skillRoot string) {
	t.Helper()
	dir := filepath.Join(skillRoot, "files")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir skill dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(sampleSkillManifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "tools.py"), []byte(sampleSkillScript), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
}

func testConfig(t *testing.T) Config {
	t.Helper()
	skillRoot := t.TempDir()
	writeSampleSkill(t, skillRoot)
	cfg := DefaultConfig()
	cfg.SkillRoots = []string{skillRoot}
	cfg.DocsRoots = []string{t.TempDir()}
	cfg.IndexPath = t.TempDir()
	return cfg
}

func TestStartDiscoversSkillsAndPopulatesDispatch(t *testing.T) {
	k, err := New(testConfig(t), nil)
	require.NoError(t, err)
	require.NoError(t, k.Start(context.Background()))
	defer k.Stop(context.Background())

	resp := k.ExecuteTool(context.Background(), "files.list", map[string]any{"path": "/tmp"})
	require.NotNil(t, resp)
}

func TestStartFailsPinnedPreloadOnUnknownSkill(t *testing.T) {
	cfg := testConfig(t)
	cfg.Skills.Preload = []string{"nonexistent"}
	k, err := New(cfg, nil)
	require.NoError(t, err)
	// An unknown preload skill fails to load but isn't a security block, so
	// Start should still succeed, just without that skill ready.
	require.NoError(t, k.Start(context.Background()))
	k.Stop(context.Background())
}

func TestStopUnloadsAllSkillsAndIsIdempotentToCallTwice(t *testing.T) {
	k, err := New(testConfig(t), nil)
	require.NoError(t, err)
	require.NoError(t, k.Start(context.Background()))
	k.Stop(context.Background())
	k.Stop(context.Background())
}

func TestRouteToolsRanksAgainstTaskAndPrependsCore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Skills.Preload = []string{"files"}
	k, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, k.Start(context.Background()))
	defer k.Stop(context.Background())

	hits, err := k.RouteTools(context.Background(), "list files in a directory", "")
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	var found bool
	for _, h := range hits {
		if h.FQName == "files.list" {
			found = true
		}
	}
	require.True(t, found, "expected files.list among routed hits: %+v", hits)
}

func TestSniffCandidatesMatchesDeclarativeRules(t *testing.T) {
	k, err := New(testConfig(t), nil)
	require.NoError(t, err)
	require.NoError(t, k.Start(context.Background()))
	defer k.Stop(context.Background())

	// No declarative sniffer rules are registered by the sample skill
	// fixture, so sniffing any directory returns no candidates — this
	// still exercises the live Sniff call path end to end.
	require.Empty(t, k.SniffCandidates(t.TempDir()))
}

func TestStartTTLSweepLoopStopsOnContextCancel(t *testing.T) {
	k, err := New(testConfig(t), nil)
	require.NoError(t, err)
	require.NoError(t, k.Start(context.Background()))
	defer k.Stop(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		k.StartTTLSweepLoop(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the TTL sweep loop to exit promptly after cancellation")
	}
}
