package skillcontext

import (
	"fmt"
	"sync"
	"testing"
	"time"

	domain "github.com/skillkernel/kernel/internal/domain/skill"
)

type stubPublisher struct {
	mu      sync.Mutex
	events  []domain.SkillLifecyclePayload
	topics  []string
}

func (p *stubPublisher) Publish(topic string, payload any) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	if lp, ok := payload.(domain.SkillLifecyclePayload); ok {
		p.events = append(p.events, lp)
	}
	return 0
}

type stubGate struct {
	mu          sync.Mutex
	decisions   map[string]domain.SecurityDecision
	invalidated []string
}

func (g *stubGate) Assess(name, dir string, m domain.Manifest) (domain.SecurityAssessment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.decisions[name]
	if !ok {
		d = domain.DecisionAllow
	}
	return domain.SecurityAssessment{Skill: name, Decision: d}, nil
}

func (g *stubGate) Invalidate(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.invalidated = append(g.invalidated, name)
}

func discovered(name, path string, fqNames ...string) domain.DiscoveredSkill {
	var records []domain.ToolRecord
	for _, fq := range fqNames {
		records = append(records, domain.ToolRecord{ToolCommand: domain.ToolCommand{FQName: fq, Skill: name}})
	}
	return domain.DiscoveredSkill{Name: name, Path: path, Records: records}
}

func TestEnsureLoadedRegistersCommandsAndPublishes(t *testing.T) {
	pub := &stubPublisher{}
	gate := &stubGate{decisions: map[string]domain.SecurityDecision{}}
	sc := New(pub, gate)
	sc.SetCatalog([]domain.DiscoveredSkill{discovered("echo", "/skills/echo", "echo.ping")})

	if err := sc.EnsureLoaded("echo"); err != nil {
		t.Fatal(err)
	}
	if _, ok := sc.GetCommand("echo.ping"); !ok {
		t.Fatal("expected echo.ping registered")
	}
	if len(pub.events) != 1 || pub.topics[0] != domain.TopicSkillLoaded {
		t.Fatalf("expected one skill.loaded event, got %+v", pub.topics)
	}
}

func TestEnsureLoadedIsIdempotent(t *testing.T) {
	pub := &stubPublisher{}
	gate := &stubGate{decisions: map[string]domain.SecurityDecision{}}
	sc := New(pub, gate)
	sc.SetCatalog([]domain.DiscoveredSkill{discovered("echo", "/skills/echo", "echo.ping")})

	for i := 0; i < 3; i++ {
		if err := sc.EnsureLoaded("echo"); err != nil {
			t.Fatal(err)
		}
	}
	if len(pub.events) != 1 {
		t.Fatalf("expected exactly one load event across repeated calls, got %d", len(pub.events))
	}
}

func TestEnsureLoadedUnknownSkillErrors(t *testing.T) {
	sc := New(&stubPublisher{}, &stubGate{decisions: map[string]domain.SecurityDecision{}})
	if err := sc.EnsureLoaded("nonexistent"); err == nil {
		t.Fatal("expected error for unknown skill")
	}
}

func TestEnsureLoadedBlockedSkillIsStickyAndNeverRetried(t *testing.T) {
	pub := &stubPublisher{}
	gate := &stubGate{decisions: map[string]domain.SecurityDecision{"danger": domain.DecisionBlock}}
	sc := New(pub, gate)
	sc.SetCatalog([]domain.DiscoveredSkill{discovered("danger", "/skills/danger", "danger.run")})

	err1 := sc.EnsureLoaded("danger")
	err2 := sc.EnsureLoaded("danger")
	if err1 == nil || err2 == nil {
		t.Fatal("expected both calls to return the block error")
	}
	if _, ok := sc.GetCommand("danger.run"); ok {
		t.Fatal("blocked skill's commands must never be registered")
	}
	if len(pub.events) != 0 {
		t.Fatalf("expected no skill.loaded event for a blocked skill, got %+v", pub.events)
	}
}

func TestUnloadRefusesPinnedSkillWithoutForce(t *testing.T) {
	pub := &stubPublisher{}
	gate := &stubGate{decisions: map[string]domain.SecurityDecision{}}
	sc := New(pub, gate, WithPinned("memory"))
	sc.SetCatalog([]domain.DiscoveredSkill{discovered("memory", "/skills/memory", "memory.save")})
	if err := sc.EnsureLoaded("memory"); err != nil {
		t.Fatal(err)
	}

	if err := sc.Unload("memory", false); err == nil {
		t.Fatal("expected pinned unload to be refused")
	}
	if _, ok := sc.GetCommand("memory.save"); !ok {
		t.Fatal("pinned skill's command must remain registered")
	}
}

func TestEnforceMemoryLimitEvictsOldestNonPinnedFirst(t *testing.T) {
	pub := &stubPublisher{}
	gate := &stubGate{decisions: map[string]domain.SecurityDecision{}}
	sc := New(pub, gate, WithMaxLoaded(1), WithPinned("memory"))
	sc.SetCatalog([]domain.DiscoveredSkill{
		discovered("memory", "/skills/memory", "memory.save"),
		discovered("a", "/skills/a", "a.x"),
		discovered("b", "/skills/b", "b.y"),
	})

	must(t, sc.EnsureLoaded("memory"))
	must(t, sc.EnsureLoaded("a"))
	time.Sleep(2 * time.Millisecond)
	must(t, sc.EnsureLoaded("b"))

	sc.EnforceMemoryLimit()

	loaded := sc.Loaded()
	if !contains(loaded, "memory") {
		t.Errorf("expected pinned memory to remain loaded, got %v", loaded)
	}
	if !contains(loaded, "b") {
		t.Errorf("expected most-recently-loaded b to remain loaded, got %v", loaded)
	}
	if contains(loaded, "a") {
		t.Errorf("expected oldest non-pinned a to be evicted, got %v", loaded)
	}
}

func TestTTLSweepUnloadsStaleNonPinnedSkills(t *testing.T) {
	pub := &stubPublisher{}
	gate := &stubGate{decisions: map[string]domain.SecurityDecision{}}
	sc := New(pub, gate, WithTTL(10*time.Millisecond), WithPinned("memory"))
	sc.SetCatalog([]domain.DiscoveredSkill{
		discovered("memory", "/skills/memory", "memory.save"),
		discovered("a", "/skills/a", "a.x"),
	})
	must(t, sc.EnsureLoaded("memory"))
	must(t, sc.EnsureLoaded("a"))

	time.Sleep(25 * time.Millisecond)
	sc.TTLSweep()

	loaded := sc.Loaded()
	if !contains(loaded, "memory") {
		t.Errorf("expected pinned memory to survive TTL sweep, got %v", loaded)
	}
	if contains(loaded, "a") {
		t.Errorf("expected stale non-pinned a to be evicted, got %v", loaded)
	}
}

func TestHandleFileChangedUnloadsAffectedSkillOnly(t *testing.T) {
	pub := &stubPublisher{}
	gate := &stubGate{decisions: map[string]domain.SecurityDecision{}}
	sc := New(pub, gate)
	sc.SetCatalog([]domain.DiscoveredSkill{
		discovered("a", "/skills/a", "a.x"),
		discovered("b", "/skills/b", "b.y"),
	})
	must(t, sc.EnsureLoaded("a"))
	must(t, sc.EnsureLoaded("b"))

	sc.HandleFileChanged(domain.FileChangedPayload{
		Changes: []domain.FileChange{{Path: "/skills/a/tools.py", Kind: domain.ChangeModified}},
	})

	if _, ok := sc.GetCommand("a.x"); ok {
		t.Fatal("expected a.x unregistered after its skill's file changed")
	}
	if _, ok := sc.GetCommand("b.y"); !ok {
		t.Fatal("expected b.y to remain registered")
	}
	if len(gate.invalidated) != 1 || gate.invalidated[0] != "a" {
		t.Errorf("expected gate cache invalidated for a, got %v", gate.invalidated)
	}
}

func TestReassessSecurityUnloadsSkillDowngradedToBlock(t *testing.T) {
	pub := &stubPublisher{}
	gate := &stubGate{decisions: map[string]domain.SecurityDecision{}}
	sc := New(pub, gate)
	sc.SetCatalog([]domain.DiscoveredSkill{discovered("a", "/skills/a", "a.x")})
	must(t, sc.EnsureLoaded("a"))

	gate.decisions["a"] = domain.DecisionBlock
	sc.ReassessSecurity()

	if _, ok := sc.GetCommand("a.x"); ok {
		t.Fatal("expected a.x unregistered after downgrade to block")
	}
}

func TestConcurrentAccessSafety(t *testing.T) {
	pub := &stubPublisher{}
	gate := &stubGate{decisions: map[string]domain.SecurityDecision{}}
	sc := New(pub, gate)
	var skills []domain.DiscoveredSkill
	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("skill%d", i)
		skills = append(skills, discovered(name, "/skills/"+name, name+".run"))
	}
	sc.SetCatalog(skills)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			name := fmt.Sprintf("skill%d", idx%10)
			if err := sc.EnsureLoaded(name); err != nil {
				t.Errorf("concurrent EnsureLoaded(%s) failed: %v", name, err)
				return
			}
			sc.Touch(name)
			if idx%3 == 0 {
				_ = sc.Unload(name, false)
			}
		}(i)
	}
	wg.Wait()
	// No panics or races means success.
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
