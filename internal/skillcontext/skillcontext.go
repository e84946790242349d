// Package skillcontext is the kernel's heart: the
// authoritative, concurrency-safe owner of the loaded-skill map and the
// dispatch map. It enforces the eviction policy, performs JIT loading, and
// publishes lifecycle events onto the Reactor.
package skillcontext

import (
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	domain "github.com/skillkernel/kernel/internal/domain/skill"
	"github.com/skillkernel/kernel/internal/logging"
)

// Publisher is the minimal *reactor.Reactor surface SkillContext needs.
type Publisher interface {
	Publish(topic string, payload any) uint64
}

// Gate is the minimal *security.Gate surface SkillContext needs.
type Gate interface {
	Assess(skillName, skillDir string, manifest domain.Manifest) (domain.SecurityAssessment, error)
	Invalidate(skillName string)
}

// loadedSkill is one entry in the loaded-skill map.
type loadedSkill struct {
	name       string
	pinned     bool
	state      domain.LoadState
	assessment domain.SecurityAssessment
	blockErr   error // sticky; non-nil once the Gate has blocked this skill
	lastTouch  time.Time
}

// Option customizes SkillContext construction.
type Option func(*SkillContext)

// WithLogger sets the diagnostic logger.
func WithLogger(l logging.Logger) Option {
	return func(sc *SkillContext) { sc.logger = logging.OrNop(l) }
}

// WithMaxLoaded overrides skills.max_loaded (default 15).
func WithMaxLoaded(n int) Option {
	return func(sc *SkillContext) {
		if n > 0 {
			sc.maxLoaded = n
		}
	}
}

// WithTTL overrides skills.ttl.timeout_seconds (default 1800s).
func WithTTL(d time.Duration) Option {
	return func(sc *SkillContext) {
		if d > 0 {
			sc.ttl = d
		}
	}
}

// WithPinned marks skill names as pinned (core, never evicted).
func WithPinned(names ...string) Option {
	return func(sc *SkillContext) {
		for _, n := range names {
			sc.pinned[n] = true
		}
	}
}

// SkillContext owns the loaded-skill map and the fq_name -> ToolCommand
// dispatch map.
type SkillContext struct {
	logger    logging.Logger
	publisher Publisher
	gate      Gate
	maxLoaded int
	ttl       time.Duration
	pinned    map[string]bool

	mu       sync.RWMutex
	catalog  map[string]domain.DiscoveredSkill // skill name -> discovered skill
	loaded   map[string]*loadedSkill
	dispatch map[string]domain.ToolCommand // fq_name -> command
	recency  *lru.Cache[string, struct{}]  // tracks touch order of non-pinned skills

	group singleflight.Group
}

// New constructs a SkillContext.
func New(publisher Publisher, gate Gate, opts ...Option) *SkillContext {
	sc := &SkillContext{
		logger:    logging.NewComponentLogger("SkillContext"),
		publisher: publisher,
		gate:      gate,
		maxLoaded: 15,
		ttl:       1800 * time.Second,
		pinned:    make(map[string]bool),
		catalog:   make(map[string]domain.DiscoveredSkill),
		loaded:    make(map[string]*loadedSkill),
		dispatch:  make(map[string]domain.ToolCommand),
	}
	for _, opt := range opts {
		opt(sc)
	}
	// Unbounded: capacity enforcement is EnforceMemoryLimit's job, not the
	// cache's. The cache exists purely to track least-recently-touched order.
	cache, _ := lru.New[string, struct{}](1 << 20)
	sc.recency = cache
	return sc
}

// SetCatalog replaces the discovered-skill catalog the JIT loader consults.
// Called after every scan/reindex.
func (sc *SkillContext) SetCatalog(skills []domain.DiscoveredSkill) {
	catalog := make(map[string]domain.DiscoveredSkill, len(skills))
	for _, s := range skills {
		catalog[s.Name] = s
	}
	sc.mu.Lock()
	sc.catalog = catalog
	sc.mu.Unlock()
}

// GetCommand is the dispatch read path: cheap, lock-free-ish (a single
// RLock), and never suspends.
func (sc *SkillContext) GetCommand(fqName string) (domain.ToolCommand, bool) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	cmd, ok := sc.dispatch[fqName]
	return cmd, ok
}

// SkillOf returns the skill name portion of a fully-qualified tool name.
func SkillOf(fqName string) string {
	for i := 0; i < len(fqName); i++ {
		if fqName[i] == '.' {
			return fqName[:i]
		}
	}
	return fqName
}

// EnsureLoaded JIT-loads skillName, deduplicating concurrent callers onto a
// single load. Idempotent: an already-loaded, non-stale skill just touches
// its recency and returns. A sticky block decision short-circuits without
// re-scanning.
func (sc *SkillContext) EnsureLoaded(skillName string) error {
	sc.mu.RLock()
	if ls, ok := sc.loaded[skillName]; ok {
		if ls.blockErr != nil {
			sc.mu.RUnlock()
			return ls.blockErr
		}
		sc.mu.RUnlock()
		sc.Touch(skillName)
		return nil
	}
	sc.mu.RUnlock()

	_, err, _ := sc.group.Do(skillName, func() (any, error) {
		return nil, sc.load(skillName)
	})
	return err
}

func (sc *SkillContext) load(skillName string) error {
	sc.mu.RLock()
	discovered, ok := sc.catalog[skillName]
	sc.mu.RUnlock()
	if !ok {
		return fmt.Errorf("skill %q not found", skillName)
	}

	assessment, err := sc.gate.Assess(skillName, discovered.Path, discovered.Manifest)
	if err != nil {
		return fmt.Errorf("security assessment for %q: %w", skillName, err)
	}

	if assessment.Decision == domain.DecisionBlock {
		blockErr := fmt.Errorf("skill %q blocked by security gate: %s", skillName, joinWarnings(assessment))
		sc.mu.Lock()
		sc.loaded[skillName] = &loadedSkill{
			name: skillName, state: domain.StateGated, assessment: assessment, blockErr: blockErr,
		}
		sc.mu.Unlock()
		return blockErr
	}

	sc.mu.Lock()
	pinned := sc.pinned[skillName]
	for _, rec := range discovered.Records {
		sc.dispatch[rec.ID()] = rec.ToolCommand
	}
	sc.loaded[skillName] = &loadedSkill{
		name: skillName, pinned: pinned, state: domain.StateLoaded,
		assessment: assessment, lastTouch: time.Now(),
	}
	sc.mu.Unlock()

	if !pinned {
		sc.recency.Add(skillName, struct{}{})
	}
	sc.publisher.Publish(domain.TopicSkillLoaded, domain.SkillLifecyclePayload{Skill: skillName})
	return nil
}

func joinWarnings(a domain.SecurityAssessment) string {
	if len(a.Warnings) == 0 {
		return fmt.Sprintf("score %d", a.Score)
	}
	out := a.Warnings[0]
	for _, w := range a.Warnings[1:] {
		out += "; " + w
	}
	return out
}

// Unload removes skillName's commands from dispatch and publishes
// skill.unloaded. Pinned skills refuse unless force is set.
func (sc *SkillContext) Unload(skillName string, force bool) error {
	sc.mu.Lock()
	ls, ok := sc.loaded[skillName]
	if !ok {
		sc.mu.Unlock()
		return nil
	}
	if ls.pinned && !force {
		sc.mu.Unlock()
		return fmt.Errorf("skill %q is pinned and cannot be unloaded", skillName)
	}
	for fq := range sc.dispatch {
		if SkillOf(fq) == skillName {
			delete(sc.dispatch, fq)
		}
	}
	delete(sc.loaded, skillName)
	sc.mu.Unlock()

	sc.recency.Remove(skillName)
	sc.publisher.Publish(domain.TopicSkillUnloaded, domain.SkillLifecyclePayload{Skill: skillName})
	return nil
}

// Touch refreshes skillName's LRU timestamp.
func (sc *SkillContext) Touch(skillName string) {
	sc.mu.Lock()
	if ls, ok := sc.loaded[skillName]; ok {
		ls.lastTouch = time.Now()
		pinned := ls.pinned
		sc.mu.Unlock()
		if !pinned {
			sc.recency.Get(skillName) // bumps recency order
		}
		return
	}
	sc.mu.Unlock()
}

// EnforceMemoryLimit unloads the least-recently-touched non-pinned skills
// until |loaded \ pinned| <= maxLoaded.
func (sc *SkillContext) EnforceMemoryLimit() {
	for {
		sc.mu.RLock()
		nonPinned := 0
		for _, ls := range sc.loaded {
			if !ls.pinned {
				nonPinned++
			}
		}
		sc.mu.RUnlock()
		if nonPinned <= sc.maxLoaded {
			return
		}
		keys := sc.recency.Keys() // oldest first
		if len(keys) == 0 {
			return
		}
		_ = sc.Unload(keys[0], false)
	}
}

// TTLSweep unloads every non-pinned skill whose last touch exceeds ttl.
// Intended to run on a periodic timer (skills.ttl.check_interval_seconds).
func (sc *SkillContext) TTLSweep() {
	now := time.Now()
	sc.mu.RLock()
	var stale []string
	for name, ls := range sc.loaded {
		if !ls.pinned && now.Sub(ls.lastTouch) > sc.ttl {
			stale = append(stale, name)
		}
	}
	sc.mu.RUnlock()
	sort.Strings(stale)
	for _, name := range stale {
		_ = sc.Unload(name, false)
	}
}

// HandleFileChanged reacts to a file.changed batch: any loaded skill whose
// path is touched is unloaded eagerly (off the dispatch path) so the next
// get_command miss drives a fresh EnsureLoaded via the Executor's retry
// path: the next get_command triggers unload-then-reload.
func (sc *SkillContext) HandleFileChanged(payload domain.FileChangedPayload) {
	if payload.IsDocs {
		return
	}
	sc.mu.RLock()
	var affected []string
	for name := range sc.loaded {
		discovered, ok := sc.catalog[name]
		if !ok {
			continue
		}
		for _, change := range payload.Changes {
			if pathUnder(discovered.Path, change.Path) {
				affected = append(affected, name)
				break
			}
		}
	}
	sc.mu.RUnlock()
	for _, name := range affected {
		sc.gate.Invalidate(name)
		_ = sc.Unload(name, false)
	}
}

func pathUnder(root, path string) bool {
	if len(path) < len(root) {
		return false
	}
	return path[:len(root)] == root
}

// ReassessSecurity re-runs the Gate over every currently loaded non-pinned
// skill and immediately unloads any whose decision has downgraded to
// block.
func (sc *SkillContext) ReassessSecurity() {
	sc.mu.RLock()
	var names []string
	for name, ls := range sc.loaded {
		if !ls.pinned {
			names = append(names, name)
		}
	}
	sc.mu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		sc.mu.RLock()
		discovered, ok := sc.catalog[name]
		sc.mu.RUnlock()
		if !ok {
			continue
		}
		assessment, err := sc.gate.Assess(name, discovered.Path, discovered.Manifest)
		if err != nil {
			sc.logger.Warn("reassessing %s: %v", name, err)
			continue
		}
		if assessment.Decision == domain.DecisionBlock {
			sc.logger.Warn("skill %s downgraded to block on reassessment; unloading", name)
			_ = sc.Unload(name, false)
		}
	}
}

// Loaded returns the names of every currently loaded skill, sorted.
func (sc *SkillContext) Loaded() []string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	names := make([]string, 0, len(sc.loaded))
	for name := range sc.loaded {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DispatchSnapshot returns a point-in-time copy of every registered tool
// command, for tools/list.
func (sc *SkillContext) DispatchSnapshot() []domain.ToolCommand {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	out := make([]domain.ToolCommand, 0, len(sc.dispatch))
	for _, cmd := range sc.dispatch {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FQName < out[j].FQName })
	return out
}
