// Package kernel is the composition root: it owns every
// component's lifecycle and exposes the single execute_tool(name,
// arguments) entry point, grounded on
// alex/internal/app/toolregistry.NewRegistry's construct-then-wire-builtins
// shape and alex/internal/infra/mcp.Registry.Initialize's boot sequence.
package kernel

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skillkernel/kernel/internal/checkpoint"
	domain "github.com/skillkernel/kernel/internal/domain/skill"
	"github.com/skillkernel/kernel/internal/executor"
	"github.com/skillkernel/kernel/internal/indexer"
	"github.com/skillkernel/kernel/internal/invoker"
	"github.com/skillkernel/kernel/internal/logging"
	"github.com/skillkernel/kernel/internal/metrics"
	"github.com/skillkernel/kernel/internal/persistence"
	"github.com/skillkernel/kernel/internal/reactor"
	"github.com/skillkernel/kernel/internal/router"
	"github.com/skillkernel/kernel/internal/scanner"
	"github.com/skillkernel/kernel/internal/security"
	"github.com/skillkernel/kernel/internal/skillcontext"
	"github.com/skillkernel/kernel/internal/sniffer"
	"github.com/skillkernel/kernel/internal/transport"
	"github.com/skillkernel/kernel/internal/watcher"
)

// Kernel owns every component's lifecycle and wires them together.
type Kernel struct {
	cfg    Config
	logger logging.Logger

	reactor     *reactor.Reactor
	scanner     *scanner.Scanner
	gate        *security.Gate
	skills      *skillcontext.SkillContext
	indexer     *indexer.Indexer
	router      *router.Router
	sniffer     *sniffer.Sniffer
	watcher     *watcher.Watcher
	persistence *persistence.Service
	executor    *executor.Executor
	transport   *transport.Server
	cfgWatcher  *ConfigWatcher
	metrics     *metrics.Metrics
}

// Option customizes Kernel construction.
type Option func(*kernelOptions)

type kernelOptions struct {
	metrics *metrics.Metrics
}

// WithMetrics installs a Metrics instance; omit it and New registers a
// fresh Metrics on a private Prometheus registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *kernelOptions) { o.metrics = m }
}

// New constructs a Kernel over cfg without starting any component.
func New(cfg Config, logger logging.Logger, opts ...Option) (*Kernel, error) {
	logger = logging.OrNop(logger)
	options := kernelOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.metrics == nil {
		// Default to a private registry so independently-constructed
		// Kernels (as in tests) never collide on the global Prometheus
		// registry; cmd/skillkerneld passes WithMetrics(metrics.New())
		// explicitly to expose metrics on the process's default registry.
		options.metrics = metrics.NewWithRegisterer(prometheus.NewRegistry())
	}
	security.RegisterTrustedPrefixes(cfg.Security.TrustedSources)

	r := reactor.New(reactor.WithLogger(logger))

	gate := security.New(
		security.WithLogger(logger),
		security.WithScannerThresholds(cfg.Security.BlockThreshold, cfg.Security.WarnThreshold),
	)

	skills := skillcontext.New(r, gate,
		skillcontext.WithLogger(logger),
		skillcontext.WithMaxLoaded(cfg.Skills.MaxLoaded),
		skillcontext.WithTTL(cfg.TTL()),
		skillcontext.WithPinned(append(append([]string{}, cfg.Skills.Preload...), cfg.Skills.CLIExtend...)...),
	)

	idx, err := indexer.New(cfg.IndexPath,
		indexer.WithLogger(logger),
		indexer.WithPublisher(r),
	)
	if err != nil {
		return nil, fmt.Errorf("construct indexer: %w", err)
	}

	snf := sniffer.New()
	rt := router.New(idx)
	rt.SetSniffer(snf)

	isDocs := func(path string) bool {
		for _, root := range cfg.DocsRoots {
			if pathUnder(root, path) {
				return true
			}
		}
		return false
	}
	w := watcher.New(cfg.SkillRoots, r,
		watcher.WithLogger(logger),
		watcher.WithDocsPredicate(isDocs),
	)

	store, err := checkpoint.NewFileStore(cfg.IndexPath)
	if err != nil {
		return nil, fmt.Errorf("construct checkpoint store: %w", err)
	}
	ps := persistence.New(r, store, persistence.WithLogger(logger))

	exec := executor.New(skills, invoker.New(invoker.WithLogger(logger)),
		executor.WithLogger(logger),
		executor.WithAliases(cfg.aliasMap()),
		executor.WithFilterCommands(cfg.Skills.FilterCommands),
		executor.WithTimeout(cfg.TransportTimeout()),
	)

	k := &Kernel{
		cfg:         cfg,
		logger:      logger,
		reactor:     r,
		gate:        gate,
		skills:      skills,
		indexer:     idx,
		router:      rt,
		sniffer:     snf,
		watcher:     w,
		persistence: ps,
		executor:    exec,
		scanner:     scanner.New(logger),
		metrics:     options.metrics,
	}

	k.transport = transport.New(exec, skills,
		transport.WithLogger(logger),
		transport.WithSessionTimeout(cfg.TransportTimeout()),
		transport.WithRouter(k),
	)

	return k, nil
}

func pathUnder(root, path string) bool {
	if root == "" || len(path) < len(root) {
		return false
	}
	return path[:len(root)] == root
}

// Start runs the full boot sequence: scan skills, build the indexer
// snapshot, register sniffer rules from the discovered skills, build the
// relationship graph, load the preload/CLI-extend skills (each assessed by
// the security gate), subscribe to file.changed, then start the
// Persistence Service, the Transport Adapter's catalog watch and the Watcher.
func (k *Kernel) Start(ctx context.Context) error {
	discovered, err := k.scanAll()
	if err != nil {
		return fmt.Errorf("scan skills: %w", err)
	}
	k.skills.SetCatalog(discovered)

	var records []domain.ToolRecord
	var rules int
	for _, sk := range discovered {
		records = append(records, sk.Records...)
	}
	if _, err := k.indexer.ApplyDiff(ctx, indexer.DiffRecords(nil, records)); err != nil {
		return fmt.Errorf("build initial index: %w", err)
	}
	rules = k.sniffer.LoadFromIndex(discovered)
	k.logger.Info("loaded %d sniffer rules across %d skills", rules, len(discovered))

	graph := router.BuildRelationshipGraph(records)
	k.router.SetRelationshipGraph(graph)

	for _, name := range append(append([]string{}, k.cfg.Skills.Preload...), k.cfg.Skills.CLIExtend...) {
		if err := k.skills.EnsureLoaded(name); err != nil {
			if k.isPinnedBlockFatal(name, err) {
				return &PinnedSkillBlockedError{Skill: name, Err: err}
			}
			k.logger.Warn("preload skill %s failed: %v", name, err)
		}
	}

	k.reactor.Subscribe(domain.TopicFileChanged, 10, func(ev reactor.Event) {
		payload, ok := ev.Payload.(domain.FileChangedPayload)
		if !ok {
			return
		}
		k.handleFileChanged(ctx, payload)
	})

	k.persistence.Start(k.reactor)
	k.transport.WatchCatalog(k.reactor)
	k.watcher.Start()

	k.logger.Info("kernel started: %d skills discovered, %d preloaded", len(discovered), len(k.skills.Loaded()))
	return nil
}

// PinnedSkillBlockedError reports that a preload-pinned skill was assessed
// as security-blocked at boot — the exit code 3 condition.
type PinnedSkillBlockedError struct {
	Skill string
	Err   error
}

func (e *PinnedSkillBlockedError) Error() string {
	return fmt.Sprintf("pinned skill %s blocked: %v", e.Skill, e.Err)
}

func (e *PinnedSkillBlockedError) Unwrap() error { return e.Err }

// isPinnedBlockFatal reports whether err is the security gate's block
// error (the exact message load() in skillcontext produces), as opposed to
// a generic load failure — the CLI distinguishes exit code 3 (security
// block on a pinned skill) from exit code 1 (generic failure).
func (k *Kernel) isPinnedBlockFatal(name string, err error) bool {
	return strings.Contains(err.Error(), "blocked by security gate")
}

func (k *Kernel) scanAll() ([]domain.DiscoveredSkill, error) {
	var all []domain.DiscoveredSkill
	for _, root := range k.cfg.SkillRoots {
		found, err := k.scanner.ScanDirectory(root)
		if err != nil {
			return nil, fmt.Errorf("scan root %s: %w", root, err)
		}
		all = append(all, found...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all, nil
}

func (k *Kernel) handleFileChanged(ctx context.Context, payload domain.FileChangedPayload) {
	if payload.IsDocs {
		for _, root := range k.cfg.DocsRoots {
			if _, err := k.indexer.ReindexDocs(ctx, root); err != nil {
				k.logger.Warn("reindex docs %s: %v", root, err)
			}
		}
		return
	}

	discovered, err := k.scanAll()
	if err != nil {
		k.logger.Warn("rescan on file change: %v", err)
		return
	}
	k.skills.SetCatalog(discovered)
	k.skills.HandleFileChanged(payload)
	k.skills.ReassessSecurity()

	var records []domain.ToolRecord
	for _, sk := range discovered {
		records = append(records, sk.Records...)
	}
	current := k.indexer.ListAll()
	if _, err := k.indexer.ApplyDiff(ctx, indexer.DiffRecords(current, records)); err != nil {
		k.logger.Warn("reindex on file change: %v", err)
		return
	}
	k.sniffer.LoadFromIndex(discovered)
	k.router.SetRelationshipGraph(router.BuildRelationshipGraph(records))
}

// ExecuteTool is the kernel's single chokepoint for turning an MCP
// tools/call into a result.
func (k *Kernel) ExecuteTool(ctx context.Context, name string, arguments map[string]any) *domain.ToolResponse {
	start := time.Now()
	resp := k.executor.Execute(ctx, name, arguments)
	k.metrics.RecordDispatch(name, string(resp.Status), time.Since(start))
	return resp
}

// Transport exposes the Transport Adapter for a cmd/ binary to bind to a
// concrete front end (HTTP, stdio).
func (k *Kernel) Transport() *transport.Server { return k.transport }

// Catalog returns the current dispatch snapshot, for diagnostics (e.g. the
// `scan` CLI subcommand).
func (k *Kernel) Catalog() []domain.ToolCommand { return k.skills.DispatchSnapshot() }

// RouteTools ranks the dispatch catalog against task. The always-included
// "core" set is the pinned (preload/CLI-extend) skills' tool names, capped
// to skills.limits.core_min; the result is capped to
// skills.limits.dynamic_tools. cwd, if non-empty, is also sniffed via the
// Router's installed Sniffer.
func (k *Kernel) RouteTools(ctx context.Context, task, cwd string) ([]router.Hit, error) {
	topK := k.cfg.Skills.Limits.DynamicTools
	if topK <= 0 {
		topK = 15
	}
	return k.router.Route(ctx, task, k.coreToolNames(), topK, cwd)
}

// Route implements transport.Router, adapting RouteTools's result to the
// Transport Adapter's tools/list path.
func (k *Kernel) Route(ctx context.Context, task, cwd string) ([]transport.RouterHit, error) {
	hits, err := k.RouteTools(ctx, task, cwd)
	if err != nil {
		return nil, err
	}
	out := make([]transport.RouterHit, len(hits))
	for i, h := range hits {
		out[i] = transport.RouterHit{FQName: h.FQName, Score: h.Score}
	}
	return out, nil
}

// coreToolNames returns the fully-qualified tool names owned by pinned
// skills, sorted for determinism and capped to skills.limits.core_min.
func (k *Kernel) coreToolNames() []string {
	pinned := make(map[string]bool, len(k.cfg.Skills.Preload)+len(k.cfg.Skills.CLIExtend))
	for _, name := range k.cfg.Skills.Preload {
		pinned[name] = true
	}
	for _, name := range k.cfg.Skills.CLIExtend {
		pinned[name] = true
	}
	var names []string
	for _, cmd := range k.skills.DispatchSnapshot() {
		if pinned[cmd.Skill] {
			names = append(names, cmd.FQName)
		}
	}
	sort.Strings(names)
	if max := k.cfg.Skills.Limits.CoreMin; max > 0 && len(names) > max {
		names = names[:max]
	}
	return names
}

// SniffCandidates returns every skill whose declarative sniffer rules
// match cwd, for diagnostics (e.g. the `scan` CLI subcommand).
func (k *Kernel) SniffCandidates(cwd string) []string {
	return k.sniffer.Sniff(cwd)
}

// RunTTLSweep performs one TTL sweep pass; callers schedule it on
// cfg.Skills.TTL.CheckIntervalSeconds.
func (k *Kernel) RunTTLSweep() {
	before := len(k.skills.Loaded())
	k.skills.TTLSweep()
	k.skills.EnforceMemoryLimit()
	after := k.skills.Loaded()
	k.metrics.SetSkillsLoaded(len(after))
	for evicted := before - len(after); evicted > 0; evicted-- {
		k.metrics.RecordEviction("ttl_or_lru")
	}
}

// StartTTLSweepLoop runs RunTTLSweep on the configured interval until ctx is
// canceled.
func (k *Kernel) StartTTLSweepLoop(ctx context.Context) {
	interval := k.cfg.TTLCheckInterval()
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.RunTTLSweep()
		}
	}
}

// Stop runs the shutdown sequence: stop the Watcher and the config
// watcher, stop the Persistence Service (flushing its queue, bounded by
// ctx), then force-unload every loaded skill (publishing skill.unloaded).
// Stop calls nothing on the Reactor or the Indexer: queued events are not
// drained and backend handles are not released.
func (k *Kernel) Stop(ctx context.Context) {
	k.watcher.Stop()
	if k.cfgWatcher != nil {
		k.cfgWatcher.Stop()
	}
	k.persistence.Stop(ctx)
	for _, name := range k.skills.Loaded() {
		_ = k.skills.Unload(name, true)
	}
	k.logger.Info("kernel stopped")
}
