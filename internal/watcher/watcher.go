// Package watcher translates filesystem activity under a configured set of
// roots into coalesced file.changed events on the Reactor,
// grounded on alex's config hot-reload watcher
// (internal/config/runtime_watcher.go): an fsnotify backend, a debounce
// timer that coalesces bursts, and a panic-safe dispatch goroutine.
package watcher

import (
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/skillkernel/kernel/internal/async"
	domain "github.com/skillkernel/kernel/internal/domain/skill"
	"github.com/skillkernel/kernel/internal/logging"
)

// defaultDebounce is the watcher's configurable default, ~250 ms.
const defaultDebounce = 250 * time.Millisecond

// defaultPollInterval governs the fallback polling mode entered when the
// fsnotify backend cannot be started.
const defaultPollInterval = 2 * time.Second

// Publisher is the minimal *reactor.Reactor surface the Watcher needs.
type Publisher interface {
	Publish(topic string, payload any) uint64
}

// denylistSubstrings are path fragments the Watcher never reports changes
// for: VCS metadata, common caches, and editor swap/backup files.
var denylistSubstrings = []string{
	string(filepath.Separator) + ".git" + string(filepath.Separator),
	string(filepath.Separator) + "__pycache__" + string(filepath.Separator),
	string(filepath.Separator) + "node_modules" + string(filepath.Separator),
	string(filepath.Separator) + ".cache" + string(filepath.Separator),
}

var denylistSuffixes = []string{".swp", ".swo", "~", ".tmp"}

func isDenied(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".#") || strings.HasPrefix(base, "#") {
		return true
	}
	for _, suf := range denylistSuffixes {
		if strings.HasSuffix(base, suf) {
			return true
		}
	}
	padded := string(filepath.Separator) + path
	for _, frag := range denylistSubstrings {
		if strings.Contains(padded, frag) {
			return true
		}
	}
	return false
}

// Watcher observes a set of root directories recursively and publishes
// coalesced file.changed events.
type Watcher struct {
	roots     []string
	publisher Publisher
	logger    logging.Logger
	debounce  time.Duration
	pollEvery time.Duration
	isDocs    func(path string) bool

	mu      sync.Mutex
	pending map[string]domain.ChangeKind
	timer   *time.Timer

	fsWatcher *fsnotify.Watcher
	polling   bool
	knownMod  map[string]time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Option customizes Watcher construction.
type Option func(*Watcher)

// WithLogger sets the Watcher's diagnostic logger.
func WithLogger(l logging.Logger) Option { return func(w *Watcher) { w.logger = logging.OrNop(l) } }

// WithDebounce overrides the default 250ms coalescing window.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithPollInterval overrides the fallback polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.pollEvery = d
		}
	}
}

// WithDocsPredicate marks which changed paths belong to a docs root rather
// than a skill root (a "docs-only filesystem events" change).
func WithDocsPredicate(fn func(path string) bool) Option {
	return func(w *Watcher) {
		if fn != nil {
			w.isDocs = fn
		}
	}
}

// New constructs a Watcher over roots, publishing to publisher.
func New(roots []string, publisher Publisher, opts ...Option) *Watcher {
	w := &Watcher{
		roots:     append([]string{}, roots...),
		publisher: publisher,
		logger:    logging.NewComponentLogger("Watcher"),
		debounce:  defaultDebounce,
		pollEvery: defaultPollInterval,
		isDocs:    func(string) bool { return false },
		pending:   make(map[string]domain.ChangeKind),
		knownMod:  make(map[string]time.Time),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins observing. It tries the fsnotify backend first and falls
// back to periodic polling if the backend cannot be initialized — failures
// never stop the Watcher, only degrade its latency.
func (w *Watcher) Start() {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("fsnotify unavailable (%v); falling back to polling", err)
		w.startPolling()
		return
	}
	added := 0
	for _, root := range w.roots {
		if err := addRecursive(fsw, root); err != nil {
			w.logger.Warn("watch root %s: %v", root, err)
			continue
		}
		added++
	}
	if added == 0 {
		_ = fsw.Close()
		w.logger.Warn("no roots could be watched; falling back to polling")
		w.startPolling()
		return
	}
	w.fsWatcher = fsw
	async.Go(w.logger, "watcher.fsnotify", w.fsnotifyLoop)
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && !isDenied(path) {
			if addErr := fsw.Add(path); addErr != nil {
				return addErr
			}
		}
		return nil
	})
}

// Stop terminates the watcher, stopping whichever backend is active.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		if w.fsWatcher != nil {
			_ = w.fsWatcher.Close()
		}
	})
}

func (w *Watcher) fsnotifyLoop() {
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(ev)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher backend error: %v", err)
		}
	}
}

func (w *Watcher) handleFSEvent(ev fsnotify.Event) {
	if ev.Name == "" || isDenied(ev.Name) {
		return
	}
	var kind domain.ChangeKind
	switch {
	case ev.Op&fsnotify.Remove != 0, ev.Op&fsnotify.Rename != 0:
		kind = domain.ChangeDeleted
	case ev.Op&fsnotify.Create != 0:
		kind = domain.ChangeCreated
	case ev.Op&fsnotify.Write != 0, ev.Op&fsnotify.Chmod != 0:
		kind = domain.ChangeModified
	default:
		return
	}
	w.enqueue(ev.Name, kind)
}

// enqueue coalesces path's change into the pending batch and (re)arms the
// debounce timer, matching alex's scheduleReload pattern.
func (w *Watcher) enqueue(path string, kind domain.ChangeKind) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[path] = kind
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	select {
	case <-w.stopCh:
		return
	default:
	}
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	changes := make([]domain.FileChange, 0, len(w.pending))
	allDocs := true
	for path, kind := range w.pending {
		changes = append(changes, domain.FileChange{Path: path, Kind: kind})
		if !w.isDocs(path) {
			allDocs = false
		}
	}
	w.pending = make(map[string]domain.ChangeKind)
	w.mu.Unlock()

	w.publisher.Publish(domain.TopicFileChanged, domain.FileChangedPayload{
		Changes: changes,
		IsDocs:  allDocs,
	})
}

// startPolling is the fallback path when the fsnotify backend cannot be
// started: it stats every file under the roots on an interval and reports
// any mtime change, deletion, or new path. Coalescing still applies via the
// same enqueue/flush debounce path — polling can duplicate an event across
// two ticks, which is acceptable ("events may be duplicated
// but never lost"), but never misses one.
func (w *Watcher) startPolling() {
	w.polling = true
	w.scanOnce()
	async.Go(w.logger, "watcher.poll", func() {
		ticker := time.NewTicker(w.pollEvery)
		defer ticker.Stop()
		for {
			select {
			case <-w.stopCh:
				return
			case <-ticker.C:
				w.scanOnce()
			}
		}
	})
}

func (w *Watcher) scanOnce() {
	seen := make(map[string]struct{})
	for _, root := range w.roots {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || isDenied(path) {
				return nil
			}
			info, statErr := d.Info()
			if statErr != nil {
				return nil
			}
			seen[path] = struct{}{}
			mtime := info.ModTime()

			w.mu.Lock()
			prev, known := w.knownMod[path]
			w.knownMod[path] = mtime
			w.mu.Unlock()

			if !known {
				w.enqueue(path, domain.ChangeCreated)
			} else if !prev.Equal(mtime) {
				w.enqueue(path, domain.ChangeModified)
			}
			return nil
		})
	}

	w.mu.Lock()
	var deleted []string
	for path := range w.knownMod {
		if _, ok := seen[path]; !ok {
			deleted = append(deleted, path)
		}
	}
	for _, path := range deleted {
		delete(w.knownMod, path)
	}
	w.mu.Unlock()

	for _, path := range deleted {
		w.enqueue(path, domain.ChangeDeleted)
	}
}
