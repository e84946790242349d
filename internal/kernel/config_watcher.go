package kernel

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/skillkernel/kernel/internal/async"
	"github.com/skillkernel/kernel/internal/logging"
)

const defaultConfigWatchDebounce = 750 * time.Millisecond

// ConfigWatcher reloads the config file independently of the skill-
// directory Watcher, grounded on alex's
// RuntimeConfigWatcher: watch the containing directory (so atomic
// save-via-rename still fires), debounce bursts, and hand the freshly
// loaded Config to onReload.
type ConfigWatcher struct {
	path     string
	logger   logging.Logger
	debounce time.Duration
	onReload func(Config, error)

	mu       sync.Mutex
	timer    *time.Timer
	fsWatcher *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewConfigWatcher constructs a watcher for path, invoking onReload after
// every debounced change.
func NewConfigWatcher(path string, logger logging.Logger, onReload func(Config, error)) *ConfigWatcher {
	return &ConfigWatcher{
		path:     filepath.Clean(path),
		logger:   logging.OrNop(logger),
		debounce: defaultConfigWatchDebounce,
		onReload: onReload,
		stopCh:   make(chan struct{}),
	}
}

// Start begins observing the config file's directory.
func (w *ConfigWatcher) Start() error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		_ = fsWatcher.Close()
		return err
	}
	w.mu.Lock()
	w.fsWatcher = fsWatcher
	w.mu.Unlock()

	async.Go(w.logger, "kernel.config_watch", w.watchLoop)
	return nil
}

// Stop terminates the watcher.
func (w *ConfigWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		if w.fsWatcher != nil {
			_ = w.fsWatcher.Close()
		}
		w.mu.Unlock()
	})
}

func (w *ConfigWatcher) watchLoop() {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error: %v", err)
		}
	}
}

func (w *ConfigWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.stopCh:
			return
		default:
		}
		cfg, err := LoadConfig(w.path)
		w.onReload(cfg, err)
	})
}
