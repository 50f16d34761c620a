package zdbconfig

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/icgo-zdb/zdb/pool"
	"github.com/icgo-zdb/zdb/zdberr"
)

// debounceDelay coalesces the burst of events most editors produce on save
// (typically a temp-file write followed by a rename) into a single reload.
const debounceDelay = 500 * time.Millisecond

// Watcher watches a config file and, on change, reloads it and pushes the
// tunable fields (initial/max connections, connection timeout, sweep
// interval) into a live pool.ConnectionPool. A URL change is logged but not
// applied; a ReaperEnabled change is neither applied nor logged. Both take
// effect only when the pool is rebuilt.
type Watcher struct {
	path string
	pool *pool.ConnectionPool
	log  *zap.SugaredLogger

	fsw    *fsnotify.Watcher
	mu     sync.Mutex
	stopCh chan struct{}
}

// NewWatcher starts watching path and applying reloaded config to p.
func NewWatcher(path string, p *pool.ConnectionPool, log *zap.SugaredLogger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, zdberr.Wrap(err, "creating file watcher")
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, zdberr.Wrap(err, "watching config file %q", path)
	}

	w := &Watcher{
		path:   path,
		pool:   p,
		log:    log,
		fsw:    fsw,
		stopCh: make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, w.reload)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warnw("config watcher error", "err", err)
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) reload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	cfg, err := Load(w.path)
	if err != nil {
		w.log.Warnw("config hot-reload failed", "path", w.path, "err", err)
		return
	}

	if cfg.URL != w.pool.URL().String() {
		w.log.Warnw("config hot-reload: url change requires a restart, ignoring", "path", w.path)
	}

	// SetMax and SetInitial each assert initial <= max; order the two calls
	// so the invariant never trips transiently while applying the update.
	if cfg.MaxConns >= w.pool.Max() {
		w.pool.SetMax(cfg.MaxConns)
		w.pool.SetInitial(cfg.InitialConns)
	} else {
		w.pool.SetInitial(cfg.InitialConns)
		w.pool.SetMax(cfg.MaxConns)
	}
	w.pool.SetConnectionTimeout(cfg.ConnectionTimeout)
	w.pool.SetSweepInterval(cfg.SweepInterval)
	w.log.Infow("config reloaded", "path", w.path)
}

// Stop stops watching the config file.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	return w.fsw.Close()
}
