package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ArtifactKind is the type of file a change refers to.
type ArtifactKind string

const (
	ConfigArtifact ArtifactKind = "config"
	LogArtifact    ArtifactKind = "log"
)

// ChangeType says whether an artifact appeared, changed or went away.
type ChangeType string

const (
	Created  ChangeType = "created"
	Modified ChangeType = "modified"
	Removed  ChangeType = "removed"
)

// Change is a debounced artifact change in the collector directory.
type Change struct {
	Machine string
	Kind    ArtifactKind
	Type    ChangeType
	Path    string
	At      time.Time
}

// DefaultDebounce collapses bursts of events for the same file.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reports configuration and log files appearing in or leaving the
// collector directory.
type Watcher struct {
	dir       string
	configExt string
	delay     time.Duration
	fs        *fsnotify.Watcher
	changes   chan Change
	logger    *zap.Logger

	mu      sync.Mutex
	pending map[string]*pendingChange
	closed  bool

	wg sync.WaitGroup
}

// NewWatcher starts watching dir. Call Run to deliver changes.
func NewWatcher(dir, configExt string, delay time.Duration, logger *zap.Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(dir); err != nil {
		_ = fs.Close()
		return nil, err
	}
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Watcher{
		dir:       dir,
		configExt: configExt,
		delay:     delay,
		fs:        fs,
		changes:   make(chan Change, 64),
		pending:   make(map[string]*pendingChange),
		logger:    logger.Named("watcher"),
	}, nil
}

// Changes returns the change stream. It is closed when Run returns.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Run delivers changes until ctx is cancelled. It must be called once.
func (w *Watcher) Run(ctx context.Context) {
	defer w.shutdown()

	w.logger.Info("Watching collector directory", zap.String("dir", w.dir))

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if _, _, ok := w.classify(ev.Name); !ok {
		return
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) &&
		!ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Write) {
		return
	}
	w.debounce(ev.Name, ev.Op)
}

// classify maps a path to its machine and artifact kind.
func (w *Watcher) classify(path string) (string, ArtifactKind, bool) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return "", "", false
	}
	if name, ok := strings.CutSuffix(base, w.configExt); ok && name != "" {
		return name, ConfigArtifact, true
	}
	if name, ok := strings.CutSuffix(base, LogExt); ok && name != "" {
		return name, LogArtifact, true
	}
	return "", "", false
}

// pendingChange collects the operations seen for a path within one
// debounce window.
type pendingChange struct {
	timer *time.Timer
	op    fsnotify.Op
}

// debounce emits one change per path once events for it have been quiet for
// the delay.
func (w *Watcher) debounce(path string, op fsnotify.Op) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if prev, ok := w.pending[path]; ok && prev.timer.Stop() {
		w.wg.Done()
		op |= prev.op
	}
	p := &pendingChange{op: op}
	w.wg.Add(1)
	p.timer = time.AfterFunc(w.delay, func() {
		defer w.wg.Done()
		w.emit(path, p)
	})
	w.pending[path] = p
}

// changeType decides the reported type. A file that is gone was removed; one
// that exists was created only if a create was seen, otherwise written to.
func changeType(op fsnotify.Op, exists bool) ChangeType {
	switch {
	case !exists:
		return Removed
	case op.Has(fsnotify.Create):
		return Created
	default:
		return Modified
	}
}

func (w *Watcher) emit(path string, p *pendingChange) {
	_, err := os.Stat(path)
	exists := !errors.Is(err, os.ErrNotExist)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending[path] == p {
		delete(w.pending, path)
	}
	if w.closed {
		return
	}

	machine, kind, _ := w.classify(path)
	change := Change{Machine: machine, Kind: kind, Type: changeType(p.op, exists), Path: path, At: time.Now()}
	select {
	case w.changes <- change:
	default:
		w.logger.Warn("Change channel full, dropping change", zap.String("path", path))
	}
}

func (w *Watcher) shutdown() {
	w.mu.Lock()
	w.closed = true
	for path, p := range w.pending {
		// A stopped timer never runs its func, so release its wait slot here.
		if p.timer.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
	w.mu.Unlock()

	w.wg.Wait()
	_ = w.fs.Close()
	close(w.changes)
	w.logger.Info("Collector directory watcher stopped")
}
