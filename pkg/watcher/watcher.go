// Package watcher runs a debounced, recursive fsnotify watch over a
// store or target tree and reports changed paths to the sync engine. It
// does not itself read file contents — it only informs the engine that a
// path may have changed.
//
// Grounded on the teacher pack's fsnotify event loop
// (Gizzahub-gzh-cli/cmd/ide/monitor/monitor.go: fsnotify.NewWatcher,
// recursive watch-add, select{ctx.Done()/watcher.Events/watcher.Errors}),
// extended with per-path debouncing and the shared self-change
// suppression table the spec requires; neither of those two mechanisms
// appears in the teacher's own monitor command, which reports every raw
// event immediately.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fulmenhq/agentsync/pkg/logger"
)

var log = logger.Named("watcher")

// Side identifies which half of a sync relationship an event came from.
type Side string

const (
	SideStore  Side = "store"
	SideTarget Side = "target"
)

// Kind is the filesystem operation a debounced event represents.
type Kind string

const (
	KindCreate Kind = "create"
	KindModify Kind = "modify"
	KindDelete Kind = "delete"
	KindRename Kind = "rename"
)

// Event is one debounced, de-suppressed filesystem change.
type Event struct {
	TargetID string
	Side     Side
	Path     string
	Kind     Kind
}

// DefaultDebounce is the default per-path debounce window.
const DefaultDebounce = 300 * time.Millisecond

// Watcher recursively watches root and emits debounced, suppression-
// filtered Events for TargetID/Side.
type Watcher struct {
	TargetID string
	Side     Side

	root       string
	debounce   time.Duration
	suppressor *Suppressor

	fsw *fsnotify.Watcher

	mu       sync.Mutex
	pending  map[string]*pendingEvent
	stopOnce sync.Once
	stopCh   chan struct{}
}

type pendingEvent struct {
	kind  Kind
	timer *time.Timer
}

// New creates a Watcher rooted at root. suppressor must be the same
// instance shared across every watcher the engine runs, store-side and
// target-side, so a write touching both sides is suppressed on both.
func New(targetID string, side Side, root string, suppressor *Suppressor, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w := &Watcher{
		TargetID:   targetID,
		Side:       side,
		root:       root,
		debounce:   debounce,
		suppressor: suppressor,
		fsw:        fsw,
		pending:    make(map[string]*pendingEvent),
		stopCh:     make(chan struct{}),
	}
	if err := w.addRecursive(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				return err
			}
		}
		return nil
	})
}

// Run starts delivering debounced events on the returned channel until ctx
// is cancelled or Close is called. Errors from the underlying fsnotify
// watcher are delivered on the second channel. Run returns at once; both
// channels are closed when delivery stops.
func (w *Watcher) Run(ctx context.Context) (<-chan Event, <-chan error) {
	events := make(chan Event)
	errs := make(chan error)

	go func() {
		defer close(events)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				w.stopOnce.Do(func() { close(w.stopCh) })
				return
			case fsEvent, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				w.handleFsEvent(fsEvent, events)
			case err, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
				log.Warn("watcher error", zap.String("target_id", w.TargetID), zap.Error(err))
				select {
				case errs <- err:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events, errs
}

func (w *Watcher) handleFsEvent(fsEvent fsnotify.Event, out chan<- Event) {
	if w.suppressor.ShouldSuppress(fsEvent.Name) {
		return
	}

	if fsEvent.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(fsEvent.Name); err == nil && info.IsDir() {
			_ = w.fsw.Add(fsEvent.Name)
		}
	}

	kind := classify(fsEvent.Op)

	w.mu.Lock()
	defer w.mu.Unlock()

	if existing, ok := w.pending[fsEvent.Name]; ok {
		existing.kind = kind
		existing.timer.Reset(w.debounce)
		return
	}

	path := fsEvent.Name
	pe := &pendingEvent{kind: kind}
	pe.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		select {
		case out <- Event{TargetID: w.TargetID, Side: w.Side, Path: path, Kind: pe.kind}:
		case <-w.stopCh:
		}
	})
	w.pending[fsEvent.Name] = pe
}

func classify(op fsnotify.Op) Kind {
	switch {
	case op&fsnotify.Remove != 0:
		return KindDelete
	case op&fsnotify.Rename != 0:
		return KindRename
	case op&fsnotify.Create != 0:
		return KindCreate
	default:
		return KindModify
	}
}

// Close stops the watcher and releases its OS resources.
func (w *Watcher) Close() error {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.mu.Lock()
	for _, pe := range w.pending {
		pe.timer.Stop()
	}
	w.pending = make(map[string]*pendingEvent)
	w.mu.Unlock()
	return w.fsw.Close()
}
