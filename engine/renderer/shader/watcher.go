package shader

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDebounce is how long a watched file must stay quiet before a change is reported.
const DefaultReloadDebounce = 150 * time.Millisecond

// Watcher reports when shader program files change on disk so they can be reloaded.
// The parent directory of each file is watched rather than the file itself, since editors commonly
// replace files by rename. Bursts of events for one file are coalesced into a single change.
type Watcher struct {
	mu       *sync.Mutex
	fs       *fsnotify.Watcher
	files    map[string]struct{}
	pending  map[string]time.Time
	changes  chan string
	debounce time.Duration
	logger   *log.Logger
}

// NewWatcher creates a Watcher for the given program files.
//
// Parameters:
//   - paths: the program files to watch
//   - logger: the logger used for watch errors, or nil for the default logger
//
// Returns:
//   - *Watcher: the watcher, which must be started with Run
//   - error: an error if a directory cannot be watched
func NewWatcher(paths []string, logger *log.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}

	w := &Watcher{
		mu:       &sync.Mutex{},
		fs:       fsw,
		files:    make(map[string]struct{}, len(paths)),
		pending:  make(map[string]time.Time),
		changes:  make(chan string, 16),
		debounce: DefaultReloadDebounce,
		logger:   logger,
	}

	dirs := make(map[string]struct{})
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			fsw.Close()
			return nil, err
		}
		w.files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("shader: failed to watch %q: %w", dir, err)
		}
	}

	return w, nil
}

// Changes returns the channel on which changed program paths are delivered, as absolute paths.
// The channel is closed when Run returns.
func (w *Watcher) Changes() <-chan string {
	return w.changes
}

// Run processes file system events until ctx is cancelled, then releases the underlying watcher.
//
// Parameters:
//   - ctx: cancelling the context stops the watcher
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.debounce / 2)
	defer func() {
		ticker.Stop()
		w.fs.Close()
		close(w.changes)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case e, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if e.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			abs, err := filepath.Abs(e.Name)
			if err != nil {
				continue
			}
			w.mu.Lock()
			if _, watched := w.files[abs]; watched {
				w.pending[abs] = time.Now()
			}
			w.mu.Unlock()

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Error("shader watcher", "err", err)

		case now := <-ticker.C:
			w.emitSettled(now)
		}
	}
}

func (w *Watcher) emitSettled(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for path, last := range w.pending {
		if now.Sub(last) < w.debounce {
			continue
		}
		select {
		case w.changes <- path:
			delete(w.pending, path)
		default:
			// Receiver is behind; retry on the next tick.
		}
	}
}
