// Package watch monitors a database directory tree for newly captured
// market files and hands them to an insert callback in debounced batches.
// It uses fsnotify for cross-platform file system event monitoring.
package watch

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mzaja/betfair-database/internal/discover"
)

// DefaultDebounce batches the burst of events a capture process emits
// while files are still being written.
const DefaultDebounce = 2 * time.Second

// Handler receives a batch of newly created market file paths.
type Handler func(paths []string)

// Watcher watches a directory tree for market file creation. Created
// subdirectories are picked up and watched as well.
type Watcher struct {
	root     string
	debounce time.Duration
	logger   *log.Logger
	watcher  *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// New creates a watcher for the given root directory. The watcher must be
// started with Start() before it delivers anything. A zero debounce uses
// DefaultDebounce; a nil logger logs to stderr.
func New(root string, debounce time.Duration, logger *log.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[watch] ", log.LstdFlags)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{
		root:     root,
		debounce: debounce,
		logger:   logger,
		watcher:  fsw,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching the root and all of its existing subdirectories,
// delivering batches of created market file paths to handler from a
// background goroutine.
func (w *Watcher) Start(handler Handler) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher already running")
	}

	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Printf("Skipping unreadable entry '%s': %v", path, err)
			return nil
		}
		if d.IsDir() {
			if err := w.watcher.Add(path); err != nil {
				return fmt.Errorf("failed to watch directory %s: %w", path, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	w.running = true
	w.wg.Add(1)
	go w.processEvents(handler)
	return nil
}

// Stop stops watching and blocks until the event goroutine has exited.
// Pending un-flushed paths are discarded.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	w.wg.Wait()
	return w.watcher.Close()
}

func (w *Watcher) processEvents(handler Handler) {
	defer w.wg.Done()

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	flush := func() {
		if len(pending) == 0 {
			return
		}
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		clear(pending)
		handler(paths)
	}

	for {
		select {
		case <-w.done:
			return
		case <-timer.C:
			flush()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			info, err := os.Stat(event.Name)
			if err != nil {
				continue
			}
			if info.IsDir() {
				// New capture subdirectories join the watch set.
				if err := w.watcher.Add(event.Name); err != nil {
					w.logger.Printf("Failed to watch new directory '%s': %v", event.Name, err)
				}
				continue
			}
			if _, ok := discover.GroupFile(event.Name); !ok {
				continue
			}
			pending[event.Name] = struct{}{}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("Watcher error: %v", err)
		}
	}
}
