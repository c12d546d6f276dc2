package store

import (
	"context"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce window per file, so a writer producing a snapshot in several
// writes triggers a single index pass.
const watchDebounce = 500 * time.Millisecond

// Watcher monitors the snapshot directory and indexes .hive files created by
// other processes, such as an agent writing snapshots locally while the
// server is running.
type Watcher struct {
	store   *Store
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher creates a watcher over the store's directory.
func NewWatcher(s *Store) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{store: s, watcher: fw, done: make(chan struct{})}, nil
}

// Start begins watching. It returns after the watch is registered; events
// are handled on a background goroutine until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.store.Dir()); err != nil {
		return err
	}
	go w.loop(ctx)
	return nil
}

// Stop closes the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.watcher.Close()
	<-w.done
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(watchDebounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			name := filepath.Base(event.Name)
			if !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotExt) {
				continue
			}
			pending[name] = time.Now()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[WARN] Snapshot watcher error: %v", err)
		case now := <-ticker.C:
			for name, last := range pending {
				if now.Sub(last) < watchDebounce {
					continue
				}
				delete(pending, name)
				lines, err := w.store.Read(ctx, name)
				if err != nil {
					log.Printf("[WARN] Could not read %s for indexing: %v", name, err)
					continue
				}
				w.store.indexFile(ctx, name, lines, "")
				log.Printf("[INFO] Indexed externally written snapshot %s", name)
			}
		}
	}
}
