package catalog

import (
	"context"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the catalog when the playbook directory or the
// inventory file changes. Rapid bursts of events collapse into one
// reload via a debounce timer.
type Watcher struct {
	catalog *Catalog
	watcher *fsnotify.Watcher

	debounce time.Duration
	timer    *time.Timer
	mu       sync.Mutex

	cancel context.CancelFunc
}

// NewWatcher creates a watcher for the catalog's source files
func NewWatcher(c *Catalog) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		catalog:  c,
		watcher:  fw,
		debounce: 500 * time.Millisecond,
	}

	if err := fw.Add(c.playbookDir); err != nil {
		log.Printf("catalog: not watching playbook dir: %v", err)
	}
	// Watch the inventory's directory: editors replace the file on save,
	// which would drop a watch on the file itself.
	if dir := filepath.Dir(c.inventoryPath); dir != c.playbookDir {
		if err := fw.Add(dir); err != nil {
			log.Printf("catalog: not watching inventory dir: %v", err)
		}
	}

	return w, nil
}

// Start begins watching for changes until ctx is done
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handleEvent(event)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				log.Printf("catalog watch: %v", err)
			}
		}
	}()
}

// Stop stops watching
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.watcher.Close()
}

// SetDebounce sets the debounce duration for batching file changes
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = d
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	if !w.relevant(event.Name) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) relevant(path string) bool {
	if path == w.catalog.inventoryPath {
		return true
	}
	ext := filepath.Ext(path)
	return ext == ".yml" || ext == ".yaml" || ext == ".toml"
}

func (w *Watcher) reload() {
	if err := w.catalog.Reload(); err != nil {
		log.Printf("catalog reload: %v", err)
	}
}
