// Package observer implements watch mode: a filesystem watcher over
// local workbooks that triggers a re-run when one changes. Re-runs are
// cheap because processed cells carry the done marker and are skipped
// without any worker traffic.
package observer

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeCallback is called with the workbook paths that changed within
// one debounce window.
type ChangeCallback func(paths []string)

// SheetWatcher monitors workbook files for changes. Directories are
// watched rather than the files themselves because spreadsheet
// applications save by replacing the file.
type SheetWatcher struct {
	watcher  *fsnotify.Watcher
	callback ChangeCallback
	debounce time.Duration

	// watched workbook paths, absolute
	sheets map[string]struct{}

	pending map[string]struct{}
	timer   *time.Timer
	mu      sync.Mutex

	cancel context.CancelFunc
}

// NewSheetWatcher creates a watcher delivering changes to callback.
func NewSheetWatcher(callback ChangeCallback) (*SheetWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &SheetWatcher{
		watcher:  watcher,
		callback: callback,
		debounce: 500 * time.Millisecond, // spreadsheet saves come in bursts
		sheets:   make(map[string]struct{}),
		pending:  make(map[string]struct{}),
	}, nil
}

// AddSheet starts watching one workbook file.
func (sw *SheetWatcher) AddSheet(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()

	if _, exists := sw.sheets[abs]; exists {
		return nil // Already watching
	}
	if err := sw.watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}
	sw.sheets[abs] = struct{}{}
	return nil
}

// Start begins watching for file changes.
func (sw *SheetWatcher) Start(ctx context.Context) {
	ctx, sw.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-sw.watcher.Events:
				if !ok {
					return
				}
				sw.handleEvent(event)
			case err, ok := <-sw.watcher.Errors:
				if !ok {
					return
				}
				log.Printf("sheet watcher: %v", err)
			}
		}
	}()
}

// Stop stops watching for file changes.
func (sw *SheetWatcher) Stop() {
	if sw.cancel != nil {
		sw.cancel()
	}
	sw.watcher.Close()
}

func (sw *SheetWatcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	// Office suites write through temp files with the real name appearing
	// on rename; lock files and temps are ignored.
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, "~$") || strings.HasPrefix(name, ".~") {
		return
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()

	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return
	}
	if _, watched := sw.sheets[abs]; !watched {
		return
	}

	sw.pending[abs] = struct{}{}

	if sw.timer != nil {
		sw.timer.Stop()
	}
	sw.timer = time.AfterFunc(sw.debounce, sw.flush)
}

func (sw *SheetWatcher) flush() {
	sw.mu.Lock()
	pending := sw.pending
	sw.pending = make(map[string]struct{})
	sw.mu.Unlock()

	if sw.callback == nil || len(pending) == 0 {
		return
	}

	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
	}
	sw.callback(paths)
}

// SetDebounce sets the debounce duration for batching file changes.
func (sw *SheetWatcher) SetDebounce(d time.Duration) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.debounce = d
}
