package indexer

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"framegrab/internal/logging"
	"framegrab/internal/mediatypes"
	"framegrab/internal/metrics"
)

// startWatcher watches every non-hidden directory under the media root and
// schedules a scan once events stop arriving for the debounce period.
func (idx *Indexer) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	idx.watcher = watcher

	watchCount := idx.addDirectoriesToWatcher(idx.root)
	metrics.ScannerWatchedDirectories.Set(float64(watchCount))
	logging.Info("Watching %d directories for changes (debounce %v)", watchCount, idx.cfg.Debounce)

	idx.wg.Add(1)
	go func() {
		defer idx.wg.Done()
		idx.processWatcherEvents()
	}()
	return nil
}

// addDirectoriesToWatcher adds dir and its non-hidden subdirectories.
func (idx *Indexer) addDirectoriesToWatcher(dir string) int {
	watchCount := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil //nolint:nilerr // unreadable entries are skipped
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if addErr := idx.watcher.Add(path); addErr != nil {
			logging.Warn("failed to add path to watcher %s: %v", path, addErr)
			metrics.ScannerWatcherErrors.Inc()
			return nil
		}
		watchCount++
		return nil
	})
	if err != nil {
		logging.Error("failed to walk media directory for watcher: %v", err)
		metrics.ScannerWatcherErrors.Inc()
	}
	return watchCount
}

func (idx *Indexer) processWatcherEvents() {
	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	schedule := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Reset(idx.cfg.Debounce)
			return
		}
		timer = time.AfterFunc(idx.cfg.Debounce, func() {
			if idx.ctx.Err() != nil {
				return
			}
			logging.Debug("File changes settled, triggering scan")
			idx.TriggerScan()
		})
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-idx.ctx.Done():
			return
		case event, ok := <-idx.watcher.Events:
			if !ok {
				return
			}
			if idx.handleWatcherEvent(event) {
				schedule()
			}
		case err, ok := <-idx.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("Watcher error: %v", err)
			metrics.ScannerWatcherErrors.Inc()
		}
	}
}

// handleWatcherEvent reports whether the event can change the library.
func (idx *Indexer) handleWatcherEvent(event fsnotify.Event) bool {
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return false
	}

	metrics.ScannerWatcherEventsTotal.WithLabelValues(eventType(event.Op)).Inc()

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			n := idx.addDirectoriesToWatcher(event.Name)
			metrics.ScannerWatchedDirectories.Add(float64(n))
			logging.Debug("Watching new directory %s", idx.relative(event.Name))
			return true
		}
	}

	if event.Op == fsnotify.Chmod {
		return false
	}
	// A removed or renamed directory has no extension to go by.
	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 && filepath.Ext(event.Name) == "" {
		return true
	}
	return mediatypes.IsVideo(event.Name)
}

// eventType returns a string representation of the fsnotify operation
func eventType(op fsnotify.Op) string {
	switch {
	case op&fsnotify.Create != 0:
		return "create"
	case op&fsnotify.Write != 0:
		return "write"
	case op&fsnotify.Remove != 0:
		return "remove"
	case op&fsnotify.Rename != 0:
		return "rename"
	case op&fsnotify.Chmod != 0:
		return "chmod"
	default:
		return "unknown"
	}
}
