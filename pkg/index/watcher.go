package index

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-syncs the index when repository files change on disk. Event
// bursts (editor saves, git checkouts) are collapsed into a single sync by
// the debounce window.
type Watcher struct {
	service  *Service
	repoPath string
	debounce time.Duration
}

func NewWatcher(service *Service, repoPath string, debounce time.Duration) *Watcher {
	return &Watcher{
		service:  service,
		repoPath: repoPath,
		debounce: debounce,
	}
}

// Run watches until ctx is cancelled. It only fails on setup errors; runtime
// watch errors are logged and skipped.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(w.repoPath); err != nil {
		return err
	}
	libDir := filepath.Join(w.repoPath, "lib")
	if info, err := os.Stat(libDir); err == nil && info.IsDir() {
		if err := watcher.Add(libDir); err != nil {
			return err
		}
	}

	slog.Info("watching repository for changes", "path", w.repoPath)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isRelevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			if err := w.service.Sync(ctx); err != nil {
				slog.Warn("watcher-triggered sync failed", "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("repository watch error", "error", err)
		}
	}
}

func isRelevant(event fsnotify.Event) bool {
	if !strings.HasSuffix(event.Name, ".star") {
		return false
	}
	return event.Op.Has(fsnotify.Create) ||
		event.Op.Has(fsnotify.Write) ||
		event.Op.Has(fsnotify.Remove) ||
		event.Op.Has(fsnotify.Rename)
}
