package export

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/marmos91/dittofs-exports/internal/logger"
)

// DefaultDebounce is how long the watcher waits for a burst of file events
// to settle before reloading.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads a registry when its export files change or the process
// receives SIGHUP.
type Watcher struct {
	registry *Registry
	file     string
	dir      string
	debounce time.Duration

	// OnReload, if set, is called after every reload attempt
	OnReload func(*Snapshot, error)
}

// NewWatcher creates a watcher for file and the optional exports.d dir.
func NewWatcher(registry *Registry, file, dir string) *Watcher {
	return &Watcher{
		registry: registry,
		file:     file,
		dir:      dir,
		debounce: DefaultDebounce,
	}
}

// SetDebounce overrides DefaultDebounce.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Run watches until ctx is cancelled.
//
// The parent directory of the export file is watched rather than the file
// itself so that editors replacing the file through a rename are noticed.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = fsw.Close() }()

	var watched []string
	if w.file != "" {
		watched = append(watched, filepath.Dir(w.file))
	}
	if w.dir != "" {
		watched = append(watched, w.dir)
	}
	for _, d := range watched {
		if err := fsw.Add(d); err != nil {
			logger.Warn("Cannot watch %s for export changes: %v", d, err)
		}
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-hup:
			logger.Info("SIGHUP received, reloading exports")
			w.reload()

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			logger.Debug("Export file event: %s", ev)
			timer.Reset(w.debounce)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Export watcher error: %v", err)

		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
		return false
	}
	name := filepath.Clean(ev.Name)
	if w.file != "" && name == filepath.Clean(w.file) {
		return true
	}
	return w.dir != "" && filepath.Dir(name) == filepath.Clean(w.dir) && filepath.Ext(name) == FileSuffix
}

func (w *Watcher) reload() {
	s, _, err := w.registry.ReloadFile(w.file, w.dir)
	if err != nil {
		logger.Error("Export reload failed, keeping generation %d: %v", w.registry.Snapshot().Generation, err)
	}
	if w.OnReload != nil {
		w.OnReload(s, err)
	}
}
