// Package watch enqueues uploads for files dropped into a local directory.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	fileutil "nasupload/internal/file"
	"nasupload/internal/upload"
)

// Enqueuer accepts new uploads.
type Enqueuer interface {
	Enqueue(src upload.Source, destination string) string
}

// Watcher enqueues a file once it has seen no writes for the settle period.
type Watcher struct {
	dir         string
	destination string
	settle      time.Duration
	enqueuer    Enqueuer
	fsWatcher   *fsnotify.Watcher

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
	wg     sync.WaitGroup
}

func New(dir, destination string, settle time.Duration, enqueuer Enqueuer) (*Watcher, error) {
	if err := fileutil.EnsureDir(dir); err != nil {
		return nil, err //nolint:wrapcheck
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsWatcher.Add(dir); err != nil {
		_ = fsWatcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &Watcher{
		dir:         dir,
		destination: destination,
		settle:      settle,
		enqueuer:    enqueuer,
		fsWatcher:   fsWatcher,
		timers:      make(map[string]*time.Timer),
	}, nil
}

// Start handles watcher events until ctx is done or Close is called.
func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.fsWatcher.Events:
				if !ok {
					return
				}
				w.handle(event)
			case err, ok := <-w.fsWatcher.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Str("dir", w.dir).Msg("watcher error")
			}
		}
	}()
	log.Info().Str("dir", w.dir).Str("destination", w.destination).Msg("watching folder for uploads")
}

// Close stops watching and drops files that have not settled yet.
func (w *Watcher) Close() error {
	w.mu.Lock()
	w.closed = true
	for path, timer := range w.timers {
		timer.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()
	err := w.fsWatcher.Close()
	w.wg.Wait()
	if err != nil {
		return fmt.Errorf("close watcher: %w", err)
	}
	return nil
}

func (w *Watcher) handle(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	if skipName(filepath.Base(event.Name)) {
		return
	}
	log.Debug().Str("path", event.Name).Str("op", event.Op.String()).Msg("watch event")
	w.startOrResetTimer(event.Name)
}

// startOrResetTimer debounces writes to the same path.
func (w *Watcher) startOrResetTimer(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if timer, exists := w.timers[path]; exists {
		timer.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		current := w.timers[path] == timer
		if current {
			delete(w.timers, path)
		}
		closed := w.closed
		w.mu.Unlock()
		if current && !closed {
			w.enqueue(path)
		}
	})
	w.timers[path] = timer
}

func (w *Watcher) enqueue(path string) {
	src, err := fileutil.OpenLocal(path)
	if err != nil {
		// directories and files removed before settling end up here
		log.Debug().Str("path", path).Err(err).Msg("skipping watched path")
		return
	}
	id := w.enqueuer.Enqueue(src, w.destination)
	log.Info().Str("upload_id", id).Str("path", path).Msg("watched file enqueued")
}

func skipName(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	for _, suffix := range []string{".part", ".tmp", ".crdownload", "~"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
