// Package watcher reframes videos as they appear in a directory.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/fsnotify/fsnotify"

	"github.com/andresmejia3/reframe/internal/logger"
)

// VideoExtensions are the file types the watcher reacts to.
var VideoExtensions = []string{".mp4", ".mov", ".avi", ".mkv", ".webm", ".m4v", ".flv"}

// Handler processes one new file.
type Handler func(ctx context.Context, path string) error

type Options struct {
	MaxConcurrent int
	// SettleDelay is how long to wait after a file appears before handling
	// it, so a copy in progress can finish.
	SettleDelay time.Duration
	Log         logs.Log
}

type Watcher struct {
	dir       string
	handler   Handler
	opts      Options
	log       logs.Log
	fsw       *fsnotify.Watcher
	semaphore chan struct{}
	wg        sync.WaitGroup
}

// New starts watching dir. Call Start to begin handling events and Stop
// to release the OS watch.
func New(dir string, handler Handler, opts Options) (*Watcher, error) {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	return &Watcher{
		dir:       dir,
		handler:   handler,
		opts:      opts,
		log:       logger.OrDiscard(opts.Log),
		fsw:       fsw,
		semaphore: make(chan struct{}, opts.MaxConcurrent),
	}, nil
}

// Start blocks until ctx is done, handling new video files with at most
// MaxConcurrent running at once. In-flight jobs are waited for on exit.
func (w *Watcher) Start(ctx context.Context) error {
	w.log.Infof("Watching %s (max concurrent: %d)", w.dir, w.opts.MaxConcurrent)
	defer w.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			w.log.Infof("Waiting for running jobs to finish...")
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			if !IsVideoFile(event.Name) {
				w.log.Debugf("Ignoring non-video file: %s", event.Name)
				continue
			}
			w.log.Infof("New video detected: %s", event.Name)
			w.wg.Add(1)
			go w.handle(ctx, event.Name)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.log.Errorf("Watcher error: %v", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, path string) {
	defer w.wg.Done()

	select {
	case <-time.After(w.opts.SettleDelay):
	case <-ctx.Done():
		return
	}

	select {
	case w.semaphore <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-w.semaphore }()

	if err := w.handler(ctx, path); err != nil {
		w.log.Errorf("Failed to process %s: %v", path, err)
	}
}

// Stop closes the file watcher.
func (w *Watcher) Stop() error {
	return w.fsw.Close()
}

// IsVideoFile reports whether path has a supported video extension.
func IsVideoFile(path string) bool {
	return slices.Contains(VideoExtensions, strings.ToLower(filepath.Ext(path)))
}
