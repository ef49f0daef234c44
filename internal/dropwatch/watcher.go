// Package dropwatch turns filesystem activity in a drop directory into
// creation events. It exists for deployments that receive objects by
// rsync or scp instead of a notification feed.
package dropwatch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/cbhacks/latestfiles/internal/latestfiles"
)

// Sink receives one event per created file. Delivery is at-least-once:
// a directory moved into the watch root is walked after the watch is
// added, so files racing the walk can be reported twice.
type Sink interface {
	HandleCreation(ctx context.Context, event latestfiles.CreationEvent) error
}

type Options struct {
	// Dir is the drop directory root. It must exist.
	Dir string
	// CollectionID is stamped on every emitted event.
	CollectionID string
	Sink         Sink
	Logger       latestfiles.Logger
}

type Watcher struct {
	dir          string
	collectionID string
	sink         Sink
	logger       latestfiles.Logger
}

func New(opts Options) (*Watcher, error) {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" || strings.TrimSpace(opts.CollectionID) == "" || opts.Sink == nil {
		return nil, latestfiles.ErrInvalidInput
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", latestfiles.ErrInvalidInput, dir)
	}
	return &Watcher{
		dir:          dir,
		collectionID: strings.TrimSpace(opts.CollectionID),
		sink:         opts.Sink,
		logger:       opts.Logger,
	}, nil
}

// Run watches the drop directory until the context is cancelled. New
// subdirectories are watched as they appear; files already inside a
// moved-in directory are picked up by a walk.
func (w *Watcher) Run(ctx context.Context) error {
	notifier, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer notifier.Close()

	if err := w.addRecursive(ctx, notifier, w.dir, false); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-notifier.Events:
			if !ok {
				return nil
			}
			if !ev.Op.Has(fsnotify.Create) {
				continue
			}
			w.handleCreate(ctx, notifier, ev.Name)
		case err, ok := <-notifier.Errors:
			if !ok {
				return nil
			}
			if w.logger != nil {
				w.logger.Printf("dropwatch: watch error: %v", err)
			}
		}
	}
}

func (w *Watcher) handleCreate(ctx context.Context, notifier *fsnotify.Watcher, name string) {
	info, err := os.Stat(name)
	if err != nil {
		// Created and removed before we got to it.
		return
	}
	if info.IsDir() {
		if err := w.addRecursive(ctx, notifier, name, true); err != nil && w.logger != nil {
			w.logger.Printf("dropwatch: failed to watch %s: %v", name, err)
		}
		return
	}
	w.emit(ctx, name)
}

// addRecursive adds watches below root and, when emit is set, reports
// every regular file found on the way.
func (w *Watcher) addRecursive(ctx context.Context, notifier *fsnotify.Watcher, root string, emit bool) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return notifier.Add(path)
		}
		if emit && entry.Type().IsRegular() {
			w.emit(ctx, path)
		}
		return nil
	})
}

func (w *Watcher) emit(ctx context.Context, path string) {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil {
		return
	}
	event := latestfiles.CreationEvent{
		CollectionID: w.collectionID,
		ObjectKey:    filepath.ToSlash(rel),
	}
	if err := w.sink.HandleCreation(ctx, event); err != nil && w.logger != nil {
		w.logger.Printf("dropwatch: sink rejected %s/%s: %v", event.CollectionID, event.ObjectKey, err)
	}
}
