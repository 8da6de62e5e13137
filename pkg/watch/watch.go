// Package watch drives skeleton reload from filesystem change events on
// a package file, grounded on the teacher's fsnotify watcher loop
// (addWatchRecursive + the Events/Errors select loop in main.go),
// adapted from "watch a state directory for writes" to "watch one
// package file for replacement".
package watch

import (
	"context"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/eunomia-bpf/eunomia-bpf-sub000/internal/platform"
)

// ReloadFunc is invoked once per detected package replacement, with the
// path that changed.
type ReloadFunc func(path string) error

// PackageWatcher watches a single package file (and its containing
// directory, since editors commonly replace-by-rename rather than
// write-in-place) and invokes Reload on Write/Create/Rename events.
type PackageWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	Reload  ReloadFunc
}

// New builds a watcher for path. The containing directory is watched
// rather than the file itself so atomic replace-by-rename (common for
// editors and package build pipelines) is observed.
func New(path string, reload ReloadFunc) (*PackageWatcher, error) {
	path = platform.LongPathname(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	return &PackageWatcher{path: path, watcher: w, Reload: reload}, nil
}

// Run blocks, dispatching Reload for every relevant event on the
// watched path until ctx is canceled or the watcher is closed.
func (p *PackageWatcher) Run(ctx context.Context) error {
	defer p.watcher.Close()

	abs, err := filepath.Abs(p.path)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-p.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			eventAbs, err := filepath.Abs(event.Name)
			if err != nil || eventAbs != abs {
				continue
			}
			if p.Reload == nil {
				continue
			}
			if err := p.Reload(event.Name); err != nil {
				log.Printf("[watch] reload failed for %s: %v", event.Name, err)
			}

		case err, ok := <-p.watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[watch] watcher error: %v", err)
		}
	}
}

// Close stops the watcher without waiting for Run's ctx to be canceled.
func (p *PackageWatcher) Close() error {
	return p.watcher.Close()
}
