// SPDX-License-Identifier: MPL-2.0

// Package watch re-runs a pipeline when files under a project root change.
//
// Events are debounced: a burst of writes (an editor saving, a formatter
// rewriting a tree) produces one callback with every changed path. Changes
// that arrive while a callback is running are collected and delivered in a
// single follow-up callback once it returns.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period used when Config.Debounce is unset.
const DefaultDebounce = 500 * time.Millisecond

// ErrWatcherClosed is returned when fsnotify closes its channels under Run.
var ErrWatcherClosed = errors.New("watch: fsnotify watcher closed unexpectedly")

// defaultIgnores covers VCS metadata, Python caches, virtualenvs, build
// output and editor noise. The pipeline's own work and dist directories
// are added by the caller through Config.Ignore.
var defaultIgnores = []string{
	".git/**",
	"**/.git/**",
	"**/__pycache__/**",
	"**/*.pyc",
	"**/.venv/**",
	"**/.pytest_cache/**",
	"**/.ruff_cache/**",
	"**/.mypy_cache/**",
	"**/*.egg-info/**",
	"build/**",
	"target/**",
	"**/*.sw[po]",
	"**/*~",
	"**/.DS_Store",
}

type (
	// Config holds the parameters for a Watcher.
	Config struct {
		// Root is the directory to watch; empty means the working directory.
		Root string
		// Patterns select the files that trigger a run, relative to Root.
		// Empty watches every file that is not ignored.
		Patterns []string
		// Ignore is merged with the built-in ignores.
		Ignore []string
		// Debounce is the quiet period after the last event.
		Debounce time.Duration
		// OnChange receives the sorted changed paths, relative to Root.
		OnChange func(ctx context.Context, changed []string) error
	}

	// Watcher monitors Root and runs OnChange after debounced changes.
	Watcher struct {
		cfg      Config
		root     string
		ignores  []string
		debounce time.Duration
		fsw      *fsnotify.Watcher
	}
)

// DefaultIgnores returns a copy of the built-in ignore patterns.
func DefaultIgnores() []string {
	return slices.Clone(defaultIgnores)
}

// New validates cfg and registers every non-ignored directory under Root.
func New(cfg Config) (*Watcher, error) {
	root := cfg.Root
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("watch: determine working directory: %w", err)
		}
		root = wd
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve root: %w", err)
	}

	for _, pat := range slices.Concat(cfg.Patterns, cfg.Ignore) {
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("watch: invalid pattern %q", pat)
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		cfg:      cfg,
		root:     root,
		ignores:  slices.Concat(defaultIgnores, cfg.Ignore),
		debounce: cfg.Debounce,
		fsw:      fsw,
	}
	if w.debounce <= 0 {
		w.debounce = DefaultDebounce
	}

	if _, err := w.addTree(root); err != nil {
		_ = fsw.Close() // best-effort cleanup after a failed walk
		return nil, err
	}
	return w, nil
}

// Run processes events until ctx is cancelled. It returns nil on
// cancellation and an error when the watcher breaks.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() {
		if err := w.fsw.Close(); err != nil {
			slog.Warn("watch: close fsnotify watcher", "error", err)
		}
	}()

	var (
		pending = map[string]struct{}{}
		timer   = time.NewTimer(w.debounce)
		busy    bool
		done    = make(chan struct{}, 1)
	)
	timer.Stop()
	defer timer.Stop()

	start := func() {
		changed := slices.Sorted(maps.Keys(pending))
		clear(pending)
		busy = true
		go func() {
			defer func() { done <- struct{}{} }()
			if w.cfg.OnChange == nil || ctx.Err() != nil {
				return
			}
			slog.Debug("watch: change detected", "files", len(changed))
			if err := w.cfg.OnChange(ctx, changed); err != nil {
				slog.Warn("watch: run failed", "error", err)
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			if busy {
				<-done
			}
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return ErrWatcherClosed
			}
			if w.collect(evt, pending) {
				timer.Reset(w.debounce)
			}

		case <-timer.C:
			if !busy && len(pending) > 0 {
				start()
			}

		case <-done:
			busy = false
			if len(pending) > 0 {
				start()
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return ErrWatcherClosed
			}
			if isFatalFsnotifyError(err) {
				return fmt.Errorf("watch: fatal fsnotify error: %w", err)
			}
			slog.Warn("watch: fsnotify error", "error", err)
		}
	}
}

// collect adds the paths evt makes relevant to pending and reports whether
// it added any. A new directory is watched and the files already inside it
// are collected, since they may have been written before the watch existed.
func (w *Watcher) collect(evt fsnotify.Event, pending map[string]struct{}) bool {
	rel, ok := w.rel(evt.Name)
	if !ok || w.ignored(rel) {
		return false
	}
	if evt.Has(fsnotify.Chmod) && !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) {
		return false
	}
	if evt.Has(fsnotify.Create) {
		if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
			files, err := w.addTree(evt.Name)
			if err != nil {
				slog.Warn("watch: add new directory", "path", evt.Name, "error", err)
			}
			added := false
			for _, f := range files {
				if w.matches(f) {
					pending[f] = struct{}{}
					added = true
				}
			}
			return added
		}
	}
	if !w.matches(rel) {
		return false
	}
	pending[rel] = struct{}{}
	return true
}

func (w *Watcher) rel(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// addTree registers dir and every non-ignored directory below it, and
// returns the non-ignored files it found.
func (w *Watcher) addTree(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			slog.Debug("watch: skipping inaccessible path", "path", path, "error", err)
			return nil
		}
		rel, ok := w.rel(path)
		if !ok {
			return nil
		}
		if !d.IsDir() {
			if !w.ignored(rel) {
				files = append(files, rel)
			}
			return nil
		}
		if rel != "." && (w.ignored(rel) || w.ignored(rel+"/x")) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch: add directory %q: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return files, fmt.Errorf("watch: walk %s: %w", dir, err)
	}
	return files, nil
}

func (w *Watcher) ignored(rel string) bool {
	return matchAny(w.ignores, rel)
}

func (w *Watcher) matches(rel string) bool {
	return len(w.cfg.Patterns) == 0 || matchAny(w.cfg.Patterns, rel)
}

func matchAny(patterns []string, rel string) bool {
	for _, pat := range patterns {
		if ok, _ := doublestar.Match(pat, rel); ok {
			return true
		}
	}
	return false
}
