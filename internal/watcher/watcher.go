// Package watcher monitors the .apex definition directories for edits.
// It watches .apex/workflows and .apex/agents, debounces bursts of file
// system events, hashes content to ignore no-op saves, and publishes
// definition:changed for every real change.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/apexhq/apex/internal/agent"
	"github.com/apexhq/apex/internal/events"
	"github.com/apexhq/apex/internal/workflow"
)

// Kind distinguishes the two definition types under .apex/.
type Kind string

const (
	KindWorkflow Kind = "workflow"
	KindAgent    Kind = "agent"
)

// Change describes one modified, created, or removed definition file.
type Change struct {
	Kind Kind
	Name string
	Path string
	// Removed is true when the file no longer exists.
	Removed bool
}

// Watcher monitors workflow and agent definition files.
type Watcher struct {
	projectPath  string
	workflowsDir string
	agentsDir    string

	events   *events.PublishHelper
	logger   *slog.Logger
	onChange func(Change)
	debounce time.Duration

	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer

	hashes   map[string]string
	hashesMu sync.Mutex

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithPublisher sets the event publisher for definition:changed events.
func WithPublisher(p events.Publisher) Option {
	return func(w *Watcher) { w.events = events.NewPublishHelper(p) }
}

// WithDebounce overrides the quiet period before a change fires.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithOnChange registers a callback invoked after each change event.
func WithOnChange(fn func(Change)) Option {
	return func(w *Watcher) { w.onChange = fn }
}

// New creates a watcher over the project's .apex definition directories.
func New(projectPath string, opts ...Option) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		projectPath:  projectPath,
		workflowsDir: filepath.Join(projectPath, filepath.FromSlash(workflow.Dir)),
		agentsDir:    filepath.Join(projectPath, filepath.FromSlash(agent.Dir)),
		events:       events.NewPublishHelper(nil),
		logger:       slog.Default(),
		debounce:     500 * time.Millisecond,
		fsWatcher:    fsWatcher,
		hashes:       make(map[string]string),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.debouncer = NewDebouncer(w.debounce, w.settle)
	return w, nil
}

// Start seeds content hashes for existing definitions and launches the
// event loop. Missing directories are watched once they appear.
func (w *Watcher) Start(ctx context.Context) error {
	// Watching the parent catches creation of the definition dirs.
	apexDir := filepath.Dir(w.workflowsDir)
	if err := w.fsWatcher.Add(apexDir); err != nil {
		w.logger.Debug("cannot watch .apex directory", "path", apexDir, "error", err)
	}

	for _, dir := range []string{w.workflowsDir, w.agentsDir} {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			w.logger.Debug("definition directory absent, watching for creation", "path", dir)
			continue
		}
		if err := w.fsWatcher.Add(dir); err != nil {
			w.logger.Warn("cannot watch definition directory", "path", dir, "error", err)
			continue
		}
		w.seedHashes(dir)
	}

	w.logger.Info("definition watcher started",
		"workflows", w.workflowsDir, "agents", w.agentsDir)

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("fsnotify error", "error", err)
		}
	}
}

// Stop halts the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.debouncer.Stop()
		if err := w.fsWatcher.Close(); err != nil {
			w.logger.Warn("close fsnotify watcher", "error", err)
		}
		w.wg.Wait()
		w.logger.Info("definition watcher stopped")
	})
}

// seedHashes records existing definition content so startup does not
// publish spurious changes.
func (w *Watcher) seedHashes(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if _, _, ok := w.classify(path); !ok {
			continue
		}
		if h, err := hashFile(path); err == nil {
			w.hashesMu.Lock()
			w.hashes[path] = h
			w.hashesMu.Unlock()
		}
	}
}

func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	path := event.Name

	if event.Has(fsnotify.Create) {
		if path == w.workflowsDir || path == w.agentsDir {
			if err := w.fsWatcher.Add(path); err != nil {
				w.logger.Warn("cannot watch created definition directory", "path", path, "error", err)
			}
			return
		}
	}

	if _, _, ok := w.classify(path); !ok {
		return
	}
	if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		w.debouncer.Trigger(path)
	}
}

// settle runs after the debounce window. It re-hashes the file, skips
// no-op saves, and publishes the change.
func (w *Watcher) settle(path string) {
	kind, name, ok := w.classify(path)
	if !ok {
		return
	}

	h, err := hashFile(path)

	w.hashesMu.Lock()
	prev, seen := w.hashes[path]
	removed := err != nil
	if removed {
		delete(w.hashes, path)
	} else {
		w.hashes[path] = h
	}
	w.hashesMu.Unlock()

	if removed && !seen {
		return
	}
	if !removed && seen && prev == h {
		w.logger.Debug("definition content unchanged", "path", path)
		return
	}

	w.logger.Info("definition changed",
		"kind", kind, "name", name, "removed", removed)
	w.events.DefinitionChanged(string(kind), name, path)
	if w.onChange != nil {
		w.onChange(Change{Kind: kind, Name: name, Path: path, Removed: removed})
	}
}

// classify maps a path to its definition kind and name. Workflows are
// YAML files, agents are markdown files; anything else is ignored.
func (w *Watcher) classify(path string) (Kind, string, bool) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return "", "", false
	}
	ext := strings.ToLower(filepath.Ext(base))
	name := strings.TrimSuffix(base, filepath.Ext(base))

	switch dir {
	case w.workflowsDir:
		if ext == ".yaml" || ext == ".yml" {
			return KindWorkflow, name, true
		}
	case w.agentsDir:
		if ext == ".md" {
			return KindAgent, name, true
		}
	}
	return "", "", false
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
