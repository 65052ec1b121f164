package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"content-router/src/internal/common"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a configuration file when it changes on disk and hands the
// result to a callback. Invalid edits are logged and skipped, leaving the last
// good configuration in effect.
type Watcher struct {
	path          string
	watcher       *fsnotify.Watcher
	onChange      func(*Config)
	debounceDelay time.Duration

	mu            sync.Mutex
	debounceTimer *time.Timer
	reloads       int

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher creates a watcher for one config file. The parent directory is
// watched so editors that replace the file by rename are still seen.
func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(absPath), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		path:          absPath,
		watcher:       fsw,
		onChange:      onChange,
		debounceDelay: 250 * time.Millisecond,
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}, nil
}

// SetDebounceDelay sets how long the watcher waits for writes to settle
func (w *Watcher) SetDebounceDelay(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounceDelay = d
}

// Start begins watching
func (w *Watcher) Start() {
	go w.watchLoop()
}

// Stop stops watching and waits for the loop to exit
func (w *Watcher) Stop() {
	w.cancel()
	w.watcher.Close()
	<-w.done

	w.mu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.mu.Unlock()
}

// Reloads returns how many successful reloads have been delivered
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

func (w *Watcher) watchLoop() {
	defer close(w.done)

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			common.CLILogger.Error("Config watcher error: %v", err)
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounceDelay, w.reload)
}

func (w *Watcher) reload() {
	if w.ctx.Err() != nil {
		return
	}
	cfg, err := LoadConfig(w.path)
	if err != nil {
		common.CLILogger.Warn("Ignoring config change in %s: %v", w.path, err)
		return
	}
	common.CLILogger.Info("Reloaded config from %s", w.path)

	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()

	if w.onChange != nil {
		w.onChange(cfg)
	}
}
