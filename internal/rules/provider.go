package rules

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/veilgate/veilgate/internal/logger"
)

// Provider owns the active Ruleset snapshot. Readers take the current
// snapshot once at call start and use it for the whole call; Reload publishes
// a fully compiled candidate with an atomic pointer swap, so readers never
// observe a partial ruleset and a failed reload leaves the previous snapshot
// serving.
type Provider struct {
	rulesetFile string
	dir         string
	logger      *logger.Logger

	active   atomic.Pointer[Ruleset]
	reloadMu sync.Mutex // single reload writer
}

// NewProvider compiles the initial snapshot and returns a Provider serving it.
func NewProvider(rulesetFile, dir string, log *logger.Logger) (*Provider, error) {
	p := &Provider{
		rulesetFile: rulesetFile,
		dir:         dir,
		logger:      log,
	}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Current returns the active snapshot.
func (p *Provider) Current() *Ruleset {
	return p.active.Load()
}

// Reload compiles a candidate snapshot from disk and, only on success, swaps
// it in. On failure the active snapshot keeps serving and the error is
// returned to the caller.
func (p *Provider) Reload() error {
	p.reloadMu.Lock()
	defer p.reloadMu.Unlock()

	candidate, err := Compile(p.rulesetFile, p.dir)
	if err != nil {
		p.logger.Warn("ruleset reload failed, previous snapshot stays active", zap.Error(err))
		return fmt.Errorf("compile ruleset: %w", err)
	}

	p.active.Store(candidate)

	total, lists := candidate.RuleCount()
	p.logger.Info("ruleset published",
		zap.Int("version", candidate.Version),
		zap.Int("rules", total),
		zap.Int("list_rules", lists),
	)
	return nil
}

// Validate compiles a candidate without publishing it and returns its counts.
func (p *Provider) Validate() (total, lists int, err error) {
	candidate, err := Compile(p.rulesetFile, p.dir)
	if err != nil {
		return 0, 0, err
	}
	total, lists = candidate.RuleCount()
	return total, lists, nil
}

// Watch reloads the snapshot when the ruleset file or list directory changes.
// Events are debounced because editors produce bursts of writes. The watcher
// stops when done is closed.
func (p *Provider) Watch(done <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	paths := []string{filepath.Dir(p.rulesetFile), p.dir, filepath.Join(p.dir, "lists")}
	for _, path := range paths {
		// The lists directory may not exist yet; watching the others is enough.
		if err := watcher.Add(path); err != nil {
			p.logger.Debug("not watching path", zap.String("path", path), zap.Error(err))
		}
	}

	go func() {
		defer watcher.Close()

		var pending <-chan time.Time
		for {
			select {
			case <-done:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				pending = time.After(300 * time.Millisecond)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				p.logger.Warn("ruleset watcher error", zap.Error(err))
			case <-pending:
				pending = nil
				if err := p.Reload(); err != nil {
					p.logger.Warn("ruleset auto-reload rejected", zap.Error(err))
				}
			}
		}
	}()

	return nil
}
