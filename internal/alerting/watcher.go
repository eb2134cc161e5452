package alerting

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/blazealert/internal/logging"
)

// DefaultReloadDebounce coalesces bursts of file events from editors.
const DefaultReloadDebounce = 250 * time.Millisecond

// RuleWatcher reapplies a rules file whenever it changes.
type RuleWatcher struct {
	path     string
	store    RuleWriter
	debounce time.Duration
	logger   zerolog.Logger

	// OnApply is called after each reload attempt. Optional.
	OnApply func(applied int, err error)
}

// NewRuleWatcher creates a watcher for the rules file at path.
func NewRuleWatcher(path string, store RuleWriter) *RuleWatcher {
	return &RuleWatcher{
		path:     path,
		store:    store,
		debounce: DefaultReloadDebounce,
		logger:   logging.WithComponent("rules"),
	}
}

// Reload loads and applies the rules file once.
func (w *RuleWatcher) Reload(ctx context.Context) (int, error) {
	rules, err := LoadRulesFromFile(w.path)
	if err != nil {
		return 0, err
	}
	return ApplyRules(ctx, w.store, rules)
}

// Run watches the rules file until ctx is cancelled. The parent directory is
// watched so editors that replace the file by rename are still seen.
func (w *RuleWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(w.path)
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("rules watcher error")
		case <-timer.C:
			n, err := w.Reload(ctx)
			if err != nil {
				w.logger.Error().Err(err).Str("path", w.path).Msg("failed to reload rules")
			} else {
				w.logger.Info().Int("rules", n).Str("path", w.path).Msg("rules reloaded")
			}
			if w.OnApply != nil {
				w.OnApply(n, err)
			}
		}
	}
}
