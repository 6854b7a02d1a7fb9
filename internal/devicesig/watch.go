// SPDX-License-Identifier: MIT

package devicesig

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/verisit/verisit/internal/log"
)

// LoadSaltFile reads a YAML file mapping salt versions to salt values.
func LoadSaltFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var salts map[string]string
	if err := yaml.Unmarshal(data, &salts); err != nil {
		return nil, fmt.Errorf("salt file %s: %w", path, err)
	}
	if len(salts) == 0 {
		return nil, fmt.Errorf("salt file %s: no entries", path)
	}
	return salts, nil
}

// WatchSaltFile reloads the verifier whenever the salt file changes, so
// salts can rotate without restarting the daemon. It blocks until ctx is
// cancelled. A reload that fails keeps the previous salt set.
func (v *Verifier) WatchSaltFile(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("salt watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory: editors and config managers replace the file,
	// which would orphan a watch on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("salt watcher add: %w", err)
	}

	logger := log.WithComponent("devicesig")
	logger.Info().Str("event", "saltwatch.started").Str("path", path).Msg("watching salt file for rotation")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			salts, err := LoadSaltFile(path)
			if err != nil {
				logger.Warn().Err(err).Str("event", "saltwatch.reload_failed").Msg("keeping previous salt set")
				continue
			}
			v.Replace(salts)
			logger.Info().
				Str("event", "saltwatch.rotated").
				Int("versions", len(salts)).
				Msg("device salts reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Str("event", "saltwatch.error").Msg("salt watcher error")
		}
	}
}
