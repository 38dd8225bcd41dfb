// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// DefaultPath returns the config file location, honoring the
// SHIELD_CONFIG override.
func DefaultPath() (string, error) {
	if p := os.Getenv("SHIELD_CONFIG"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".aleutian", "shield.yaml"), nil
}

// Manager holds the loaded configuration and hot-reloads tunables on
// file change. Current() is safe to call from any goroutine.
type Manager struct {
	path    string
	current atomic.Pointer[ShieldConfig]
}

// Load reads the config at path, creating it with defaults on first
// run.
func Load(path string) (*Manager, error) {
	// create it if it doesn't exist
	if _, err := os.Stat(path); os.IsNotExist(err) {
		slog.Info("First run detected, creating the config", "path", path)
		if err := createDefault(path); err != nil {
			return nil, err
		}
	}
	m := &Manager{path: path}
	cfg, err := m.read()
	if err != nil {
		return nil, err
	}
	m.current.Store(cfg)
	return m, nil
}

// Current returns the most recently loaded configuration.
func (m *Manager) Current() *ShieldConfig {
	return m.current.Load()
}

// Reload re-reads the file and swaps the current configuration.
func (m *Manager) Reload() error {
	cfg, err := m.read()
	if err != nil {
		return err
	}
	m.current.Store(cfg)
	return nil
}

func (m *Manager) read() (*ShieldConfig, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read the config file: %w", err)
	}
	// Start from defaults so omitted keys keep sensible values.
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse the config file: %w", err)
	}
	return cfg, nil
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Watch reloads the configuration whenever the file changes. Blocks
// until the context is cancelled. A failed reload keeps the previous
// configuration and logs a warning.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors replace files via rename, which
	// drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		return fmt.Errorf("watching config directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(m.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := m.Reload(); err != nil {
				slog.Warn("Config reload failed, keeping previous configuration",
					"path", m.path, "error", err)
				continue
			}
			slog.Info("Configuration reloaded", "path", m.path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Config watcher error", "error", err)
		}
	}
}
