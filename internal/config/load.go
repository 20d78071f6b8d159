package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/fsnotify/fsnotify"
	"github.com/titanous/json5"
)

// DefaultMediaMaxBytes matches the routing engine's built-in ceiling.
const DefaultMediaMaxBytes int64 = 50 << 20

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL:    "http://127.0.0.1:18800",
			WorkingDir: "~/.relayclaw/workspace",
		},
		Bridge: BridgeConfig{
			MediaMaxBytes: DefaultMediaMaxBytes,
			ThinkingText:  "Thinking…",
			StateDB:       "~/.relayclaw/state.db",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	cfg.Backend.WorkingDir = ExpandHome(cfg.Backend.WorkingDir)
	cfg.Bridge.StateDB = ExpandHome(cfg.Bridge.StateDB)

	// Auto-enable adapters when credentials arrive via env.
	if cfg.Adapters.Telegram.Token != "" {
		cfg.Adapters.Telegram.Enabled = true
	}
	if cfg.Adapters.Discord.Token != "" {
		cfg.Adapters.Discord.Enabled = true
	}
	if cfg.Adapters.Slack.BotToken != "" && cfg.Adapters.Slack.AppToken != "" {
		cfg.Adapters.Slack.Enabled = true
	}
	return cfg, nil
}

// Watch reloads the config file on change and hands the fresh Config to
// onChange. Runs until ctx ends. Only hot-reloadable settings should be
// consumed from the callback; adapters are not restarted.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}

	// Watch the directory: editors replace files on save, which drops
	// watches on the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}

	go func() {
		defer watcher.Close()
		var pending <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				// Debounce bursts of write events from one save.
				pending = time.After(200 * time.Millisecond)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "error", err)
			case <-pending:
				pending = nil
				cfg, err := Load(path)
				if err != nil {
					slog.Warn("config reload failed, keeping previous", "error", err)
					continue
				}
				slog.Info("config reloaded", "path", path)
				onChange(cfg)
			}
		}
	}()
	return nil
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
