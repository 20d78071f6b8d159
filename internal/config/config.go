// Package config loads bridge configuration from a JSON5 file with
// environment variable overrides. Env vars always win over file values.
package config

// Config is the root configuration.
type Config struct {
	Backend  BackendConfig  `json:"backend"`
	Adapters AdaptersConfig `json:"adapters"`
	Bridge   BridgeConfig   `json:"bridge"`
	Log      LogConfig      `json:"log"`
}

// BackendConfig points at the agent backend.
type BackendConfig struct {
	BaseURL    string `json:"base_url" env:"RELAYCLAW_BACKEND_URL"`
	EventsURL  string `json:"events_url" env:"RELAYCLAW_BACKEND_EVENTS_URL"`
	WorkingDir string `json:"working_dir" env:"RELAYCLAW_WORKING_DIR"`
}

// AdaptersConfig groups per-platform adapter settings.
type AdaptersConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	Slack    SlackConfig    `json:"slack"`
}

// TelegramConfig configures the Telegram adapter.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token" env:"RELAYCLAW_TELEGRAM_TOKEN"`
	AllowList []string `json:"allow_list"`
	// Streaming enables in-place message edits while a reply streams.
	Streaming bool `json:"streaming"`
}

// DiscordConfig configures the Discord adapter.
type DiscordConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token" env:"RELAYCLAW_DISCORD_TOKEN"`
	AllowList []string `json:"allow_list"`
	Streaming bool     `json:"streaming"`
}

// SlackConfig configures the Slack adapter (Socket Mode).
type SlackConfig struct {
	Enabled   bool     `json:"enabled"`
	BotToken  string   `json:"bot_token" env:"RELAYCLAW_SLACK_BOT_TOKEN"`
	AppToken  string   `json:"app_token" env:"RELAYCLAW_SLACK_APP_TOKEN"`
	AllowList []string `json:"allow_list"`
	Streaming bool     `json:"streaming"`
}

// BridgeConfig tunes the routing engine itself.
type BridgeConfig struct {
	// MediaMaxBytes caps outbound media size. Zero or negative disables
	// the gate.
	MediaMaxBytes int64 `json:"media_max_bytes" env:"RELAYCLAW_MEDIA_MAX_BYTES"`
	// ThinkingText is the placeholder posted while a request processes.
	ThinkingText string `json:"thinking_text" env:"RELAYCLAW_THINKING_TEXT"`
	// StateDB is the path of the SQLite file holding persisted bridge
	// state. Empty disables persistence.
	StateDB string `json:"state_db" env:"RELAYCLAW_STATE_DB"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level string `json:"level" env:"RELAYCLAW_LOG_LEVEL"`
}
