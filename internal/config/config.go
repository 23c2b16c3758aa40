package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultModel           = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens       = 8192
	DefaultTemperature     = 0.7
	DefaultMaxToolIters    = 10
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 18890
	DefaultBufSize         = 100
	DefaultScanCron        = "0 0 21 * * *" // nightly scan, seconds field first
	DefaultReminderCron    = "0 0 20 * * *" // nudge an hour before the scan
	DefaultGenerateTimeout = 20             // seconds
	DefaultLookbackDays    = 14
)

type Config struct {
	Agent    AgentConfig    `json:"agent"`
	Provider ProviderConfig `json:"provider"`
	Coach    CoachConfig    `json:"coach"`
	Channels ChannelsConfig `json:"channels"`
	Gateway  GatewayConfig  `json:"gateway"`
	Storage  StorageConfig  `json:"storage"`
}

type AgentConfig struct {
	Workspace         string  `json:"workspace"`
	Model             string  `json:"model"`
	MaxTokens         int     `json:"maxTokens"`
	Temperature       float64 `json:"temperature"`
	MaxToolIterations int     `json:"maxToolIterations"`
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "anthropic" (default) or "openai"
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

// CoachConfig drives the detection and escalation loop.
type CoachConfig struct {
	ScanCron               string `json:"scanCron"`
	ReminderCron           string `json:"reminderCron"`
	LookbackDays           int    `json:"lookbackDays"`
	GenerateTimeoutSeconds int    `json:"generateTimeoutSeconds"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type StorageConfig struct {
	DBPath string `json:"dbPath,omitempty"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Agent: AgentConfig{
			Workspace:         filepath.Join(home, ".ironwill", "workspace"),
			Model:             DefaultModel,
			MaxTokens:         DefaultMaxTokens,
			Temperature:       DefaultTemperature,
			MaxToolIterations: DefaultMaxToolIters,
		},
		Provider: ProviderConfig{},
		Coach: CoachConfig{
			ScanCron:               DefaultScanCron,
			ReminderCron:           DefaultReminderCron,
			LookbackDays:           DefaultLookbackDays,
			GenerateTimeoutSeconds: DefaultGenerateTimeout,
		},
		Channels: ChannelsConfig{},
		Gateway: GatewayConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Storage: StorageConfig{},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".ironwill")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// DBPath resolves the SQLite location, defaulting under the config dir.
func (c *Config) DBPath() string {
	if c.Storage.DBPath != "" {
		return c.Storage.DBPath
	}
	return filepath.Join(ConfigDir(), "data", "ironwill.db")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if key := os.Getenv("IRONWILL_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		if cfg.Provider.Type == "" {
			cfg.Provider.Type = "openai"
		}
	}
	if url := os.Getenv("IRONWILL_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if url := os.Getenv("ANTHROPIC_BASE_URL"); url != "" && cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = url
	}
	if token := os.Getenv("IRONWILL_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if path := os.Getenv("IRONWILL_DB_PATH"); path != "" {
		cfg.Storage.DBPath = path
	}
	if days := os.Getenv("IRONWILL_LOOKBACK_DAYS"); days != "" {
		if parsed, err := strconv.Atoi(days); err == nil && parsed > 0 {
			cfg.Coach.LookbackDays = parsed
		}
	}

	if cfg.Agent.Workspace == "" {
		cfg.Agent.Workspace = DefaultConfig().Agent.Workspace
	}
	if cfg.Coach.ScanCron == "" {
		cfg.Coach.ScanCron = DefaultScanCron
	}
	if cfg.Coach.ReminderCron == "" {
		cfg.Coach.ReminderCron = DefaultReminderCron
	}
	if cfg.Coach.LookbackDays <= 0 {
		cfg.Coach.LookbackDays = DefaultLookbackDays
	}
	if cfg.Coach.GenerateTimeoutSeconds <= 0 {
		cfg.Coach.GenerateTimeoutSeconds = DefaultGenerateTimeout
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
