// Package config loads collectord configuration: defaults in code, then a
// YAML file, then MSGCOLLECTOR_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "MSGCOLLECTOR_"

type Config struct {
	Collector CollectorConfig `yaml:"collector" envPrefix:"COLLECTOR_"`
	Discord   DiscordConfig   `yaml:"discord" envPrefix:"DISCORD_"`
	Slack     SlackConfig     `yaml:"slack" envPrefix:"SLACK_"`
	Telegram  TelegramConfig  `yaml:"telegram" envPrefix:"TELEGRAM_"`
	Feishu    FeishuConfig    `yaml:"feishu" envPrefix:"FEISHU_"`
	DingTalk  DingTalkConfig  `yaml:"dingtalk" envPrefix:"DINGTALK_"`
	QQ        QQConfig        `yaml:"qq" envPrefix:"QQ_"`
	Storage   StorageConfig   `yaml:"storage" envPrefix:"STORAGE_"`
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
	API       APIConfig       `yaml:"api" envPrefix:"API_"`
}

// CollectorConfig holds defaults applied to collectors started by commands.
type CollectorConfig struct {
	CommandPrefix  string        `yaml:"command_prefix" env:"COMMAND_PREFIX"`
	DefaultLimit   int           `yaml:"default_limit" env:"DEFAULT_LIMIT"`
	DefaultTimeout time.Duration `yaml:"default_timeout" env:"DEFAULT_TIMEOUT"`
	MaxTimeout     time.Duration `yaml:"max_timeout" env:"MAX_TIMEOUT"`
	PresetDirs     []string      `yaml:"preset_dirs" env:"PRESET_DIRS" envSeparator:":"`
}

type DiscordConfig struct {
	Token string `yaml:"token" env:"TOKEN"`
}

type SlackConfig struct {
	BotToken string `yaml:"bot_token" env:"BOT_TOKEN"`
	AppToken string `yaml:"app_token" env:"APP_TOKEN"`
	Debug    bool   `yaml:"debug" env:"DEBUG"`
}

type TelegramConfig struct {
	Token string `yaml:"token" env:"TOKEN"`
}

// FeishuConfig holds Feishu (Lark) app credentials. EncryptKey and
// VerificationToken are only needed when event encryption is enabled.
type FeishuConfig struct {
	AppID             string `yaml:"app_id" env:"APP_ID"`
	AppSecret         string `yaml:"app_secret" env:"APP_SECRET"`
	EncryptKey        string `yaml:"encrypt_key" env:"ENCRYPT_KEY"`
	VerificationToken string `yaml:"verification_token" env:"VERIFICATION_TOKEN"`
}

type DingTalkConfig struct {
	ClientID     string `yaml:"client_id" env:"CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"CLIENT_SECRET"`
}

type QQConfig struct {
	AppID     string `yaml:"app_id" env:"APP_ID"`
	AppSecret string `yaml:"app_secret" env:"APP_SECRET"`
	Sandbox   bool   `yaml:"sandbox" env:"SANDBOX"`
}

type StorageConfig struct {
	// DBPath is the SQLite file for collection history. Empty disables history.
	DBPath string `yaml:"db_path" env:"DB_PATH"`
}

// APIConfig controls the status and live event endpoint. Empty Addr
// disables it.
type APIConfig struct {
	Addr   string `yaml:"addr" env:"ADDR"`
	APIKey string `yaml:"api_key" env:"KEY"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Collector: CollectorConfig{
			CommandPrefix:  "!",
			DefaultLimit:   1,
			DefaultTimeout: 30 * time.Second,
			MaxTimeout:     10 * time.Minute,
			PresetDirs: []string{
				"presets",
				filepath.Join(home, ".msgcollector", "presets"),
			},
		},
		Storage: StorageConfig{
			DBPath: filepath.Join(home, ".msgcollector", "history.db"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig reads path (if it exists) over the defaults, then applies
// environment overrides. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at collector creation.
func (c *Config) Validate() error {
	if c.Collector.DefaultLimit < 0 {
		return fmt.Errorf("collector.default_limit must be >= 0, got %d", c.Collector.DefaultLimit)
	}
	if c.Collector.DefaultTimeout < 0 {
		return fmt.Errorf("collector.default_timeout must be >= 0, got %s", c.Collector.DefaultTimeout)
	}
	if c.Collector.MaxTimeout > 0 && c.Collector.DefaultTimeout > c.Collector.MaxTimeout {
		return fmt.Errorf("collector.default_timeout %s exceeds max_timeout %s",
			c.Collector.DefaultTimeout, c.Collector.MaxTimeout)
	}
	if c.Collector.CommandPrefix == "" {
		return fmt.Errorf("collector.command_prefix must not be empty")
	}
	return nil
}

// SaveConfig writes cfg as YAML, creating parent directories.
func SaveConfig(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
