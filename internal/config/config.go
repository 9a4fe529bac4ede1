// Package config loads runtime configuration from an optional YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Bus      BusConfig      `yaml:"bus"`
	Telegram TelegramConfig `yaml:"telegram"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port  int    `yaml:"port"`
	Token string `yaml:"token"`
}

type StorageConfig struct {
	DataDir string `yaml:"dataDir"`
}

type BusConfig struct {
	QueueSize int `yaml:"queueSize"`
}

type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 4000},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Bus:     BusConfig{QueueSize: 1000},
		Log:     LogConfig{Level: "info"},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "digestd-data"
		}
	}
	return filepath.Join(dir, "digestd")
}

// Load reads configuration: defaults, then the YAML file at path (skipped if
// path is empty and DIGESTD_CONFIG is unset), then DIGESTD_* environment
// variables. A missing explicit file is an error; a missing default file is
// not.
func Load(path string) (Config, error) {
	cfg := defaults()

	explicit := path != ""
	if !explicit {
		path = os.Getenv("DIGESTD_CONFIG")
		explicit = path != ""
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
			}
		case os.IsNotExist(err) && !explicit:
			// fall through to defaults
		default:
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("DIGESTD_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DIGESTD_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("DIGESTD_API_TOKEN"); v != "" {
		c.Server.Token = v
	}
	if v := os.Getenv("DIGESTD_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("DIGESTD_BUS_QUEUE_SIZE"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DIGESTD_BUS_QUEUE_SIZE: %w", err)
		}
		c.Bus.QueueSize = size
	}
	if v := os.Getenv("DIGESTD_TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("DIGESTD_TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
	if v := os.Getenv("DIGESTD_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

// TelegramConfigured reports whether outbound delivery can be wired.
func (c Config) TelegramConfigured() bool {
	return c.Telegram.BotToken != "" && c.Telegram.ChatID != ""
}
