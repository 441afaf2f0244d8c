package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the complete kanbus configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Storage StorageConfig `yaml:"storage"`
	API     APIConfig     `yaml:"api,omitempty"`
	Queue   QueueConfig   `yaml:"queue,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// StorageConfig defines where the SQLite database lives.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP admin API settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	APIKey  string `yaml:"api_key,omitempty"`
}

// QueueConfig defines queue processing defaults.
type QueueConfig struct {
	// MaxEvents is the default batch size for a single drain.
	MaxEvents int `yaml:"max_events"`
	// ListLimit is the default cap for event listings.
	ListLimit int `yaml:"list_limit"`
}

// Defaults returns a usable configuration for when no file is given.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{Name: "kanbus", LogLevel: "INFO"},
		Storage: StorageConfig{Path: defaultDBPath()},
		API:     APIConfig{Enabled: false, Listen: "127.0.0.1:8089"},
		Queue:   QueueConfig{MaxEvents: 25, ListLimit: 100},
	}
}

func defaultDBPath() string {
	if p := os.Getenv("KANBUS_DB_PATH"); p != "" {
		return p
	}
	if info, err := os.Stat(".local_context"); err == nil && info.IsDir() {
		return filepath.Join(".local_context", "kanban.db")
	}
	return "kanban.db"
}

// Load reads and parses configuration from a YAML file, applying defaults
// for anything left unset.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s", absPath)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", absPath, err)
	}
	cfg = applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) *Config {
	base := Defaults()
	if cfg.Service.Name == "" {
		cfg.Service.Name = base.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = base.Service.LogLevel
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = base.Storage.Path
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = base.API.Listen
	}
	if cfg.Queue.MaxEvents <= 0 {
		cfg.Queue.MaxEvents = base.Queue.MaxEvents
	}
	if cfg.Queue.ListLimit <= 0 {
		cfg.Queue.ListLimit = base.Queue.ListLimit
	}
	return cfg
}

func validate(cfg *Config) error {
	switch strings.ToUpper(cfg.Service.LogLevel) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("service.log_level %q is not one of DEBUG, INFO, WARN, ERROR", cfg.Service.LogLevel)
	}
	if cfg.API.Enabled && cfg.API.Listen == "" {
		return fmt.Errorf("api.enabled is true but api.listen is empty")
	}
	return nil
}
