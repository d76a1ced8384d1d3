package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Runners       RunnersConfig       `toml:"runners"`
	Notifications NotificationsConfig `toml:"notifications"`
	Web           WebConfig           `toml:"web"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	PlaybookDir   string        `toml:"playbook_dir"`
	InventoryPath string        `toml:"inventory_path"`
	SchedulePath  string        `toml:"schedule_path"`
	DatabasePath  string        `toml:"database_path"`
	LogRetention  time.Duration `toml:"log_retention"`
}

// RunnersConfig holds execution runner settings
type RunnersConfig struct {
	LocalFallback bool   `toml:"local_fallback"`
	LocalMaxRuns  int    `toml:"local_max_runs"`
	AnsibleBinary string `toml:"ansible_binary"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Log          bool   `toml:"log"`
	SlackWebhook string `toml:"slack_webhook"`
}

// WebConfig holds HTTP API settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".fleet-orchestrator")
	return &Config{
		General: GeneralConfig{
			PlaybookDir:   filepath.Join(base, "playbooks"),
			InventoryPath: filepath.Join(base, "inventory.toml"),
			SchedulePath:  filepath.Join(base, "schedule.toml"),
			DatabasePath:  filepath.Join(base, "fleet.db"),
			LogRetention:  90 * 24 * time.Hour,
		},
		Runners: RunnersConfig{
			LocalFallback: true,
			LocalMaxRuns:  2,
		},
		Notifications: NotificationsConfig{
			Log: true,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Expand paths
	cfg.General.PlaybookDir = ExpandPath(cfg.General.PlaybookDir)
	cfg.General.InventoryPath = ExpandPath(cfg.General.InventoryPath)
	cfg.General.SchedulePath = ExpandPath(cfg.General.SchedulePath)
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)

	return cfg, nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "fleet-orchestrator", "config.toml")
}
