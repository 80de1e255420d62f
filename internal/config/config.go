// Package config loads linkstash configuration from a YAML file,
// environment variables (LINKSTASH_ prefix), and built-in defaults,
// in increasing order of precedence for env over file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Remote  RemoteConfig  `mapstructure:"remote"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// StorageConfig controls the local store.
type StorageConfig struct {
	// Dir holds the SQLite database (or the JSON fallback file).
	Dir string `mapstructure:"dir"`

	// InitTimeout bounds each storage bring-up step.
	InitTimeout time.Duration `mapstructure:"init_timeout"`

	// DisableSQLite forces the flat-file backend. Mostly for tests
	// and constrained environments.
	DisableSQLite bool `mapstructure:"disable_sqlite"`
}

// RemoteConfig points at the hosted row API.
type RemoteConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
	Token  string `mapstructure:"token"`
	UserID string `mapstructure:"user_id"`
}

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	Schedule     string        `mapstructure:"schedule"`
	Cooldown     time.Duration `mapstructure:"cooldown"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig configures zap output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`

	// File enables rotating file output when non-empty; logs always
	// also go to stderr.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Load reads configuration. path selects an explicit config file;
// when empty the default locations are searched (./linkstash.yaml,
// then ~/.config/linkstash/config.yaml). A missing file is not an
// error, defaults and environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetEnvPrefix("LINKSTASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else if file := findConfigFile(); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.dir", defaultDataDir())
	v.SetDefault("storage.init_timeout", "5s")
	v.SetDefault("storage.disable_sqlite", false)

	v.SetDefault("remote.url", "")
	v.SetDefault("remote.api_key", "")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.user_id", "")

	v.SetDefault("sync.schedule", "@every 5m")
	v.SetDefault("sync.cooldown", "60s")
	v.SetDefault("sync.ping_interval", "30s")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8484)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 20)
	v.SetDefault("logging.max_backups", 3)
}

func findConfigFile() string {
	if _, err := os.Stat("linkstash.yaml"); err == nil {
		return "linkstash.yaml"
	}
	if configDir, err := os.UserConfigDir(); err == nil {
		p := filepath.Join(configDir, "linkstash", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".linkstash")
	}
	return ".linkstash"
}
