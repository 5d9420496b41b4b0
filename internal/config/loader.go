package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader reads configuration from file and environment.
type Loader struct {
	configPath string
	envPrefix  string
}

// NewLoader creates a config loader. An empty path searches the default
// locations.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		envPrefix:  "GRAPHSYNC",
	}
}

// Load merges defaults, config file, and GRAPHSYNC_* environment overrides.
func (l *Loader) Load() (*Config, error) {
	v := viper.New()
	l.setDefaults(v)

	v.SetEnvPrefix(l.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.configPath != "" {
		v.SetConfigFile(l.configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else {
		for _, path := range l.defaultPaths() {
			if _, err := os.Stat(path); err == nil {
				v.SetConfigFile(path)
				if err := v.ReadInConfig(); err != nil {
					return nil, fmt.Errorf("read config file %s: %w", path, err)
				}
				break
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (l *Loader) setDefaults(v *viper.Viper) {
	def := DefaultConfig()

	v.SetDefault("api.url", def.API.URL)
	v.SetDefault("api.max_attempts", def.API.MaxAttempts)
	v.SetDefault("api.open_timeout", def.API.OpenTimeout)
	v.SetDefault("api.request_timeout", def.API.RequestTimeout)
	v.SetDefault("api.retry_delay", def.API.RetryDelay)
	v.SetDefault("api.ping_interval", def.API.PingInterval)

	v.SetDefault("auth.token", "")
	v.SetDefault("auth.token_file", "")

	v.SetDefault("storage.data_dir", def.Storage.DataDir)
	v.SetDefault("storage.replica_db", def.Storage.ReplicaDB)

	v.SetDefault("sync.poll_interval", def.Sync.PollInterval)
	v.SetDefault("sync.auto_push", def.Sync.AutoPush)
	v.SetDefault("sync.date_format", def.Sync.DateFormat)
	v.SetDefault("sync.reject_intervals", def.Sync.RejectIntervals)

	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)
	v.SetDefault("log.file", def.Log.File)
	v.SetDefault("log.max_size", def.Log.MaxSize)
	v.SetDefault("log.max_backups", def.Log.MaxBackups)
	v.SetDefault("log.max_age", def.Log.MaxAge)
}

func (l *Loader) defaultPaths() []string {
	paths := []string{
		"graphsync.json",
		".graphsync.json",
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(homeDir, ".config", "graphsync", "config.json"),
			filepath.Join(homeDir, ".graphsync", "config.json"),
		)
	}

	return paths
}
