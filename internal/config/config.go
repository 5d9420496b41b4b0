package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server connection
	API APIConfig `json:"api" mapstructure:"api"`

	// Authentication
	Auth AuthConfig `json:"auth" mapstructure:"auth"`

	// Local storage paths
	Storage StorageConfig `json:"storage" mapstructure:"storage"`

	// Sync behavior
	Sync SyncConfig `json:"sync" mapstructure:"sync"`

	// Logging
	Log LogConfig `json:"log" mapstructure:"log"`
}

// APIConfig for the sync server connection.
type APIConfig struct {
	URL            string        `json:"url" mapstructure:"url"`                         // ws(s) or http(s) endpoint
	MaxAttempts    int           `json:"max_attempts" mapstructure:"max_attempts"`       // connection attempts before giving up
	OpenTimeout    time.Duration `json:"open_timeout" mapstructure:"open_timeout"`       // per-attempt handshake bound
	RequestTimeout time.Duration `json:"request_timeout" mapstructure:"request_timeout"` // correlated request bound
	RetryDelay     time.Duration `json:"retry_delay" mapstructure:"retry_delay"`         // delay between attempts
	PingInterval   time.Duration `json:"ping_interval" mapstructure:"ping_interval"`
}

// AuthConfig for bearer token lookup. Token acquisition itself is handled
// by an external service; we only read the result.
type AuthConfig struct {
	Token     string `json:"token,omitempty" mapstructure:"token"`
	TokenFile string `json:"token_file,omitempty" mapstructure:"token_file"`
}

// StorageConfig for local file paths.
type StorageConfig struct {
	DataDir   string `json:"data_dir" mapstructure:"data_dir"`
	ReplicaDB string `json:"replica_db" mapstructure:"replica_db"` // sqlite path
}

// SyncConfig for the sync loop.
type SyncConfig struct {
	PollInterval    time.Duration `json:"poll_interval" mapstructure:"poll_interval"`       // local change detector
	AutoPush        bool          `json:"auto_push" mapstructure:"auto_push"`               // initial auto-push flag
	DateFormat      string        `json:"date_format" mapstructure:"date_format"`           // session log timestamp layout
	RejectIntervals int           `json:"reject_intervals" mapstructure:"reject_intervals"` // pulses skipped after a server rejection
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level      string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format     string `json:"format" mapstructure:"format"` // text, json
	File       string `json:"file" mapstructure:"file"`     // empty = stdout
	MaxSize    int    `json:"max_size" mapstructure:"max_size"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAge     int    `json:"max_age" mapstructure:"max_age"`
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".graphsync"

	return &Config{
		API: APIConfig{
			URL:            "wss://sync.example.com/rtc",
			MaxAttempts:    10,
			OpenTimeout:    10 * time.Second,
			RequestTimeout: 30 * time.Second,
			RetryDelay:     time.Second,
			PingInterval:   30 * time.Second,
		},
		Storage: StorageConfig{
			DataDir:   dataDir,
			ReplicaDB: filepath.Join(dataDir, "replica.db"),
		},
		Sync: SyncConfig{
			PollInterval:    2000 * time.Millisecond,
			AutoPush:        true,
			DateFormat:      time.RFC3339,
			RejectIntervals: 3,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			File:       "",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.API.URL == "" {
		return errors.New("api.url is required")
	}
	if c.API.MaxAttempts <= 0 {
		return errors.New("api.max_attempts must be positive")
	}
	if c.API.OpenTimeout <= 0 {
		return errors.New("api.open_timeout must be positive")
	}
	if c.Sync.PollInterval <= 0 {
		return errors.New("sync.poll_interval must be positive")
	}
	if c.Sync.RejectIntervals < 0 {
		return errors.New("sync.reject_intervals must not be negative")
	}
	if c.Storage.ReplicaDB == "" {
		return errors.New("storage.replica_db is required")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}
