package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents a profile's config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`

	ServerURL string `toml:"server_url"` // base URL of the federation API
	SocketURL string `toml:"socket_url"` // ws/wss URL; derived from ServerURL if empty
	Token     string `toml:"token"`      // bearer token issued by the auth system

	HeartbeatInterval duration `toml:"heartbeat_interval"`

	// Presence derivation thresholds. Policy, not mechanism: tests and
	// deployments may tighten or relax these.
	PresenceRecently duration `toml:"presence_recently"`
	PresenceAway     duration `toml:"presence_away"`

	TypingTTL duration `toml:"typing_ttl"`
}

// duration wraps time.Duration with TOML text (un)marshalling.
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Default returns a config with all tunables at their default values.
func Default() *Config {
	return &Config{
		HeartbeatInterval: duration(30 * time.Second),
		PresenceRecently:  duration(5 * time.Minute),
		PresenceAway:      duration(60 * time.Minute),
		TypingTTL:         duration(6 * time.Second),
	}
}

// Load reads config from the given path and applies environment overrides.
// A .env file in the working directory is honoured if present.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// applyEnv overrides file values with COURTLINE_* environment variables.
func (c *Config) applyEnv() {
	_ = godotenv.Load()
	if v := os.Getenv("COURTLINE_SERVER_URL"); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv("COURTLINE_SOCKET_URL"); v != "" {
		c.SocketURL = v
	}
	if v := os.Getenv("COURTLINE_TOKEN"); v != "" {
		c.Token = v
	}
}

// Heartbeat returns the heartbeat interval as a time.Duration.
func (c *Config) Heartbeat() time.Duration { return time.Duration(c.HeartbeatInterval) }

// Recently returns the "recently online" presence threshold.
func (c *Config) Recently() time.Duration { return time.Duration(c.PresenceRecently) }

// Away returns the "away" presence threshold.
func (c *Config) Away() time.Duration { return time.Duration(c.PresenceAway) }

// Typing returns the typing indicator expiry.
func (c *Config) Typing() time.Duration { return time.Duration(c.TypingTTL) }
