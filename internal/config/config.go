// Package config loads the service configuration from a YAML file with
// environment-variable overrides for secrets.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	ListenAddr  string            `yaml:"listen_addr"`
	Feed        FeedConfig        `yaml:"feed"`
	Instruments InstrumentsConfig `yaml:"instruments"`
	Store       StoreConfig       `yaml:"store"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// FeedConfig drives the upstream connection manager.
type FeedConfig struct {
	BaseURL        string        `yaml:"base_url"`
	AccessToken    string        `yaml:"access_token"`
	ReconnectLimit int           `yaml:"reconnect_limit"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	BufferSize     int           `yaml:"buffer_size"`
	QueueCapacity  int           `yaml:"queue_capacity"`
}

// InstrumentsConfig locates the instrument master.
type InstrumentsConfig struct {
	Path    string `yaml:"path"`
	Segment string `yaml:"segment"`
}

// StoreConfig locates the bar database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// DashboardConfig drives the fan-out side.
type DashboardConfig struct {
	CloseAvgWindow int `yaml:"close_avg_window"`
}

// Default returns the configuration used when a field is absent from the
// file.
func Default() Config {
	return Config{
		ListenAddr: ":8080",
		Feed: FeedConfig{
			BaseURL:        "https://api.upstox.com/v2",
			ReconnectLimit: 10,
			ReconnectDelay: 5 * time.Second,
			PollInterval:   time.Second,
			BufferSize:     4096,
			QueueCapacity:  256,
		},
		Instruments: InstrumentsConfig{
			Path:    "NSE.json.gz",
			Segment: "NSE_EQ",
		},
		Store: StoreConfig{
			Path: "barstream.db",
		},
		Dashboard: DashboardConfig{
			CloseAvgWindow: 20,
		},
	}
}

// Load reads path, overlays it on the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// FromEnv builds a configuration without a file, for container deploys.
func FromEnv() (Config, error) {
	cfg := Default()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BARSTREAM_ACCESS_TOKEN"); v != "" {
		c.Feed.AccessToken = v
	}
	if v := os.Getenv("BARSTREAM_FEED_URL"); v != "" {
		c.Feed.BaseURL = v
	}
	if v := os.Getenv("BARSTREAM_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
}

// Validate checks the fields the service cannot start without.
func (c Config) Validate() error {
	if c.Feed.AccessToken == "" {
		return errors.New("feed access token not set (feed.access_token or BARSTREAM_ACCESS_TOKEN)")
	}
	if c.Feed.BaseURL == "" {
		return errors.New("feed base URL not set")
	}
	if c.Feed.ReconnectLimit < 1 {
		return errors.New("feed.reconnect_limit must be at least 1")
	}
	if c.Feed.ReconnectDelay <= 0 {
		return errors.New("feed.reconnect_delay must be positive")
	}
	if c.Feed.PollInterval <= 0 {
		return errors.New("feed.poll_interval must be positive")
	}
	if c.Instruments.Path == "" {
		return errors.New("instruments.path not set")
	}
	if c.Store.Path == "" {
		return errors.New("store.path not set")
	}
	return nil
}
