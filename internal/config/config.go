package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.parley/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	// CurrentUser is the id rendered as "me"; empty means the first
	// seeded user.
	CurrentUser      string `toml:"current_user"`
	DeliveryDelayMS  int    `toml:"delivery_delay_ms"`
	SearchDebounceMS int    `toml:"search_debounce_ms"`
}

// Defaults applied to fields the file leaves unset.
const (
	DefaultDeliveryDelayMS  = 1000
	DefaultSearchDebounceMS = 300
)

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
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

func (c *Config) applyDefaults() {
	if c.DeliveryDelayMS <= 0 {
		c.DeliveryDelayMS = DefaultDeliveryDelayMS
	}
	if c.SearchDebounceMS <= 0 {
		c.SearchDebounceMS = DefaultSearchDebounceMS
	}
}
