package blurwatch

import (
	"github.com/hazyhaar/blurkit/blurwatch/internal/config"
)

// Config is the top-level blurwatch configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// PageConfig defines a page to observe.
type PageConfig = config.PageConfig

// DetectionConfig tunes qualification and the initial settings.
type DetectionConfig = config.DetectionConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns a configuration with every default applied and no
// pages.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}
