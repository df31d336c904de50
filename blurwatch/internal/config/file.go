// Package config loads blurwatch configuration: a YAML file for the daemon,
// and a SQLite database for the detection settings and page list that can
// change while it runs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/blurkit/blurwatch/internal/natsconn"
	"github.com/hazyhaar/blurkit/blurwatch/settings"
)

// Config is the top-level daemon configuration.
type Config struct {
	Browser   BrowserConfig   `yaml:"browser"`
	Pages     []PageConfig    `yaml:"pages"`
	Detection DetectionConfig `yaml:"detection"`
	Sinks     []SinkConfig    `yaml:"sinks"`
	HTTP      HTTPConfig      `yaml:"http"`
	NATS      natsconn.Config `yaml:"nats"`
	// SettingsDB is the SQLite file holding detection settings and pages.
	// Empty keeps settings in memory only.
	SettingsDB string `yaml:"settings_db"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"` // fonts | stylesheets
	Stealth          string        `yaml:"stealth"`           // headless | headful
	XvfbDisplay      string        `yaml:"xvfb_display"`
}

// PageConfig is a page to observe.
type PageConfig struct {
	ID           string `yaml:"id"`
	URL          string `yaml:"url"`
	StealthLevel string `yaml:"stealth_level"` // 0 | 1 | 2 | auto
}

// DetectionConfig tunes qualification and the initial settings.
type DetectionConfig struct {
	MinWidth   int `yaml:"min_width"`
	MinHeight  int `yaml:"min_height"`
	BlurRadius int `yaml:"blur_radius"`
	// Initial settings, emitted at startup when the database has none.
	// Absent means detection runs with everything on until settings load.
	Initial *settings.Flags `yaml:"initial"`
}

// SinkConfig is an output backend.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook | nats
	URL  string `yaml:"url"`  // webhook
	// SubjectPrefix overrides nats.prefix for this sink.
	SubjectPrefix string `yaml:"subject_prefix"`
	Retries       int    `yaml:"retries"`
}

// HTTPConfig is the control API listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"` // empty: disabled
}

// LoadFile reads and defaults a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Detection.MinWidth <= 0 {
		c.Detection.MinWidth = 32
	}
	if c.Detection.MinHeight <= 0 {
		c.Detection.MinHeight = 32
	}
	if c.Detection.BlurRadius <= 0 {
		c.Detection.BlurRadius = 10
	}
	for i := range c.Pages {
		if c.Pages[i].StealthLevel == "" {
			c.Pages[i].StealthLevel = "auto"
		}
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []SinkConfig{{Type: "stdout"}}
	}
	if c.NATS.URL != "" {
		c.NATS.ApplyDefaults()
	}
}

func (c *Config) validate() error {
	for i, p := range c.Pages {
		if p.URL == "" {
			return fmt.Errorf("config: pages[%d]: url is required", i)
		}
		switch p.StealthLevel {
		case "0", "1", "2", "auto":
		default:
			return fmt.Errorf("config: pages[%d]: unknown stealth_level %q", i, p.StealthLevel)
		}
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: sinks[%d]: webhook needs url", i)
			}
		case "nats":
			if c.NATS.URL == "" {
				return fmt.Errorf("config: sinks[%d]: nats sink needs nats.url", i)
			}
		default:
			return fmt.Errorf("config: sinks[%d]: unknown type %q", i, s.Type)
		}
	}
	return nil
}
