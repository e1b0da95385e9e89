// Package config holds the pageshot configuration and parses it from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level pageshot configuration.
type Config struct {
	Browser BrowserConfig `yaml:"browser"`
	Capture CaptureConfig `yaml:"capture"`
	Output  OutputConfig  `yaml:"output"`
	Store   StoreConfig   `yaml:"store"`
	Notify  []SinkConfig  `yaml:"notify"`
	HTTP    HTTPConfig    `yaml:"http"`
}

// BrowserConfig controls how Chrome is reached.
type BrowserConfig struct {
	Remote            string        `yaml:"remote"`
	Stealth           string        `yaml:"stealth"` // headless | headful
	XvfbDisplay       string        `yaml:"xvfb_display"`
	Bin               string        `yaml:"bin"`
	ViewportWidth     int           `yaml:"viewport_width"`
	ViewportHeight    int           `yaml:"viewport_height"`
	DeviceScaleFactor float64       `yaml:"device_scale_factor"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	NoStealth         bool          `yaml:"no_stealth"`
}

// CaptureConfig tunes the capture pipeline.
type CaptureConfig struct {
	SettleDelay time.Duration `yaml:"settle_delay"`
	AreaDelay   time.Duration `yaml:"area_delay"`
	Restricted  []string      `yaml:"restricted"`
	Format      string        `yaml:"format"` // initial preference when none is stored
	// AllowPrivateURLs lets requested URLs target private networks.
	// Loopback is always allowed.
	AllowPrivateURLs bool `yaml:"allow_private_urls"`
}

// OutputConfig is where images go.
type OutputConfig struct {
	Dir string `yaml:"dir"`
}

// StoreConfig locates and tunes the SQLite database.
type StoreConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
	Synchronous string        `yaml:"synchronous"` // OFF | NORMAL | FULL | EXTRA
	// MaxCaptures bounds the journal; older rows are pruned. 0 keeps all.
	MaxCaptures int `yaml:"max_captures"`
}

// SinkConfig defines a notification backend.
type SinkConfig struct {
	Type    string `yaml:"type"` // log | stdout | webhook
	URL     string `yaml:"url"`  // for webhook
	Retries int    `yaml:"retries"`
}

// HTTPConfig enables the HTTP API.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// RPCTimeout bounds each /rpc service call.
	RPCTimeout time.Duration `yaml:"rpc_timeout"`
	// Disabled lists /rpc services that answer without running.
	Disabled []string `yaml:"disabled"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.ViewportWidth <= 0 {
		c.Browser.ViewportWidth = 1280
	}
	if c.Browser.ViewportHeight <= 0 {
		c.Browser.ViewportHeight = 800
	}
	if c.Browser.DeviceScaleFactor <= 0 {
		c.Browser.DeviceScaleFactor = 1
	}
	if c.Browser.NavigationTimeout <= 0 {
		c.Browser.NavigationTimeout = 30 * time.Second
	}
	if c.Capture.SettleDelay <= 0 {
		c.Capture.SettleDelay = 550 * time.Millisecond
	}
	if c.Capture.AreaDelay <= 0 {
		c.Capture.AreaDelay = 150 * time.Millisecond
	}
	if c.Output.Dir == "" {
		c.Output.Dir = defaultDownloads()
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.Output.Dir, ".pageshot", "pageshot.db")
	}
	if c.Store.BusyTimeout <= 0 {
		c.Store.BusyTimeout = 10 * time.Second
	}
	c.Store.Synchronous = strings.ToUpper(c.Store.Synchronous)
	if c.Store.Synchronous == "" {
		c.Store.Synchronous = "NORMAL"
	}
	if c.Store.MaxCaptures < 0 {
		c.Store.MaxCaptures = 0
	}
	if len(c.Notify) == 0 {
		c.Notify = []SinkConfig{{Type: "log"}}
	}
	if c.HTTP.RPCTimeout <= 0 {
		c.HTTP.RPCTimeout = 2 * time.Minute
	}
}

// Validate rejects settings that cannot work.
func (c *Config) Validate() error {
	switch c.Browser.Stealth {
	case "headless", "headful":
	default:
		return fmt.Errorf("config: browser.stealth must be headless or headful, got %q", c.Browser.Stealth)
	}
	switch c.Capture.Format {
	case "", "png", "jpg", "jpeg":
	default:
		return fmt.Errorf("config: capture.format must be png or jpg, got %q", c.Capture.Format)
	}
	switch c.Store.Synchronous {
	case "OFF", "NORMAL", "FULL", "EXTRA":
	default:
		return fmt.Errorf("config: store.synchronous must be OFF, NORMAL, FULL or EXTRA, got %q", c.Store.Synchronous)
	}
	for i, s := range c.Notify {
		switch s.Type {
		case "log", "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: notify[%d]: webhook needs a url", i)
			}
		default:
			return fmt.Errorf("config: notify[%d]: unknown type %q", i, s.Type)
		}
	}
	return nil
}

func defaultDownloads() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "screenshots"
	}
	return filepath.Join(home, "Downloads")
}
