// Package config loads the YAML configuration shared by every command.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"safelinks/dom"
)

var (
	className = regexp.MustCompile(`^-?[_a-zA-Z][-_a-zA-Z0-9]*$`)
	tagName   = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9-]*$`)
	attrName  = regexp.MustCompile(`^[a-zA-Z_:][-a-zA-Z0-9_:.]*$`)
)

// Config represents the application configuration.
type Config struct {
	LogLevel    slog.Level        `yaml:"log_level"`
	HTTP        HTTPConfig        `yaml:"http"`
	Markers     MarkersConfig     `yaml:"markers"`
	Watch       WatchConfig       `yaml:"watch"`
	Preview     PreviewConfig     `yaml:"preview"`
	Render      RenderConfig      `yaml:"render"`
	SitesDir    string            `yaml:"sites_dir"`
	Cache       CacheConfig       `yaml:"cache"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for _, v := range []validation.Validatable{&c.HTTP, &c.Markers, &c.Watch, &c.Preview, &c.Render, &c.Cache, &c.Diagnostics} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Addr, validation.Required),
	)
}

// MarkersConfig names the classes separating quoted from compose content.
type MarkersConfig struct {
	Quoted   string `yaml:"quoted"`
	Unquoted string `yaml:"unquoted"`
	SoftWrap string `yaml:"soft_wrap"`
}

// Validate validates the marker names.
func (c *MarkersConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Quoted, validation.Required, validation.Match(className)),
		validation.Field(&c.Unquoted, validation.Required, validation.Match(className),
			validation.NotIn(c.Quoted).Error("must differ from the quoted marker")),
		validation.Field(&c.SoftWrap, validation.Required, validation.Match(tagName)),
	)
}

// Markers converts the section for the scanner.
func (c MarkersConfig) Markers() dom.Markers {
	return dom.Markers{Quoted: c.Quoted, Unquoted: c.Unquoted, SoftWrap: c.SoftWrap}
}

// WatchConfig configures the directory watcher.
type WatchConfig struct {
	Dir      string        `yaml:"dir"`
	Debounce time.Duration `yaml:"debounce"`
}

// Validate validates the watcher configuration.
func (c *WatchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.Min(time.Duration(0))),
	)
}

// PreviewConfig controls the panel listing links left wrapped.
type PreviewConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Attribute  string `yaml:"attribute"`
	Stylesheet string `yaml:"stylesheet"`
}

// Validate validates the preview configuration.
func (c *PreviewConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Attribute, validation.When(c.Enabled, validation.Required), validation.Match(attrName)),
	)
}

// RenderConfig configures page fetching for the proxy.
type RenderConfig struct {
	JS           bool          `yaml:"js"`
	Timeout      time.Duration `yaml:"timeout"`
	WaitSelector string        `yaml:"wait_selector"`
	UserAgent    string        `yaml:"user_agent"`
}

// Validate validates the render configuration.
func (c *RenderConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Timeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.WaitSelector, validation.Required),
	)
}

// CacheConfig configures the cleaned page cache.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.TTL, validation.Min(time.Duration(0))),
	)
}

// DiagnosticsConfig sizes the decode failure history.
type DiagnosticsConfig struct {
	Capacity int `yaml:"capacity"`
}

// Validate validates the diagnostics configuration.
func (c *DiagnosticsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Capacity, validation.Required, validation.Min(1), validation.Max(10000)),
	)
}

// NewDefault returns a Config with sensible default values.
func NewDefault() *Config {
	m := dom.DefaultMarkers
	return &Config{
		LogLevel: slog.LevelInfo,
		HTTP:     HTTPConfig{Addr: ":8080"},
		Markers:  MarkersConfig{Quoted: m.Quoted, Unquoted: m.Unquoted, SoftWrap: m.SoftWrap},
		Watch:    WatchConfig{Debounce: 200 * time.Millisecond},
		Preview:  PreviewConfig{Attribute: "title"},
		Render: RenderConfig{
			Timeout:      20 * time.Second,
			WaitSelector: "body",
			UserAgent:    "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36",
		},
		SitesDir:    "config/sites",
		Cache:       CacheConfig{TTL: 5 * time.Minute},
		Diagnostics: DiagnosticsConfig{Capacity: 64},
	}
}

// Load reads filename over the defaults, expanding ${VAR} references first.
// An empty filename yields the defaults.
func Load(filename string) (*Config, error) {
	cfg := NewDefault()
	if filename == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}
	if err := Parse([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", filename, err)
	}
	return cfg, nil
}

// Parse decodes YAML into cfg and validates the result.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// IsValidation reports whether err came from validation rather than I/O or
// syntax.
func IsValidation(err error) bool {
	var errs validation.Errors
	return errors.As(err, &errs)
}
