package proxy

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	siteModeJS    = "js"
	siteModePlain = "plain"
)

// SiteConfig is the per-host rendering override read from <sites>/<host>.json.
type SiteConfig struct {
	Mode    string            `json:"mode"`
	Headers map[string]string `json:"headers,omitempty"`
}

// UseJS reports whether the host should be rendered in the headless browser.
// def applies when the file leaves the mode unset.
func (c *SiteConfig) UseJS(def bool) bool {
	if c == nil {
		return def
	}
	switch c.Mode {
	case siteModeJS:
		return true
	case siteModePlain:
		return false
	}
	return def
}

// Apply adds the configured headers to hdr without overriding existing ones.
func (c *SiteConfig) Apply(hdr http.Header) {
	if c == nil {
		return
	}
	for k, v := range c.Headers {
		if hdr.Get(k) == "" {
			hdr.Set(k, v)
		}
	}
}

type siteConfigStore struct {
	dir    string
	logger *slog.Logger
	mu     sync.RWMutex
	cache  map[string]*SiteConfig
}

func newSiteConfigStore(dir string, logger *slog.Logger) *siteConfigStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &siteConfigStore{
		dir:    dir,
		logger: logger,
		cache:  make(map[string]*SiteConfig),
	}
}

// Find returns the config for target's host, trying each parent domain in
// turn, so example.com.json also covers mail.example.com.
func (s *siteConfigStore) Find(target string) *SiteConfig {
	u, err := url.Parse(target)
	if err != nil || u.Hostname() == "" {
		return nil
	}
	host := strings.ToLower(u.Hostname())
	s.mu.RLock()
	if cfg, ok := s.cache[host]; ok {
		s.mu.RUnlock()
		return cfg
	}
	s.mu.RUnlock()

	var found *SiteConfig
	labels := strings.Split(host, ".")
	for i := 0; i < len(labels); i++ {
		if found = s.load(strings.Join(labels[i:], ".")); found != nil {
			break
		}
	}
	s.mu.Lock()
	s.cache[host] = found
	s.mu.Unlock()
	return found
}

func (s *siteConfigStore) load(host string) *SiteConfig {
	if s.dir == "" || host == "" {
		return nil
	}
	path := filepath.Join(s.dir, host+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var cfg SiteConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		s.logger.Warn("proxy: bad site config", slog.String("path", path), slog.String("error", err.Error()))
		return nil
	}
	cfg.Mode = strings.TrimSpace(strings.ToLower(cfg.Mode))
	return &cfg
}
