package proxy

import (
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"safelinks/dom"
	"safelinks/links"
)

const defaultIndexHTML = `<!DOCTYPE html>
<html><head><title>safelinks</title></head><body>
<h1>safelinks</h1>
<form action="/untangle" method="get">
<h3>Untangle a link</h3>
URL: <input name="url" size="80">
<button type="submit">Untangle</button>
</form>
<form action="/fetch" method="get">
<h3>Fetch and clean a page</h3>
URL: <input name="url" size="80"><br>
<label><input type="checkbox" name="js" value="1"> render with JavaScript</label><br>
<button type="submit">Fetch</button>
</form>
<form action="/clean?preview=1" method="post">
<h3>Clean pasted HTML</h3>
<textarea name="html" rows="12" cols="80"></textarea><br>
<button type="submit">Clean</button>
</form>
</body></html>`

const defaultSitesDir = "config/sites"

// Config describes server wiring and runtime behaviour.
type Config struct {
	IndexHTML string
	SitesDir  string
	Markers   dom.Markers
	// Preview lists links left wrapped in the compose region in a panel.
	Preview     bool
	PreviewAttr string
	// Stylesheet is injected into served pages when previews are on. Empty
	// means the built-in sheet.
	Stylesheet string
	Render     RenderOptions
	CacheTTL   time.Duration
	Untangler  *links.Untangler
	Recorder   *links.Recorder
	Fetcher    Fetcher
	Logger     *slog.Logger
	Clock      func() time.Time
}

// DefaultConfig populates configuration from environment variables.
func DefaultConfig() Config {
	cfg := Config{
		IndexHTML: defaultIndexHTML,
		Markers:   dom.DefaultMarkers,
		Render:    defaultRenderOptions(),
		CacheTTL:  5 * time.Minute,
		Logger:    slog.Default(),
		Clock:     time.Now,
		SitesDir:  strings.TrimSpace(os.Getenv("SAFELINKS_SITES_DIR")),
	}
	if cfg.SitesDir == "" {
		cfg.SitesDir = defaultSitesDir
	}
	switch strings.ToLower(strings.TrimSpace(os.Getenv("SAFELINKS_PREVIEW"))) {
	case "1", "true", "on", "yes":
		cfg.Preview = true
	}
	return cfg
}

// Server exposes the HTTP handlers implementing the proxy behaviour.
type Server struct {
	cfg       Config
	router    chi.Router
	logger    *slog.Logger
	untangler *links.Untangler
	recorder  *links.Recorder
	fetcher   Fetcher
	cache     *pageCache
	sites     *siteConfigStore
	styles    string
	clock     func() time.Time
}

// New wires a new proxy server with the provided configuration.
func New(cfg Config) (*Server, error) {
	if cfg.IndexHTML == "" {
		cfg.IndexHTML = defaultIndexHTML
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.SitesDir == "" {
		cfg.SitesDir = defaultSitesDir
	}
	if cfg.Markers == (dom.Markers{}) {
		cfg.Markers = dom.DefaultMarkers
	}
	if cfg.Render.Timeout <= 0 {
		cfg.Render = defaultRenderOptions()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = links.NewRecorder(0)
	}
	if cfg.Untangler == nil {
		cfg.Untangler = links.New(
			links.WithLogger(cfg.Logger),
			links.WithRecorder(cfg.Recorder),
			links.WithClock(cfg.Clock),
		)
	}
	styles, err := ParseStylesheet(firstNonEmpty(cfg.Stylesheet, defaultStylesheet))
	if err != nil {
		return nil, err
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = newFetcher(cfg.Render, cfg.Logger)
	}
	s := &Server{
		cfg:       cfg,
		logger:    cfg.Logger,
		untangler: cfg.Untangler,
		recorder:  cfg.Recorder,
		fetcher:   cfg.Fetcher,
		cache:     newPageCache(cfg.CacheTTL, cfg.Clock),
		sites:     newSiteConfigStore(cfg.SitesDir, cfg.Logger),
		styles:    styles,
		clock:     cfg.Clock,
	}
	s.registerRoutes()
	return s, nil
}

// Handler exposes the HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler { return s }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close releases the headless browser, if one was started.
func (s *Server) Close() {
	if c, ok := s.fetcher.(interface{ Close() }); ok {
		c.Close()
	}
}

func (s *Server) registerRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(withLogging(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleRoot)
	r.Get("/ping", s.handlePing)
	r.Get("/untangle", s.handleUntangle)
	r.Get("/preview", s.handlePreview)
	r.Post("/clean", s.handleClean)
	r.Get("/fetch", s.handleFetch)
	r.Get("/diagnostics", s.handleDiagnostics)
	s.router = r
}
