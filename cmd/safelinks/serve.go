package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"safelinks/internal/config"
	"safelinks/internal/proxy"
	"safelinks/internal/watch"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the cleaning proxy, plus the directory watcher when watch.dir is set",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "listen address, e.g. :8080 or 127.0.0.1:8080 (overrides http.addr)",
			},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	addr := cfg.HTTP.Addr
	if a := cmd.String("addr"); a != "" {
		addr = a
	}
	if env := os.Getenv("PORT"); env != "" {
		addr = ":" + env
	}

	logger := newLogger(cfg, os.Stdout, true)
	untangler, recorder := newUntangler(cfg, logger)
	logger.Info("Configuration loaded",
		slog.String("http_address", addr),
		slog.String("sites_dir", cfg.SitesDir),
		slog.String("watch_dir", cfg.Watch.Dir),
		slog.Bool("preview", cfg.Preview.Enabled),
		slog.String("log_level", cfg.LogLevel.String()))

	stylesheet, err := readStylesheet(cfg)
	if err != nil {
		return err
	}
	srv, err := proxy.New(proxy.Config{
		SitesDir:    cfg.SitesDir,
		Markers:     cfg.Markers.Markers(),
		Preview:     cfg.Preview.Enabled,
		PreviewAttr: cfg.Preview.Attribute,
		Stylesheet:  stylesheet,
		Render: proxy.RenderOptions{
			JS:           cfg.Render.JS,
			Timeout:      cfg.Render.Timeout,
			WaitSelector: cfg.Render.WaitSelector,
			UserAgent:    cfg.Render.UserAgent,
		},
		CacheTTL:  cfg.Cache.TTL,
		Untangler: untangler,
		Recorder:  recorder,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("init proxy: %w", err)
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
		// Conservative timeouts to avoid slowloris and leaked connections blocking the server
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Render.Timeout + time.Minute,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Watch.Dir != "" {
		w, err := watch.New(watch.Config{
			Dir:       cfg.Watch.Dir,
			Debounce:  cfg.Watch.Debounce,
			Logger:    logger,
			Untangler: untangler,
			Clean:     cleanOptions(cfg, logger, cfg.Preview.Enabled),
		})
		if err != nil {
			return fmt.Errorf("init watcher: %w", err)
		}
		g.Go(func() error {
			return w.Run(gCtx)
		})
	}

	g.Go(func() error {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		logger.Info("Starting HTTP server", slog.String("address", ln.Addr().String()))
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped successfully")
	return nil
}

func readStylesheet(cfg *config.Config) (string, error) {
	if cfg.Preview.Stylesheet == "" {
		return "", nil
	}
	data, err := os.ReadFile(cfg.Preview.Stylesheet)
	if err != nil {
		return "", fmt.Errorf("read preview stylesheet: %w", err)
	}
	return string(data), nil
}
