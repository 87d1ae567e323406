package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"safelinks/internal/config"
	"safelinks/links"
)

var version = "dev"

func main() {
	cmd := &cli.Command{
		Name:    "safelinks",
		Usage:   "Restore the original destination of Safe Links and URL Defense wrapped links",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "built-in defaults",
				Sources:     cli.EnvVars("SAFELINKS_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			untangleCommand(),
			cleanCommand(),
			watchCommand(),
			mcpCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. Services log JSON to stdout; the
// one-shot commands log text to stderr so their output stays clean.
func newLogger(cfg *config.Config, w io.Writer, json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var h slog.Handler
	if json {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

func newUntangler(cfg *config.Config, logger *slog.Logger) (*links.Untangler, *links.Recorder) {
	rec := links.NewRecorder(cfg.Diagnostics.Capacity)
	return links.New(links.WithLogger(logger), links.WithRecorder(rec)), rec
}
