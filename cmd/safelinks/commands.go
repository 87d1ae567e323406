package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"safelinks/cleaner"
	"safelinks/internal/config"
	"safelinks/internal/mcpserver"
	"safelinks/internal/watch"
)

func untangleCommand() *cli.Command {
	return &cli.Command{
		Name:      "untangle",
		Usage:     "Decode wrapped links given as arguments, or one per line on stdin",
		ArgsUsage: "[URL...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "detect",
				Aliases: []string{"d"},
				Usage:   "prefix each line with the detected format",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			u, _ := newUntangler(cfg, newLogger(cfg, os.Stderr, false))
			out := bufio.NewWriter(os.Stdout)
			defer out.Flush()

			emit := func(s string) {
				if cmd.Bool("detect") {
					fmt.Fprintf(out, "%s\t", u.Detect(s))
				}
				fmt.Fprintln(out, u.Untangle(s))
			}
			if args := cmd.Args().Slice(); len(args) > 0 {
				for _, a := range args {
					emit(a)
				}
				return nil
			}
			sc := bufio.NewScanner(os.Stdin)
			sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
			for sc.Scan() {
				emit(sc.Text())
			}
			return sc.Err()
		},
	}
}

func cleanCommand() *cli.Command {
	return &cli.Command{
		Name:      "clean",
		Usage:     "Rewrite wrapped links in an HTML file (or stdin) and print the result",
		ArgsUsage: "[FILE]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "preview",
				Usage: "list the destinations of links left wrapped in the compose region",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "write to `FILE` instead of stdout",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg, os.Stderr, false)

			var in io.Reader = os.Stdin
			if path := cmd.Args().First(); path != "" && path != "-" {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			var out io.Writer = os.Stdout
			if path := cmd.String("output"); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}

			preview := cfg.Preview.Enabled || cmd.Bool("preview")
			res, err := cleaner.Clean(in, out, cleanOptions(cfg, logger, preview)...)
			if err != nil {
				return err
			}
			logger.Info("cleaned", slog.Int("anchors", res.Anchors), slog.Int("texts", res.Texts))
			return nil
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Keep the .html, .htm and .txt files in a directory free of wrapped links",
		ArgsUsage: "[DIR]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			dir := cfg.Watch.Dir
			if a := cmd.Args().First(); a != "" {
				dir = a
			}
			if dir == "" {
				return fmt.Errorf("watch: no directory given and watch.dir is not set")
			}
			logger := newLogger(cfg, os.Stderr, false)
			u, _ := newUntangler(cfg, logger)
			w, err := watch.New(watch.Config{
				Dir:       dir,
				Debounce:  cfg.Watch.Debounce,
				Logger:    logger,
				Untangler: u,
				Clean:     cleanOptions(cfg, logger, cfg.Preview.Enabled),
			})
			if err != nil {
				return err
			}
			return w.Run(ctx)
		},
	}
}

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the decoder as MCP tools over stdio",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			// stdout carries the protocol.
			logger := newLogger(cfg, os.Stderr, true)
			u, _ := newUntangler(cfg, logger)
			return mcpserver.New(u, cfg.Markers.Markers(), logger, version).ServeStdio()
		},
	}
}

func cleanOptions(cfg *config.Config, logger *slog.Logger, preview bool) []cleaner.Option {
	opts := []cleaner.Option{
		cleaner.WithMarkers(cfg.Markers.Markers()),
		cleaner.WithLogger(logger),
	}
	if preview {
		opts = append(opts, cleaner.WithPreview(cfg.Preview.Attribute))
	}
	return opts
}
