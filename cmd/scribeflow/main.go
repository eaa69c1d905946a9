package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pokoscribe/scribeflow/internal/config"
	"github.com/pokoscribe/scribeflow/internal/services"
)

func main() {
	var (
		configPath = flag.String("config", config.GetEnv("SCRIBEFLOW_CONFIG", ""), "path to a YAML config file")
		class      = flag.String("class", config.ClassSummarizer, "document class to run")
		source     = flag.String("source", "", "source file for a file-mode class (overrides the configured one)")
	)
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *class, *source); err != nil {
		slog.Error("Run failed", "class", *class, "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, class, source string) error {
	pl, err := services.NewPipeline(ctx, cfg, class)
	if err != nil {
		return fmt.Errorf("failed to initialize %s: %w", class, err)
	}
	defer func() {
		if err := pl.Close(); err != nil {
			slog.Warn("Failed to close clients", "error", err)
		}
	}()

	summary, err := pl.Run(ctx, source)
	slog.Info("Class finished",
		"class", class,
		"session", summary.SessionID,
		"completed", len(summary.Completed),
		"failed", len(summary.Failed),
		"output", summary.OutputFile)
	return err
}
