package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"splitquery-repro/internal/config"
	"splitquery-repro/internal/reproapp"

	"github.com/spf13/pflag"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
	Commit  = "none"
)

const shutdownTimeout = 10 * time.Second

// errCasesFailed reports a completed run with failing cases.
var errCasesFailed = errors.New("regression cases failed")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if !errors.Is(err, errCasesFailed) && !errors.Is(err, pflag.ErrHelp) {
			slog.Error("repro error", slog.String("error", err.Error()))
		}
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := config.NewFlagSet("repro")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showVersion, _ := fs.GetBool("version"); showVersion {
		fmt.Fprintf(out, "splitquery-repro %s (%s)\n", Version, Commit)
		return nil
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = Version
	}

	validationResult := cfg.Validate()
	for _, warn := range validationResult.Warnings {
		slog.Warn("configuration warning",
			slog.String("field", warn.Field),
			slog.String("message", warn.Message),
			slog.String("hint", warn.Hint),
		)
	}
	if validationResult.HasErrors() {
		for _, err := range validationResult.Errors {
			slog.Error("configuration error",
				slog.String("field", err.Field),
				slog.String("message", err.Message),
				slog.String("hint", err.Hint),
			)
		}
		return fmt.Errorf("configuration validation failed")
	}

	logger, loggerProvider, err := reproapp.InitLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	app, err := reproapp.New(cfg, logger)
	if err != nil {
		if loggerProvider != nil {
			_ = loggerProvider.Shutdown(context.Background(), logger.Logger)
		}
		return err
	}
	app.AttachLoggerProvider(loggerProvider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = app.Shutdown(shutdownCtx)
	}()

	if err := app.Init(ctx); err != nil {
		return err
	}

	report, err := app.Run(ctx, out)
	if err != nil {
		return err
	}
	if !report.Passed() {
		logger.Error("regression detected",
			slog.Int("failed", report.Failed()),
			slog.Int("cases", len(report.Cases)),
		)
		return errCasesFailed
	}
	logger.Info("all cases passed", slog.Int("cases", len(report.Cases)))
	return nil
}
