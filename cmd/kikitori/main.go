package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	audioimpl "github.com/foxseedlab/kikitori/external/audio"
	configloader "github.com/foxseedlab/kikitori/external/config"
	"github.com/foxseedlab/kikitori/external/discord"
	metricsimpl "github.com/foxseedlab/kikitori/external/metrics"
	publisherimpl "github.com/foxseedlab/kikitori/external/publisher"
	repositoryimpl "github.com/foxseedlab/kikitori/external/repository"
	sinkimpl "github.com/foxseedlab/kikitori/external/sink"
	transcriberimpl "github.com/foxseedlab/kikitori/external/transcriber"
	webhookimpl "github.com/foxseedlab/kikitori/external/webhook"
	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/session"
	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/samber/do/v2"
)

const (
	exitOK = iota
	exitStartup
	exitFailed
	exitDeadline
)

func main() {
	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env, "mode", cfg.Mode)

	os.Exit(run(cfg))
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load(os.Args[1:])
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(exitStartup)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	audioimpl.RegisterDI(injector)
	sinkimpl.RegisterDI(injector)
	repositoryimpl.RegisterDI(injector)
	metricsimpl.RegisterDI(injector)
	publisherimpl.RegisterDI(injector)
	discord.RegisterDI(injector)
	transcriberimpl.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	session.RegisterDI(injector)

	return injector
}

func run(cfg *config.Config) int {
	if cfg.Mode == config.ModeTTS {
		slog.Error("unsupported mode", "mode", cfg.Mode, "error", config.ErrSynthesisUnsupported)
		return exitStartup
	}

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)
	defer func() {
		if report := injector.Shutdown(); report != nil && !report.Succeed {
			slog.Warn("dependency shutdown reported errors", "error", report.Error())
		}
	}()

	src, err := do.Invoke[audio.Source](injector)
	if err != nil {
		slog.Error("failed to resolve audio source", "error", err)
		return exitStartup
	}
	payload, err := src.Load(cfg.InputFile, cfg.AudioFormat)
	if err != nil {
		slog.Error("failed to load input audio", "error", err, "path", cfg.InputFile)
		return exitStartup
	}
	ctrl, err := do.Invoke[*session.Controller](injector)
	if err != nil {
		slog.Error("failed to resolve session controller", "error", err)
		return exitStartup
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sum, err := ctrl.Run(ctx, session.Request{
		Audio: payload,
		Config: transcriber.SessionConfig{
			Language:          cfg.Language,
			Model:             cfg.Model,
			Format:            payload.Format,
			SampleRateHertz:   cfg.SampleRateHertz,
			AudioChannelCount: cfg.AudioChannelCount,
		},
	})
	if sum != nil {
		slog.Info("outputs written",
			"trace", sum.Outputs.Trace,
			"final", sum.Outputs.Final,
			"partial", sum.Outputs.Partial,
			"cancelled", sum.Cancelled)
	}
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, transcriber.ErrDeadlineExceeded):
		slog.Error("recognition deadline exceeded", "error", err)
		return exitDeadline
	default:
		slog.Error("recognition failed", "error", err)
		return exitFailed
	}
}
