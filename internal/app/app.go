// Package app assembles the codebook services from a Config so the server,
// exporter and MCP commands share one wiring.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/euforicio/codebook/internal/config"
	"github.com/euforicio/codebook/internal/content"
	"github.com/euforicio/codebook/internal/exporter"
	"github.com/euforicio/codebook/internal/pipeline"
	"github.com/euforicio/codebook/internal/renderer"
	"github.com/euforicio/codebook/internal/renderer/d2"
	"github.com/euforicio/codebook/internal/server"
	"github.com/euforicio/codebook/internal/toolchain"
)

// App holds the long-lived services built from one configuration.
type App struct {
	Config   config.Config
	Logger   *slog.Logger
	Profile  *toolchain.Profile
	Pipeline *pipeline.Pipeline
	Registry *prometheus.Registry
	Renderer *renderer.Service
	Exporter *exporter.Exporter
}

// Options toggle the optional pieces.
type Options struct {
	// Executor replaces the os/exec process runner, mainly for tests.
	Executor pipeline.Executor
	// NoDiagrams leaves d2 fences as code blocks.
	NoDiagrams bool
}

// NewLogger returns the text logger every command uses. Verbose lowers the
// level from warn to info.
func NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})).With("app", "codebook")
}

// New loads the toolchain profile and builds the pipeline, metrics registry,
// renderer and exporter. cfg must already be finalized.
func New(cfg config.Config, logger *slog.Logger, opts Options) (*App, error) {
	profile := toolchain.Default()
	if cfg.ToolchainFile != "" {
		loaded, err := toolchain.Load(cfg.ToolchainFile)
		if err != nil {
			return nil, err
		}
		profile = loaded
	}

	ws, err := pipeline.NewWorkspace(cfg.WorkspaceMode, cfg.WorkspaceDir)
	if err != nil {
		return nil, fmt.Errorf("init workspace: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	runner := pipeline.New(profile, pipeline.Options{
		Workspace:      ws,
		Executor:       opts.Executor,
		Metrics:        pipeline.NewMetrics(reg),
		Logger:         logger,
		MaxConcurrent:  cfg.MaxConcurrent,
		MaxOutput:      cfg.MaxOutputBytes,
		CompileTimeout: cfg.CompileTimeout,
		RunTimeout:     cfg.RunTimeout,
	})

	var (
		renderOpts = renderer.Options{Runnable: profile.Language}
		diagrams   exporter.DiagramRenderer
	)
	if !opts.NoDiagrams {
		d2r := d2.New(logger, d2.Options{})
		renderOpts.Diagrams = d2r
		diagrams = d2r
	}
	renderSvc := renderer.NewService(logger, renderOpts)

	exp, err := exporter.New(logger, exporter.Config{
		Renderer: renderSvc,
		Diagrams: diagrams,
		Runner:   runner,
		Language: profile.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("init exporter: %w", err)
	}

	logger.Info("toolchain ready",
		slog.String("toolchain", profile.Name),
		slog.String("workspace", cfg.WorkspaceMode),
		slog.Int("max_concurrent", cfg.MaxConcurrent))

	return &App{
		Config:   cfg,
		Logger:   logger,
		Profile:  profile,
		Pipeline: runner,
		Registry: reg,
		Renderer: renderSvc,
		Exporter: exp,
	}, nil
}

// OpenContent scans the chapter root. watch starts live reload.
func (a *App) OpenContent(ctx context.Context, watch bool) (*content.Service, error) {
	svc, err := content.NewService(ctx, a.Config.ChaptersDir, a.Renderer, a.Logger, content.Options{Watch: watch})
	if err != nil {
		return nil, fmt.Errorf("content service init failed: %w", err)
	}
	return svc, nil
}

// Server builds the HTTP server over contentSvc.
func (a *App) Server(contentSvc *content.Service) (*server.Server, error) {
	return server.New(a.Config, a.Logger, server.Deps{
		Content:  contentSvc,
		Runner:   a.Pipeline,
		Exporter: a.Exporter,
		Metrics:  a.Registry,
	})
}
