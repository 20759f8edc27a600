// Package main provides the codebook static site export CLI.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/euforicio/codebook/internal/app"
	"github.com/euforicio/codebook/internal/buildinfo"
	"github.com/euforicio/codebook/internal/config"
	"github.com/euforicio/codebook/internal/exporter"
	"github.com/euforicio/codebook/internal/pipeline"
)

func main() {
	cfg := config.Default()
	config.ApplyEnvOverrides(&cfg)

	flags := pflag.NewFlagSet("codebook-export", pflag.ExitOnError)
	flags.StringVarP(&cfg.ChaptersDir, "root", "r", cfg.ChaptersDir, "root directory containing markdown chapters to export")
	flags.StringVar(&cfg.StaticOutput, "out", cfg.StaticOutput, "output directory for generated static site")
	flags.StringVar(&cfg.AssetsDir, "assets", cfg.AssetsDir, "directory containing prepared static assets to copy")
	flags.StringVar(&cfg.ToolchainFile, "toolchain", cfg.ToolchainFile, "YAML toolchain profile used by --run-samples")
	flags.StringVar(&cfg.WorkspaceDir, "workspace-dir", cfg.WorkspaceDir, "root for per-run directories used by --run-samples")

	includeHidden := flags.Bool("hidden", false, "include hidden files when scanning the chapter tree")
	title := flags.String("title", buildinfo.Name, "site title to use for exported pages")
	darkMode := flags.Bool("dark", cfg.DarkModeFirst, "enable dark mode by default in the exported site")
	runSamples := flags.Bool("run-samples", false, "compile and run each chapter's starter code and embed the report")
	noDiagrams := flags.Bool("no-diagrams", false, "leave d2 fences as code blocks")
	clean := true
	flags.BoolVar(&clean, "clean", true, "wipe the output directory before exporting")
	assetPrefix := flags.String("asset-prefix", "assets", "relative directory name for copied assets within the export output")
	baseURL := flags.String("base-url", "", "optional absolute base URL for canonical link tags")
	verbose := flags.BoolP("verbose", "v", false, "log every exported chapter and sample run")

	if err := flags.Parse(os.Args[1:]); err != nil {
		slog.Error("flag parsing failed", slog.Any("err", err))
		os.Exit(1)
	}

	// exports never share the server's working file
	cfg.WorkspaceMode = pipeline.ModeIsolated
	if err := config.Finalize(&cfg); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})).With("app", "codebook-export")
	slog.SetDefault(logger)
	logger.Info("starting codebook-export", slog.String("version", buildinfo.Summary()))

	assetsOverride := ""
	if flags.Changed("assets") {
		assetsOverride = cfg.AssetsDir
	}

	a, err := app.New(cfg, logger, app.Options{NoDiagrams: *noDiagrams})
	if err != nil {
		logger.Error("init exporter failed", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.Exporter.Export(ctx, exporter.Options{
		Root:          cfg.ChaptersDir,
		OutputDir:     cfg.StaticOutput,
		AssetsDir:     assetsOverride,
		IncludeHidden: *includeHidden,
		SiteTitle:     *title,
		DarkModeFirst: *darkMode,
		CleanOutput:   clean,
		AssetPrefix:   *assetPrefix,
		BaseURL:       *baseURL,
		RunSamples:    *runSamples,
	}); err != nil {
		cancel()
		logger.Error("export failed", slog.Any("err", err))
		//nolint:gocritic // exitAfterDefer: cancel() explicitly called before os.Exit
		os.Exit(1)
	}

	logger.Info("export succeeded", slog.String("output", cfg.StaticOutput))
}
