// Package main serves the codebook chapters and runner over MCP on stdio.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/pflag"

	"github.com/euforicio/codebook/internal/app"
	"github.com/euforicio/codebook/internal/buildinfo"
	"github.com/euforicio/codebook/internal/config"
	codebookmcp "github.com/euforicio/codebook/internal/mcp"
)

func main() {
	cfg := config.Default()
	config.ApplyEnvOverrides(&cfg)

	flags := pflag.NewFlagSet("codebook-mcp", pflag.ExitOnError)
	config.RegisterFlags(flags, &cfg)
	if err := flags.Parse(os.Args[1:]); err != nil {
		slog.Error("parse flags", slog.Any("err", err))
		os.Exit(1)
	}
	if err := config.Finalize(&cfg); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	// stdout carries the protocol
	logger := app.NewLogger(os.Stderr, cfg.Verbose)
	slog.SetDefault(logger)
	logger.Info("starting codebook-mcp", slog.String("version", buildinfo.Summary()))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfg, logger, app.Options{NoDiagrams: true})
	if err != nil {
		cancel()
		logger.Error("init failed", slog.Any("err", err))
		//nolint:gocritic // exitAfterDefer: cancel() explicitly called before os.Exit
		os.Exit(1)
	}
	contentSvc, err := a.OpenContent(ctx, true)
	if err != nil {
		cancel()
		logger.Error("content service init failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := contentSvc.Close(); err != nil {
			logger.Error("close content service", slog.Any("err", err))
		}
	}()

	server := codebookmcp.NewServer(contentSvc, a.Pipeline, codebookmcp.Options{
		Logger:    logger,
		MaxSource: cfg.MaxSourceBytes,
	})
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("mcp server stopped", slog.Any("err", err))
		os.Exit(1)
	}
}
