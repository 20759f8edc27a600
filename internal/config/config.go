// Package config assembles codebook settings from defaults, CODEBOOK_* environment variables and flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/euforicio/codebook/internal/editor"
	"github.com/euforicio/codebook/internal/pipeline"
)

const envPrefix = "CODEBOOK_"

// Config holds runtime configuration for the server, exporter and MCP tool.
type Config struct {
	ChaptersDir    string
	StaticOutput   string
	AssetsDir      string
	ToolchainFile  string
	WorkspaceMode  string
	WorkspaceDir   string
	EditorTheme    string
	EditorKeys     string
	AllowedOrigins []string
	CompileTimeout time.Duration
	RunTimeout     time.Duration
	Port           int
	MaxOutputBytes int
	MaxSourceBytes int64
	MaxConcurrent  int
	AutoOpen       bool
	DarkModeFirst  bool
	Metrics        bool
	Verbose        bool
}

// Default returns ready-to-use defaults prior to env/flag overrides.
func Default() Config {
	return Config{
		ChaptersDir:    "chapters",
		Port:           0, // 0 = auto-select random available port
		AutoOpen:       true,
		DarkModeFirst:  true,
		StaticOutput:   "dist",
		WorkspaceMode:  pipeline.ModeIsolated,
		EditorTheme:    editor.DefaultTheme,
		EditorKeys:     editor.DefaultKeybinding,
		MaxOutputBytes: pipeline.DefaultMaxOutput,
		MaxSourceBytes: 256 << 10,
		MaxConcurrent:  pipeline.DefaultMaxConcurrent,
		Metrics:        true,
	}
}

// RegisterFlags attaches configuration flags to the provided FlagSet.
func RegisterFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVarP(&cfg.ChaptersDir, "root", "r", cfg.ChaptersDir, "directory containing markdown chapters")
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "port to bind the HTTP server (0 = auto-assign)")
	fs.BoolVar(&cfg.AutoOpen, "auto-open", cfg.AutoOpen, "open the browser automatically after start")
	fs.BoolVar(&cfg.DarkModeFirst, "dark", cfg.DarkModeFirst, "enable dark theme by default")
	fs.StringVar(&cfg.StaticOutput, "out", cfg.StaticOutput, "default output directory for static export")
	fs.StringVar(&cfg.AssetsDir, "assets", cfg.AssetsDir, "serve frontend assets from this directory instead of the embedded copy")
	fs.StringVar(&cfg.ToolchainFile, "toolchain", cfg.ToolchainFile, "YAML toolchain profile (default: built-in javac/java)")
	fs.StringVar(&cfg.WorkspaceMode, "workspace", cfg.WorkspaceMode, "workspace mode: isolated or shared")
	fs.StringVar(&cfg.WorkspaceDir, "workspace-dir", cfg.WorkspaceDir, "run directory root (isolated) or working directory (shared)")
	fs.DurationVar(&cfg.CompileTimeout, "compile-timeout", cfg.CompileTimeout, "compiler wall-clock limit (0 = profile value)")
	fs.DurationVar(&cfg.RunTimeout, "run-timeout", cfg.RunTimeout, "program wall-clock limit (0 = profile value)")
	fs.IntVar(&cfg.MaxOutputBytes, "max-output", cfg.MaxOutputBytes, "bytes captured per output stream")
	fs.Int64Var(&cfg.MaxSourceBytes, "max-source", cfg.MaxSourceBytes, "largest accepted submission in bytes")
	fs.IntVar(&cfg.MaxConcurrent, "max-concurrent", cfg.MaxConcurrent, "concurrent pipeline runs")
	fs.StringVar(&cfg.EditorTheme, "editor-theme", cfg.EditorTheme, "default editor theme")
	fs.StringVar(&cfg.EditorKeys, "editor-keybinding", cfg.EditorKeys, "default editor keybinding")
	fs.StringSliceVar(&cfg.AllowedOrigins, "allow-origin", cfg.AllowedOrigins, "extra origin allowed to POST runs (repeatable)")
	fs.BoolVar(&cfg.Metrics, "metrics", cfg.Metrics, "serve Prometheus metrics on /metrics")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "enable verbose logging (HTTP requests, runs)")
}

// ApplyEnvOverrides reads supported environment variables and overrides cfg in place.
func ApplyEnvOverrides(cfg *Config) {
	applyStringEnv("ROOT", func(v string) { cfg.ChaptersDir = v })
	applyIntEnv("PORT", func(v int) { cfg.Port = v })
	applyBoolEnv("AUTO_OPEN", func(v bool) { cfg.AutoOpen = v })
	applyBoolEnv("DARK", func(v bool) { cfg.DarkModeFirst = v })
	applyStringEnv("OUT", func(v string) { cfg.StaticOutput = v })
	applyStringEnv("ASSETS", func(v string) { cfg.AssetsDir = v })
	applyStringEnv("TOOLCHAIN", func(v string) { cfg.ToolchainFile = v })
	applyStringEnv("WORKSPACE", func(v string) { cfg.WorkspaceMode = v })
	applyStringEnv("WORKSPACE_DIR", func(v string) { cfg.WorkspaceDir = v })
	applyDurationEnv("COMPILE_TIMEOUT", func(v time.Duration) { cfg.CompileTimeout = v })
	applyDurationEnv("RUN_TIMEOUT", func(v time.Duration) { cfg.RunTimeout = v })
	applyIntEnv("MAX_OUTPUT", func(v int) { cfg.MaxOutputBytes = v })
	applyIntEnv("MAX_SOURCE", func(v int) { cfg.MaxSourceBytes = int64(v) })
	applyIntEnv("MAX_CONCURRENT", func(v int) { cfg.MaxConcurrent = v })
	applyStringEnv("EDITOR_THEME", func(v string) { cfg.EditorTheme = v })
	applyStringEnv("EDITOR_KEYBINDING", func(v string) { cfg.EditorKeys = v })
	applyStringEnv("ALLOW_ORIGINS", func(v string) { cfg.AllowedOrigins = splitList(v) })
	applyBoolEnv("METRICS", func(v bool) { cfg.Metrics = v })
	applyBoolEnv("VERBOSE", func(v bool) { cfg.Verbose = v })
}

func applyStringEnv(key string, apply func(string)) {
	if raw, ok := lookupNonEmpty(key); ok {
		apply(raw)
	}
}

func applyIntEnv(key string, apply func(int)) {
	if raw, ok := lookupNonEmpty(key); ok {
		if value, err := strconv.Atoi(raw); err == nil {
			apply(value)
		}
	}
}

func applyBoolEnv(key string, apply func(bool)) {
	if raw, ok := lookupNonEmpty(key); ok {
		if value, err := strconv.ParseBool(raw); err == nil {
			apply(value)
		}
	}
}

func applyDurationEnv(key string, apply func(time.Duration)) {
	if raw, ok := lookupNonEmpty(key); ok {
		if value, err := time.ParseDuration(raw); err == nil {
			apply(value)
		}
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func lookupNonEmpty(key string) (string, bool) {
	raw, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return "", false
	}
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", false
	}
	return value, true
}

// Finalize validates and normalizes paths.
func Finalize(cfg *Config) error {
	root, err := filepath.Abs(cfg.ChaptersDir)
	if err != nil {
		return fmt.Errorf("resolve chapters directory: %w", err)
	}
	cfg.ChaptersDir = root

	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Port)
	}

	if cfg.StaticOutput == "" {
		cfg.StaticOutput = "dist"
	}

	if cfg.AssetsDir != "" {
		assets, err := filepath.Abs(cfg.AssetsDir)
		if err != nil {
			return fmt.Errorf("resolve assets directory: %w", err)
		}
		cfg.AssetsDir = assets
	}

	if cfg.ToolchainFile != "" {
		abs, err := filepath.Abs(cfg.ToolchainFile)
		if err != nil {
			return fmt.Errorf("resolve toolchain file: %w", err)
		}
		cfg.ToolchainFile = abs
	}

	cfg.WorkspaceMode = strings.ToLower(strings.TrimSpace(cfg.WorkspaceMode))
	switch cfg.WorkspaceMode {
	case "":
		cfg.WorkspaceMode = pipeline.ModeIsolated
	case pipeline.ModeIsolated, pipeline.ModeShared:
	default:
		return fmt.Errorf("invalid workspace mode %q (want %s or %s)", cfg.WorkspaceMode, pipeline.ModeIsolated, pipeline.ModeShared)
	}
	if cfg.WorkspaceDir != "" {
		abs, err := filepath.Abs(cfg.WorkspaceDir)
		if err != nil {
			return fmt.Errorf("resolve workspace directory: %w", err)
		}
		cfg.WorkspaceDir = abs
	} else if cfg.WorkspaceMode == pipeline.ModeShared {
		// the baseline layout: Main.java next to the process
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve workspace directory: %w", err)
		}
		cfg.WorkspaceDir = wd
	}

	if cfg.CompileTimeout < 0 || cfg.RunTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = pipeline.DefaultMaxOutput
	}
	if cfg.MaxSourceBytes <= 0 {
		return fmt.Errorf("invalid max source size: %d", cfg.MaxSourceBytes)
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = pipeline.DefaultMaxConcurrent
	}

	if !editor.ValidTheme(cfg.EditorTheme) {
		return fmt.Errorf("unknown editor theme %q", cfg.EditorTheme)
	}
	if !editor.ValidKeybinding(cfg.EditorKeys) {
		return fmt.Errorf("unknown editor keybinding %q", cfg.EditorKeys)
	}
	return nil
}
