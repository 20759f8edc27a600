// Package d2 compiles D2 diagram sources (class and sequence diagrams in chapters) to SVG.
package d2

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"oss.terrastruct.com/d2/d2graph"
	"oss.terrastruct.com/d2/d2layouts/d2dagrelayout"
	"oss.terrastruct.com/d2/d2layouts/d2elklayout"
	"oss.terrastruct.com/d2/d2lib"
	"oss.terrastruct.com/d2/d2renderers/d2svg"
	"oss.terrastruct.com/d2/d2themes/d2themescatalog"
	d2log "oss.terrastruct.com/d2/lib/log"
	"oss.terrastruct.com/d2/lib/textmeasure"
)

// ErrEmptyDiagram is returned for a blank diagram body.
var ErrEmptyDiagram = errors.New("empty d2 diagram")

// Result is one compiled diagram.
type Result struct {
	SVG      string
	Duration time.Duration
}

// Options configure a Renderer. Zero values select dagre, a 10s budget and
// the neutral light theme (ID 0) paired with the dark flagship theme.
type Options struct {
	Layout      string
	Timeout     time.Duration
	ThemeID     int64
	DarkThemeID int64
}

// Renderer compiles D2 in-process.
type Renderer struct {
	logger *slog.Logger
	opts   Options
}

// New returns a renderer. A nil logger falls back to slog.Default.
func New(logger *slog.Logger, opts Options) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Layout == "" {
		opts.Layout = "dagre"
	}
	if opts.DarkThemeID == 0 {
		opts.DarkThemeID = d2themescatalog.DarkFlagshipTerrastruct.ID
	}
	return &Renderer{logger: logger.With("component", "d2"), opts: opts}
}

// Render compiles source to SVG. Layout directives inside the diagram win over Options.Layout.
func (r *Renderer) Render(ctx context.Context, source string) (Result, error) {
	if strings.TrimSpace(source) == "" {
		return Result{}, ErrEmptyDiagram
	}

	ctx = d2log.With(ctx, r.logger)
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	ruler, err := textmeasure.NewRuler()
	if err != nil {
		return Result{}, fmt.Errorf("init ruler: %w", err)
	}

	themeID := r.opts.ThemeID
	darkThemeID := r.opts.DarkThemeID
	pad := int64(d2svg.DEFAULT_PADDING)
	renderOpts := &d2svg.RenderOpts{
		ThemeID:     &themeID,
		DarkThemeID: &darkThemeID,
		Pad:         &pad,
	}

	start := time.Now()
	diagram, _, err := d2lib.Compile(ctx, source, &d2lib.CompileOptions{
		Ruler:          ruler,
		LayoutResolver: r.resolveLayout,
	}, renderOpts)
	if err != nil {
		return Result{}, fmt.Errorf("compile d2: %w", err)
	}
	if diagram == nil {
		return Result{}, errors.New("d2 compiler returned no diagram")
	}

	svg, err := d2svg.Render(diagram, renderOpts)
	if err != nil {
		return Result{}, fmt.Errorf("render svg: %w", err)
	}
	return Result{SVG: string(svg), Duration: time.Since(start)}, nil
}

func (r *Renderer) resolveLayout(engine string) (d2graph.LayoutGraph, error) {
	if engine == "" {
		engine = r.opts.Layout
	}
	switch strings.ToLower(engine) {
	case "dagre":
		return func(ctx context.Context, g *d2graph.Graph) error {
			return d2dagrelayout.Layout(ctx, g, nil)
		}, nil
	case "elk":
		return func(ctx context.Context, g *d2graph.Graph) error {
			return d2elklayout.Layout(ctx, g, nil)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported d2 layout %q", engine)
	}
}
