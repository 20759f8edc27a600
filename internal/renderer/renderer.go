// Package renderer turns chapter markdown into HTML and chapter metadata.
package renderer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	goldmarkmeta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	gmrenderer "github.com/yuin/goldmark/renderer"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
	"go.abhg.dev/goldmark/anchor"

	"github.com/euforicio/codebook/internal/renderer/transform"
)

// Metadata is the chapter frontmatter.
type Metadata struct {
	Raw         map[string]any
	Title       string
	Description string
	Starter     string
	Tags        []string
	Order       int
	HasOrder    bool
}

// IsZero reports whether the metadata carries any meaningful values.
func (m Metadata) IsZero() bool {
	if m.Title != "" || m.Description != "" || m.Starter != "" || m.HasOrder || len(m.Tags) > 0 {
		return false
	}
	return len(m.Raw) == 0
}

// Sample is a fenced code block found in a chapter.
type Sample struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// Document is a rendered chapter.
//
//nolint:govet // field order optimized for readability, not memory
type Document struct {
	HTML     string
	Metadata Metadata
	Samples  []Sample
	Modified time.Time
	Raw      string
}

// SamplesIn returns the samples written in lang.
func (d Document) SamplesIn(lang string) []Sample {
	lang = strings.ToLower(lang)
	var out []Sample
	for _, s := range d.Samples {
		if s.Language == lang {
			out = append(out, s)
		}
	}
	return out
}

// Options configure a Service.
type Options struct {
	// Diagrams compiles ```d2 fences. Nil leaves them as code blocks.
	Diagrams transform.DiagramRenderer
	// Runnable marks fences in this language as loadable into the editor.
	Runnable string
	// Style is the chroma style name; highlighting emits classes either way.
	Style string
}

type cacheEntry struct {
	modTime time.Time
	doc     Document
}

// Service renders chapters, caching by path and modification time.
type Service struct {
	md     goldmark.Markdown
	logger *slog.Logger
	cache  sync.Map // path -> cacheEntry
}

var (
	chapterPathKey = parser.NewContextKey()
	samplesKey     = parser.NewContextKey()
)

// NewService constructs the chapter renderer: GFM, YAML frontmatter, chroma
// highlighting with CSS classes, heading anchors, mermaid and d2 fences, and
// /chapter/ + /media/ link rewriting. Raw HTML in chapters is passed through.
func NewService(logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "renderer")
	style := opts.Style
	if style == "" {
		style = "github-dark"
	}

	highlight := highlighting.NewHighlighting(
		highlighting.WithStyle(style),
		highlighting.WithFormatOptions(
			html.WithLineNumbers(false),
			html.WithClasses(true),
		),
		highlighting.WithWrapperRenderer(transform.FenceWrapper(opts.Runnable)),
	)

	transformers := []util.PrioritizedValue{
		util.Prioritized(&chapterLinks{}, 100),
		util.Prioritized(&sampleCollector{}, 200),
	}
	var nodeRenderers []util.PrioritizedValue
	if opts.Diagrams != nil {
		transformers = append(transformers, util.Prioritized(transform.NewD2Transformer(opts.Diagrams, logger), 300))
		nodeRenderers = append(nodeRenderers, util.Prioritized(transform.D2BlockRenderer{}, 100))
	}

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			goldmarkmeta.Meta,
			highlight,
			&anchor.Extender{Position: anchor.After},
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
			parser.WithAttribute(),
			parser.WithASTTransformers(transformers...),
		),
		goldmark.WithRendererOptions(
			htmlrenderer.WithUnsafe(),
			htmlrenderer.WithXHTML(),
			gmrenderer.WithNodeRenderers(nodeRenderers...),
		),
	)

	return &Service{md: md, logger: logger}
}

// Render converts a chapter to HTML. A cached document is returned when modTime matches.
func (s *Service) Render(_ context.Context, relPath string, modTime time.Time, content []byte) (Document, error) {
	if entry, ok := s.cache.Load(relPath); ok {
		if cached, ok := entry.(cacheEntry); ok && !cached.modTime.IsZero() && modTime.Equal(cached.modTime) {
			return cached.doc, nil
		}
	}

	pc := parser.NewContext()
	pc.Set(chapterPathKey, relPath)
	var buf bytes.Buffer
	if err := s.md.Convert(content, &buf, parser.WithContext(pc)); err != nil {
		return Document{}, fmt.Errorf("render markdown: %w", err)
	}

	doc := Document{
		HTML:     buf.String(),
		Metadata: extractMetadata(pc),
		Modified: modTime,
		Raw:      string(content),
	}
	if samples, ok := pc.Get(samplesKey).([]Sample); ok {
		doc.Samples = samples
	}

	s.cache.Store(relPath, cacheEntry{modTime: modTime, doc: doc})
	return doc, nil
}

// Invalidate drops the cached render of relPath.
func (s *Service) Invalidate(relPath string) {
	s.cache.Delete(relPath)
}

// chapterLinks rewrites relative .md links to /chapter/ routes and relative
// images to /media/, resolved against the current chapter's directory.
type chapterLinks struct{}

func (t *chapterLinks) Transform(node *ast.Document, _ text.Reader, pc parser.Context) {
	current, _ := pc.Get(chapterPathKey).(string)
	dir := path.Dir(current)

	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch typed := n.(type) {
		case *ast.Link:
			dest := string(typed.Destination)
			target, anchorPart, _ := strings.Cut(dest, "#")
			if skipLink(dest) || strings.HasPrefix(dest, "/chapter/") || !strings.HasSuffix(target, ".md") {
				break
			}
			rewritten := "/chapter/" + resolve(target, dir)
			if anchorPart != "" {
				rewritten += "#" + anchorPart
			}
			typed.Destination = []byte(rewritten)
		case *ast.Image:
			dest := string(typed.Destination)
			if skipLink(dest) || strings.HasPrefix(dest, "/media/") || strings.HasPrefix(dest, "/static/") {
				break
			}
			typed.Destination = []byte("/media/" + resolve(dest, dir))
		}
		return ast.WalkContinue, nil
	})
}

func skipLink(dest string) bool {
	if dest == "" || strings.HasPrefix(dest, "#") {
		return true
	}
	for _, scheme := range []string{"http://", "https://", "mailto:", "data:"} {
		if strings.HasPrefix(dest, scheme) {
			return true
		}
	}
	return false
}

func resolve(dest, dir string) string {
	if !strings.HasPrefix(dest, "/") && dir != "" && dir != "." {
		dest = path.Join(dir, dest)
	}
	return strings.TrimPrefix(path.Clean("/"+dest), "/")
}

// sampleCollector records fenced code blocks for Document.Samples.
type sampleCollector struct{}

func (t *sampleCollector) Transform(node *ast.Document, reader text.Reader, pc parser.Context) {
	var samples []Sample
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if block, ok := n.(*ast.FencedCodeBlock); ok && entering {
			lang := transform.FenceLanguage(block, reader.Source())
			if lang != "" && lang != "mermaid" && lang != "d2" {
				samples = append(samples, Sample{Language: lang, Code: transform.FenceBody(block, reader.Source())})
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if len(samples) > 0 {
		pc.Set(samplesKey, samples)
	}
}

func extractMetadata(pc parser.Context) Metadata {
	raw := goldmarkmeta.Get(pc)
	var meta Metadata
	if len(raw) == 0 {
		return meta
	}

	meta.Raw = make(map[string]any, len(raw))
	for k, v := range raw {
		meta.Raw[k] = v
		switch strings.ToLower(k) {
		case "title":
			meta.Title, _ = toString(v)
		case "description", "summary":
			meta.Description, _ = toString(v)
		case "starter":
			meta.Starter, _ = toString(v)
		case "tags", "keywords":
			meta.Tags = toStringSlice(v)
		case "order", "weight":
			if n, ok := toInt(v); ok {
				meta.Order = n
				meta.HasOrder = true
			}
		}
	}
	return meta
}

func toString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case fmt.Stringer:
		return val.String(), true
	default:
		return "", false
	}
}

func toInt(v any) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case uint64:
		return int(val), true
	case float64:
		return int(val), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(val))
		return n, err == nil
	default:
		return 0, false
	}
}

func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if str, ok := toString(item); ok {
				out = append(out, str)
			}
		}
		return out
	case []string:
		return append([]string(nil), vv...)
	default:
		if str, ok := toString(v); ok {
			return []string{str}
		}
		return nil
	}
}
