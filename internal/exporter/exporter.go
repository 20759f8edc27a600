// Package exporter writes chapters to standalone files and whole chapter
// trees to a static site.
package exporter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/euforicio/codebook/internal/content/tree"
	"github.com/euforicio/codebook/internal/pipeline"
	"github.com/euforicio/codebook/internal/renderer"
	"github.com/euforicio/codebook/internal/toolchain"
	"github.com/euforicio/codebook/static"
)

const indexHTML = "index.html"

// Runner executes sample programs for embedding their output.
// *pipeline.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, source string) (*pipeline.Result, error)
}

// Config wires the exporter's collaborators. Every field is optional.
type Config struct {
	Renderer *renderer.Service
	Diagrams DiagramRenderer
	Runner   Runner
	// Language marks runnable fences when Renderer is nil.
	Language string
}

// Options configure the static export behavior.
type Options struct {
	Root          string
	OutputDir     string
	AssetsDir     string
	SiteTitle     string
	AssetPrefix   string
	BaseURL       string
	IncludeHidden bool
	DarkModeFirst bool
	CleanOutput   bool
	// RunSamples compiles and runs each chapter's starter code and embeds the report.
	RunSamples bool
}

// Exporter renders chapters into standalone documents and static sites.
type Exporter struct {
	renderer  *renderer.Service
	diagrams  *diagramEncoder
	runner    Runner
	templates *templateRenderer
	logger    *slog.Logger
}

// New constructs an exporter instance ready for use.
func New(logger *slog.Logger, cfg Config) (*Exporter, error) {
	if logger == nil {
		logger = slog.Default()
	}

	tmpl, err := newTemplateRenderer()
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	rendererSvc := cfg.Renderer
	if rendererSvc == nil {
		lang := cfg.Language
		if lang == "" {
			lang = toolchain.Default().Language
		}
		rendererSvc = renderer.NewService(logger, renderer.Options{Runnable: lang})
	}

	e := &Exporter{
		renderer:  rendererSvc,
		runner:    cfg.Runner,
		templates: tmpl,
		logger:    logger.With("component", "exporter"),
	}
	if cfg.Diagrams != nil {
		e.diagrams = &diagramEncoder{d2: cfg.Diagrams}
	}
	return e, nil
}

// Export walks the chapter tree rooted at opts.Root and writes a static site to opts.OutputDir.
//
//nolint:gocognit,gocyclo // export orchestration requires sequential steps and validation
func (e *Exporter) Export(ctx context.Context, opts Options) error {
	if strings.TrimSpace(opts.Root) == "" {
		return errors.New("root directory is required")
	}
	if strings.TrimSpace(opts.OutputDir) == "" {
		return errors.New("output directory is required")
	}
	if strings.TrimSpace(opts.AssetPrefix) == "" {
		opts.AssetPrefix = "assets"
	}
	if strings.TrimSpace(opts.SiteTitle) == "" {
		opts.SiteTitle = "codebook"
	}

	rootDir, err := filepath.Abs(opts.Root)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}
	outputDir, err := filepath.Abs(opts.OutputDir)
	if err != nil {
		return fmt.Errorf("resolve output: %w", err)
	}
	if outputDir == rootDir {
		return errors.New("output directory must differ from the chapter root")
	}
	assetsDir := opts.AssetsDir
	if assetsDir != "" {
		if assetsDir, err = filepath.Abs(assetsDir); err != nil {
			return fmt.Errorf("resolve assets: %w", err)
		}
	}

	if err := e.prepareOutputDir(outputDir, opts.CleanOutput); err != nil {
		return err
	}

	generatedAt := time.Now().UTC()

	treeRoot, err := tree.Build(ctx, rootDir, tree.Options{
		IncludeHidden: opts.IncludeHidden,
		Renderer:      e.renderer,
		ExcludeDirs:   excludedDirs(rootDir, outputDir),
	})
	if err != nil {
		return fmt.Errorf("build content tree: %w", err)
	}

	chapters := tree.Chapters(treeRoot)

	site := siteViewData{
		Title:         opts.SiteTitle,
		GeneratedAt:   generatedAt,
		Tree:          treeRoot,
		DarkModeFirst: opts.DarkModeFirst,
		BaseURL:       strings.TrimRight(opts.BaseURL, "/"),
	}

	treePayload := struct {
		GeneratedAt time.Time  `json:"generatedAt"`
		Root        *tree.Node `json:"root"`
	}{
		GeneratedAt: generatedAt,
		Root:        treeRoot,
	}

	assetDest := filepath.Join(outputDir, filepath.FromSlash(opts.AssetPrefix))
	if err := e.copyAssetBundle(assetDest, assetsDir); err != nil {
		return err
	}

	runSamples := opts.RunSamples && e.runner != nil
	if opts.RunSamples && e.runner == nil {
		e.logger.Warn("sample runs requested without a runner, skipping")
	}

	var (
		landing *layoutViewData
		ran     int
	)

	for _, node := range chapters {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		absPath := filepath.Join(rootDir, filepath.FromSlash(node.RelativePath))
		info, err := os.Stat(absPath)
		if err != nil {
			return fmt.Errorf("stat %s: %w", node.RelativePath, err)
		}
		raw, err := os.ReadFile(absPath) //nolint:gosec // absPath constructed from validated root
		if err != nil {
			return fmt.Errorf("read %s: %w", node.RelativePath, err)
		}

		doc, err := e.renderer.Render(ctx, node.RelativePath, info.ModTime(), raw)
		if err != nil {
			return fmt.Errorf("render %s: %w", node.RelativePath, err)
		}

		output := toHTMLRel(node.RelativePath)
		prefix := rootPrefix(output)
		page := pageViewData{
			Path:        node.RelativePath,
			Output:      output,
			Title:       firstNonEmpty(doc.Metadata.Title, node.Title, titleFromPath(node.RelativePath)),
			HTML:        template.HTML(staticLinks(doc.HTML, prefix)), //nolint:gosec // HTML from trusted renderer
			Metadata:    doc.Metadata,
			Modified:    doc.Modified,
			Breadcrumbs: breadcrumbsFor(treeRoot, node.RelativePath),
		}
		page.Prev, page.Next = tree.Neighbors(treeRoot, node.RelativePath)

		if site.BaseURL != "" {
			if output == indexHTML {
				page.Canonical = site.BaseURL
			} else {
				page.Canonical = fmt.Sprintf("%s/%s", site.BaseURL, output)
			}
		}

		if runSamples && strings.TrimSpace(doc.Metadata.Starter) != "" {
			sample, err := e.runSample(ctx, node.RelativePath, doc.Metadata.Starter)
			if errors.Is(err, pipeline.ErrToolchainUnavailable) {
				e.logger.Warn("toolchain unavailable, no further samples will run", slog.Any("err", err))
				runSamples = false
			} else if err != nil {
				e.logger.Warn("sample run failed", slog.String("path", node.RelativePath), slog.Any("err", err))
			}
			if sample != nil {
				page.Sample = sample
				ran++
			}
		}

		layout := layoutViewData{
			Site:        site,
			Page:        page,
			Active:      node.RelativePath,
			HasDocument: true,
			Assets:      buildAssetRefs(prefix, opts.AssetPrefix),
			Root:        prefix,
		}

		if err := e.writePage(outputDir, output, layout); err != nil {
			return fmt.Errorf("write page %s: %w", node.RelativePath, err)
		}

		if landing == nil {
			landing = &layout
		}
	}

	if landing == nil {
		welcome := layoutViewData{
			Site:   site,
			Assets: buildAssetRefs("", opts.AssetPrefix),
		}
		welcome.Page.Title = site.Title
		welcome.Page.Output = indexHTML
		welcome.Page.HTML = template.HTML(`<div class="notice">No chapters were found in the export root. Add <code>.md</code> files under the root directory and rerun <code>codebook-export</code>.</div>`)
		if err := e.writePage(outputDir, indexHTML, welcome); err != nil {
			return fmt.Errorf("write welcome page: %w", err)
		}
	} else if landing.Page.Output != indexHTML {
		// index.html sits at the root, so its links need the root prefix.
		page := *landing
		if err := e.rebase(ctx, rootDir, &page); err != nil {
			return fmt.Errorf("write landing page: %w", err)
		}
		if err := e.writePage(outputDir, indexHTML, page); err != nil {
			return fmt.Errorf("write landing page: %w", err)
		}
	}

	if err := writeTreeJSON(outputDir, treePayload); err != nil {
		return err
	}

	media, err := copyMedia(rootDir, outputDir, opts.IncludeHidden)
	if err != nil {
		return fmt.Errorf("copy media: %w", err)
	}

	e.logger.Info("export complete",
		slog.Int("chapters", len(chapters)),
		slog.Int("samples", ran),
		slog.Int("media", media),
		slog.String("output", outputDir),
		slog.Duration("duration", time.Since(generatedAt)))

	return nil
}

// rebase re-renders the landing chapter for the site root.
func (e *Exporter) rebase(ctx context.Context, rootDir string, layout *layoutViewData) error {
	absPath := filepath.Join(rootDir, filepath.FromSlash(layout.Page.Path))
	info, err := os.Stat(absPath)
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(absPath) //nolint:gosec // absPath constructed from validated root
	if err != nil {
		return err
	}
	doc, err := e.renderer.Render(ctx, layout.Page.Path, info.ModTime(), raw)
	if err != nil {
		return err
	}
	layout.Page.HTML = template.HTML(staticLinks(doc.HTML, "")) //nolint:gosec // HTML from trusted renderer
	layout.Root = ""
	layout.Assets = buildAssetRefs("", layout.Assets.Prefix)
	return nil
}

func (e *Exporter) runSample(ctx context.Context, rel, source string) (*sampleViewData, error) {
	res, err := e.runner.Run(ctx, source)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("sample ran", slog.String("path", rel), slog.String("state", res.State.String()))

	sample := &sampleViewData{
		Source:          source,
		Report:          res.Report(),
		State:           res.State.String(),
		CompileTimedOut: res.Compile.TimedOut(),
	}
	if res.Run != nil {
		sample.TimedOut = res.Run.TimedOut()
		sample.ExitCode = res.Run.ExitCode
	}
	return sample, nil
}

func (e *Exporter) prepareOutputDir(output string, clean bool) error {
	if clean {
		if err := os.RemoveAll(output); err != nil {
			return fmt.Errorf("clean output: %w", err)
		}
	}
	return os.MkdirAll(output, 0o755) //nolint:gosec // standard directory permissions
}

func (e *Exporter) writePage(root, rel string, data layoutViewData) error {
	dest := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil { //nolint:gosec // standard directory permissions
		return err
	}
	buf := bytes.Buffer{}
	if err := e.templates.render(&buf, "site", data); err != nil {
		return err
	}
	return os.WriteFile(dest, buf.Bytes(), 0o644) //nolint:gosec // standard file permissions
}

func (e *Exporter) copyAssetBundle(dest, override string) error {
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("reset assets dir: %w", err)
	}
	override = strings.TrimSpace(override)
	if override != "" {
		if info, err := os.Stat(override); err == nil && info.IsDir() {
			if err := copyTree(override, dest, nil); err != nil {
				return fmt.Errorf("copy override assets: %w", err)
			}
			e.logger.Debug("exporter using override assets", slog.String("source", override))
			return nil
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat assets override: %w", err)
		}
	}

	if err := static.CopyAll(dest); err != nil {
		return fmt.Errorf("copy embedded assets: %w", err)
	}
	return nil
}

// excludedDirs keeps an output directory nested in the root out of the tree.
func excludedDirs(rootDir, outputDir string) []string {
	rel, err := filepath.Rel(rootDir, outputDir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return nil
	}
	return []string{filepath.Base(outputDir)}
}

func toHTMLRel(rel string) string {
	clean := strings.TrimSpace(rel)
	if clean == "" {
		return indexHTML
	}
	ext := filepath.Ext(clean)
	if ext != "" {
		clean = strings.TrimSuffix(clean, ext)
	}
	clean = strings.TrimSuffix(clean, "/")
	if clean == "" {
		return indexHTML
	}
	return clean + ".html"
}

// rootPrefix leads from the page at rel back to the site root.
func rootPrefix(rel string) string {
	return strings.Repeat("../", strings.Count(rel, "/"))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func titleFromPath(rel string) string {
	return tree.DisplayName(path.Base(filepath.ToSlash(rel)))
}

type breadcrumb struct {
	Title string
	URL   string
}

func breadcrumbsFor(root *tree.Node, target string) []breadcrumb {
	nodes := findNodePath(root, target)
	if len(nodes) <= 1 {
		return nil
	}
	nodes = nodes[1:]
	out := make([]breadcrumb, 0, len(nodes))
	for i, node := range nodes {
		crumb := breadcrumb{Title: firstNonEmpty(node.Title, titleFromPath(node.RelativePath))}
		if node.Type == tree.NodeTypeFile && i != len(nodes)-1 {
			crumb.URL = toHTMLRel(node.RelativePath)
		}
		out = append(out, crumb)
	}
	return out
}

func findNodePath(root *tree.Node, target string) []*tree.Node {
	if root == nil {
		return nil
	}
	if root.RelativePath == target {
		return []*tree.Node{root}
	}
	for _, child := range root.Children {
		if found := findNodePath(child, target); len(found) > 0 {
			return append([]*tree.Node{root}, found...)
		}
	}
	return nil
}

func buildAssetRefs(rootPrefix, assetPrefix string) assetRefs {
	clean := strings.Trim(assetPrefix, "/")
	if clean == "" {
		clean = "assets"
	}
	join := func(name string) string {
		return rootPrefix + path.Join(clean, name)
	}
	return assetRefs{
		Prefix:    clean,
		CSSApp:    join(static.AppCSS),
		CSSChroma: join(static.ChromaCSS),
		JSApp:     join(static.AppJS),
	}
}

// copyMedia copies every regular non-markdown file under root, so images
// referenced from chapters resolve in the exported site.
func copyMedia(rootDir, outputDir string, includeHidden bool) (int, error) {
	copied := 0
	err := copyTree(rootDir, outputDir, func(rel string, d fs.DirEntry) bool {
		if !includeHidden && strings.HasPrefix(d.Name(), ".") {
			return false
		}
		abs := filepath.Join(rootDir, rel)
		if abs == outputDir {
			return false
		}
		if d.IsDir() {
			return true
		}
		if tree.IsMarkdown(d.Name()) {
			return false
		}
		copied++
		return true
	})
	return copied, err
}

// copyTree copies src into dst. keep, when set, filters entries by their
// path relative to src; a rejected directory is skipped entirely.
func copyTree(src, dst string, keep func(rel string, d fs.DirEntry) bool) error {
	info, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("directory %s does not exist", src)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path %s is not a directory", src)
	}

	return filepath.WalkDir(src, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if keep != nil && !keep(rel, d) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil { //nolint:gosec // standard directory permissions
			return err
		}
		data, err := os.ReadFile(p) //nolint:gosec // path from validated source directory
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644) //nolint:gosec // standard file permissions
	})
}

func writeTreeJSON(output string, payload any) error {
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode tree json: %w", err)
	}
	dest := filepath.Join(output, "tree.json")
	if err := os.WriteFile(dest, raw, 0o644); err != nil { //nolint:gosec // standard file permissions
		return fmt.Errorf("write tree.json: %w", err)
	}
	return nil
}

//nolint:govet // field order optimized for readability, not memory
type layoutViewData struct {
	Page        pageViewData
	Site        siteViewData
	Assets      assetRefs
	Active      string
	Root        string
	HasDocument bool
}

type siteViewData struct {
	GeneratedAt   time.Time
	Tree          *tree.Node
	Title         string
	BaseURL       string
	DarkModeFirst bool
}

type pageViewData struct {
	Metadata    renderer.Metadata
	Modified    time.Time
	Prev, Next  *tree.Node
	Sample      *sampleViewData
	Path        string
	Output      string
	Title       string
	HTML        template.HTML
	Canonical   string
	Breadcrumbs []breadcrumb
}

type sampleViewData struct {
	Source          string
	Report          string
	State           string
	ExitCode        int
	TimedOut        bool
	CompileTimedOut bool
}

type assetRefs struct {
	Prefix    string
	CSSApp    string
	CSSChroma string
	JSApp     string
}

type standaloneViewData struct {
	Modified  time.Time
	Title     string
	HTML      template.HTML
	ChromaCSS template.CSS
}
