package exporter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	pdf "github.com/stephenafamo/goldmark-pdf"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"

	"github.com/euforicio/codebook/static"
)

// Format represents an export format.
type Format string

const (
	// FormatHTML exports a standalone HTML document.
	FormatHTML Format = "html"
	// FormatMarkdown exports the chapter source verbatim.
	FormatMarkdown Format = "markdown"
	// FormatPlainText exports the rendered text without markup.
	FormatPlainText Format = "txt"
	// FormatPDF exports a PDF document.
	FormatPDF Format = "pdf"
)

// ValidFormats returns the list of supported export formats.
func ValidFormats() []Format {
	return []Format{FormatHTML, FormatMarkdown, FormatPlainText, FormatPDF}
}

// IsValidFormat checks if the given format is valid.
func IsValidFormat(format string) bool {
	f := Format(strings.ToLower(strings.TrimSpace(format)))
	for _, valid := range ValidFormats() {
		if f == valid {
			return true
		}
	}
	return false
}

// ChapterOptions configures a single chapter export.
type ChapterOptions struct {
	Writer io.Writer
	Format Format
	Root   string
	// Path is relative to Root, slash-separated, with its extension.
	Path string
}

// ExportChapter writes one chapter in the requested format.
func (e *Exporter) ExportChapter(ctx context.Context, opts ChapterOptions) error {
	if err := validateChapterOptions(opts); err != nil {
		return err
	}

	rootDir, err := filepath.Abs(opts.Root)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}

	rel, absPath, err := resolveExportPath(rootDir, opts.Path)
	if err != nil {
		return err
	}

	info, raw, err := readExportSource(absPath, opts.Path)
	if err != nil {
		return err
	}

	switch Format(strings.ToLower(string(opts.Format))) {
	case FormatHTML:
		return e.exportHTML(ctx, rel, info.ModTime(), raw, opts.Writer)
	case FormatMarkdown:
		_, err := opts.Writer.Write(raw)
		return err
	case FormatPlainText:
		return e.exportPlainText(ctx, rel, info.ModTime(), raw, opts.Writer)
	case FormatPDF:
		return e.exportPDF(ctx, raw, opts.Writer)
	default:
		return fmt.Errorf("unsupported format: %s", opts.Format)
	}
}

func validateChapterOptions(opts ChapterOptions) error {
	if strings.TrimSpace(opts.Root) == "" {
		return errors.New("root directory is required")
	}
	if strings.TrimSpace(opts.Path) == "" {
		return errors.New("chapter path is required")
	}
	if opts.Writer == nil {
		return errors.New("writer is required")
	}
	if !IsValidFormat(string(opts.Format)) {
		return fmt.Errorf("unsupported format: %s (allowed: html, pdf, markdown, txt)", opts.Format)
	}
	return nil
}

func resolveExportPath(rootDir, chapterPath string) (string, string, error) {
	cleanPath := filepath.Clean(filepath.FromSlash(chapterPath))
	if strings.Contains(cleanPath, "..") || filepath.IsAbs(cleanPath) {
		return "", "", errors.New("invalid path: directory traversal not allowed")
	}

	absPath, err := filepath.Abs(filepath.Join(rootDir, cleanPath))
	if err != nil {
		return "", "", fmt.Errorf("resolve path: %w", err)
	}
	if !strings.HasPrefix(absPath, rootDir+string(filepath.Separator)) {
		return "", "", errors.New("invalid path: must be within root directory")
	}
	return filepath.ToSlash(cleanPath), absPath, nil
}

func readExportSource(absPath, originalPath string) (os.FileInfo, []byte, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("chapter not found: %s", originalPath)
		}
		return nil, nil, fmt.Errorf("stat chapter: %w", err)
	}
	if info.IsDir() {
		return nil, nil, fmt.Errorf("chapter not found: %s is a directory", originalPath)
	}

	raw, err := os.ReadFile(absPath) //nolint:gosec // absPath constructed from validated root
	if err != nil {
		return nil, nil, fmt.Errorf("read chapter: %w", err)
	}
	return info, raw, nil
}

func (e *Exporter) exportHTML(ctx context.Context, rel string, modTime time.Time, raw []byte, w io.Writer) error {
	doc, err := e.renderer.Render(ctx, rel, modTime, raw)
	if err != nil {
		return fmt.Errorf("render html: %w", err)
	}

	chroma, err := static.Read(static.ChromaCSS)
	if err != nil {
		return err
	}

	data := standaloneViewData{
		Title:     firstNonEmpty(doc.Metadata.Title, titleFromPath(rel)),
		HTML:      template.HTML(staticLinks(doc.HTML, "")), //nolint:gosec // HTML from trusted renderer
		ChromaCSS: template.CSS(chroma),                     //nolint:gosec // embedded stylesheet
		Modified:  doc.Modified,
	}
	return e.templates.render(w, "standalone", data)
}

func (e *Exporter) exportPlainText(ctx context.Context, rel string, modTime time.Time, raw []byte, w io.Writer) error {
	doc, err := e.renderer.Render(ctx, rel, modTime, raw)
	if err != nil {
		return fmt.Errorf("render text: %w", err)
	}

	text, err := stripHTML(doc.HTML)
	if err != nil {
		return fmt.Errorf("extract text: %w", err)
	}
	if title := doc.Metadata.Title; title != "" {
		text = title + "\n\n" + text
	}
	_, err = io.WriteString(w, text+"\n")
	return err
}

// exportPDF renders through goldmark-pdf. d2 fences become embedded PNGs when
// a diagram renderer is configured; if the PDF renderer rejects them the
// chapter is rendered again without diagrams.
func (e *Exporter) exportPDF(ctx context.Context, raw []byte, w io.Writer) error {
	source := raw
	if e.diagrams != nil {
		encoded, err := e.diagrams.encode(ctx, raw)
		if err != nil {
			e.logger.WarnContext(ctx, "encode diagrams for pdf failed", "err", err)
		} else {
			source = encoded
		}
	}

	var buf bytes.Buffer
	err := convertPDF(source, &buf)
	if err != nil && e.diagrams != nil {
		e.logger.WarnContext(ctx, "pdf with diagrams failed, retrying without", "err", err)
		buf.Reset()
		err = convertPDF(raw, &buf)
	}
	if err != nil {
		return fmt.Errorf("convert markdown to PDF: %w", err)
	}
	_, err = buf.WriteTo(w)
	return err
}

func convertPDF(source []byte, w io.Writer) error {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			meta.Meta,
			highlighting.NewHighlighting(
				highlighting.WithStyle("monokai"),
			),
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRenderer(pdf.New()),
	)
	return md.Convert(source, w)
}

var blockSelector = "p, h1, h2, h3, h4, h5, h6, li, pre, tr, blockquote, figure, div"

// stripHTML returns the visible text of a rendered chapter, one block per line.
func stripHTML(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, svg").Remove()
	doc.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	text := doc.Text()
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(text), nil
}

var (
	chapterHref = regexp.MustCompile(`href="/chapter/([^"#]*?)(\.md|\.markdown)?(#[^"]*)?"`)
	mediaSrc    = regexp.MustCompile(`src="/media/([^"]*)"`)
)

// staticLinks maps the server's /chapter/ and /media/ URLs onto files of an
// exported site. prefix leads back from the page to the site root.
func staticLinks(html, prefix string) string {
	html = chapterHref.ReplaceAllString(html, `href="`+prefix+`$1.html$3"`)
	return mediaSrc.ReplaceAllString(html, `src="`+prefix+`$1"`)
}

// ContentType returns the MIME type for the given format.
func ContentType(format Format) string {
	switch format {
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatPlainText:
		return "text/plain; charset=utf-8"
	case FormatPDF:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// FileExtension returns the file extension for the given format.
func FileExtension(format Format) string {
	switch format {
	case FormatHTML:
		return ".html"
	case FormatMarkdown:
		return ".md"
	case FormatPlainText:
		return ".txt"
	case FormatPDF:
		return ".pdf"
	default:
		return ""
	}
}
