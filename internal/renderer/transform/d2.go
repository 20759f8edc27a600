package transform

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"github.com/euforicio/codebook/internal/renderer/d2"
)

// DiagramRenderer compiles one diagram source to SVG.
type DiagramRenderer interface {
	Render(ctx context.Context, source string) (d2.Result, error)
}

// D2Transformer swaps fenced d2 blocks for pre-rendered D2Block nodes.
type D2Transformer struct {
	diagrams DiagramRenderer
	logger   *slog.Logger
}

// NewD2Transformer returns an AST transformer. A nil renderer leaves d2 fences
// as ordinary code blocks.
func NewD2Transformer(diagrams DiagramRenderer, logger *slog.Logger) *D2Transformer {
	if logger == nil {
		logger = slog.Default()
	}
	return &D2Transformer{diagrams: diagrams, logger: logger}
}

// Transform implements parser.ASTTransformer.
func (t *D2Transformer) Transform(doc *ast.Document, reader text.Reader, _ parser.Context) {
	if t.diagrams == nil || doc == nil {
		return
	}

	var fences []*ast.FencedCodeBlock
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if block, ok := n.(*ast.FencedCodeBlock); ok && FenceLanguage(block, reader.Source()) == "d2" {
			fences = append(fences, block)
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	for _, block := range fences {
		node := t.render(block, reader.Source())
		node.SetBlankPreviousLines(block.HasBlankPreviousLines())
		for _, attr := range block.Attributes() {
			node.SetAttribute(attr.Name, attr.Value)
		}
		block.Parent().ReplaceChild(block.Parent(), block, node)
	}
}

func (t *D2Transformer) render(block *ast.FencedCodeBlock, source []byte) *D2Block {
	body := FenceBody(block, source)
	result, err := t.diagrams.Render(context.Background(), body)
	if err != nil {
		t.logger.Warn("d2 render failed", slog.Any("error", err))
		return &D2Block{Source: body, Error: err.Error()}
	}
	return &D2Block{Source: body, SVG: result.SVG, Runtime: result.Duration}
}

// FenceLanguage returns the lower-cased info-string language of a fenced block.
func FenceLanguage(block *ast.FencedCodeBlock, source []byte) string {
	return strings.ToLower(strings.TrimSpace(string(block.Language(source))))
}

// FenceBody returns the literal contents of a fenced block.
func FenceBody(block *ast.FencedCodeBlock, source []byte) string {
	var buf bytes.Buffer
	lines := block.Lines()
	for i := 0; i < lines.Len(); i++ {
		segment := lines.At(i)
		buf.Write(segment.Value(source))
	}
	return buf.String()
}

// KindD2Block is the node kind of a rendered diagram.
var KindD2Block = ast.NewNodeKind("D2Block")

// D2Block carries the SVG (or the compile error) for one diagram.
type D2Block struct {
	ast.BaseBlock
	Source  string
	SVG     string
	Error   string
	Runtime time.Duration
}

// Kind implements ast.Node.
func (b *D2Block) Kind() ast.NodeKind { return KindD2Block }

// IsRaw implements ast.Node.
func (b *D2Block) IsRaw() bool { return true }

// Dump implements ast.Node.
func (b *D2Block) Dump(source []byte, level int) {
	info := map[string]string{"Source": fmt.Sprintf("%d bytes", len(b.Source))}
	if b.Error != "" {
		info["Error"] = b.Error
	}
	ast.DumpHelper(b, source, level, info, nil)
}

// D2BlockRenderer writes D2Block nodes as HTML.
type D2BlockRenderer struct{}

// RegisterFuncs implements renderer.NodeRenderer.
func (D2BlockRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindD2Block, renderD2Block)
}

func renderD2Block(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkSkipChildren, nil
	}
	block := node.(*D2Block)

	open := `<figure class="diagram diagram-d2"`
	if block.Runtime > 0 {
		open += fmt.Sprintf(` data-runtime-ms="%d"`, block.Runtime.Milliseconds())
	}
	open += ">"
	if _, err := w.WriteString(open); err != nil {
		return ast.WalkStop, err
	}

	body := block.SVG
	if block.Error != "" {
		body = `<div class="diagram-error"><p>` + html.EscapeString(block.Error) + `</p><pre><code>` +
			html.EscapeString(block.Source) + `</code></pre></div>`
	}
	if _, err := w.WriteString(body + "</figure>\n"); err != nil {
		return ast.WalkStop, err
	}
	return ast.WalkSkipChildren, nil
}
