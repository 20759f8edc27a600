package renderer_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/euforicio/codebook/internal/renderer"
	"github.com/euforicio/codebook/internal/renderer/d2"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type stubDiagrams struct {
	svg string
	err error
}

func (s stubDiagrams) Render(_ context.Context, source string) (d2.Result, error) {
	if s.err != nil {
		return d2.Result{}, s.err
	}
	return d2.Result{SVG: s.svg + "<!--" + strings.TrimSpace(source) + "-->", Duration: time.Millisecond}, nil
}

func TestRenderChapterMetadataAndFences(t *testing.T) {
	t.Parallel()
	svc := renderer.NewService(quietLogger(), renderer.Options{Runnable: "java"})

	content := []byte("---\n" +
		"title: A Crash Course in Java\n" +
		"description: Classes and objects\n" +
		"order: 1\n" +
		"starter: |\n" +
		"  class Main {}\n" +
		"tags:\n" +
		"  - java\n" +
		"  - oop\n" +
		"---\n\n" +
		"# Classes\n\n" +
		"```java\n" +
		"public class Greeter {}\n" +
		"```\n\n" +
		"```mermaid\n" +
		"classDiagram\n" +
		"```\n")

	modTime := time.Unix(1_000, 0)
	doc, err := svc.Render(context.Background(), "chapter-01.md", modTime, content)
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}

	meta := doc.Metadata
	if meta.Title != "A Crash Course in Java" || meta.Description != "Classes and objects" {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	if !meta.HasOrder || meta.Order != 1 {
		t.Fatalf("expected order 1, got %+v", meta)
	}
	if strings.TrimSpace(meta.Starter) != "class Main {}" {
		t.Fatalf("unexpected starter %q", meta.Starter)
	}
	if len(meta.Tags) != 2 || meta.Tags[1] != "oop" {
		t.Fatalf("unexpected tags %#v", meta.Tags)
	}

	html := doc.HTML
	if !strings.Contains(html, `<div class="code-sample" data-runnable="true" data-language="java">`) {
		t.Fatalf("expected runnable wrapper, got %s", html)
	}
	if !strings.Contains(html, `class="chroma"`) {
		t.Fatalf("expected chroma output, got %s", html)
	}
	if !strings.Contains(html, `<div class="mermaid">`) || strings.Contains(html, "language-mermaid") {
		t.Fatalf("expected mermaid div, got %s", html)
	}

	samples := doc.SamplesIn("java")
	if len(samples) != 1 || samples[0].Code != "public class Greeter {}\n" {
		t.Fatalf("unexpected samples %#v", doc.Samples)
	}
	if len(doc.Samples) != 1 {
		t.Fatalf("expected mermaid to be excluded from samples, got %#v", doc.Samples)
	}
}

func TestRenderRewritesLinks(t *testing.T) {
	t.Parallel()
	svc := renderer.NewService(quietLogger(), renderer.Options{})

	content := []byte("[next](chapter-02.md#intro) [up](../index.md) [web](https://example.com/a.md)\n\n" +
		"![uml](img/uml.png) ![abs](https://example.com/x.png)\n")
	doc, err := svc.Render(context.Background(), "part-1/chapter-01.md", time.Unix(1, 0), content)
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	for _, want := range []string{
		`href="/chapter/part-1/chapter-02.md#intro"`,
		`href="/chapter/index.md"`,
		`href="https://example.com/a.md"`,
		`src="/media/part-1/img/uml.png"`,
		`src="https://example.com/x.png"`,
	} {
		if !strings.Contains(doc.HTML, want) {
			t.Fatalf("expected %s in %s", want, doc.HTML)
		}
	}
}

func TestRenderD2Diagrams(t *testing.T) {
	t.Parallel()

	content := []byte("```d2\nGreeter -> String\n```\n")

	t.Run("rendered", func(t *testing.T) {
		t.Parallel()
		svc := renderer.NewService(quietLogger(), renderer.Options{Diagrams: stubDiagrams{svg: "<svg></svg>"}})
		doc, err := svc.Render(context.Background(), "d.md", time.Unix(1, 0), content)
		if err != nil {
			t.Fatalf("render: %v", err)
		}
		if !strings.Contains(doc.HTML, `<figure class="diagram diagram-d2" data-runtime-ms="1"><svg></svg><!--Greeter -> String--></figure>`) {
			t.Fatalf("expected rendered diagram, got %s", doc.HTML)
		}
	})

	t.Run("error keeps page", func(t *testing.T) {
		t.Parallel()
		svc := renderer.NewService(quietLogger(), renderer.Options{Diagrams: stubDiagrams{err: errors.New("bad shape")}})
		doc, err := svc.Render(context.Background(), "d.md", time.Unix(1, 0), content)
		if err != nil {
			t.Fatalf("render: %v", err)
		}
		if !strings.Contains(doc.HTML, `<div class="diagram-error"><p>bad shape</p>`) {
			t.Fatalf("expected inline error, got %s", doc.HTML)
		}
		if !strings.Contains(doc.HTML, "Greeter -&gt; String") {
			t.Fatalf("expected escaped source, got %s", doc.HTML)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()
		svc := renderer.NewService(quietLogger(), renderer.Options{})
		doc, err := svc.Render(context.Background(), "d.md", time.Unix(1, 0), content)
		if err != nil {
			t.Fatalf("render: %v", err)
		}
		if strings.Contains(doc.HTML, "diagram-d2") {
			t.Fatalf("expected plain code block, got %s", doc.HTML)
		}
	})
}

func TestRenderCaching(t *testing.T) {
	t.Parallel()
	svc := renderer.NewService(quietLogger(), renderer.Options{})

	ctx := context.Background()
	path := "cache.md"
	modTime := time.Unix(2_000, 0)

	doc1, err := svc.Render(ctx, path, modTime, []byte("# First"))
	if err != nil {
		t.Fatalf("first render: %v", err)
	}
	doc2, err := svc.Render(ctx, path, modTime, []byte("# Second"))
	if err != nil {
		t.Fatalf("second render: %v", err)
	}
	if doc2.HTML != doc1.HTML {
		t.Fatalf("expected cached HTML, got different output")
	}

	svc.Invalidate(path)
	doc3, err := svc.Render(ctx, path, modTime, []byte("# Second"))
	if err != nil {
		t.Fatalf("third render: %v", err)
	}
	if !strings.Contains(doc3.HTML, "Second") {
		t.Fatalf("expected fresh render after invalidate, got %s", doc3.HTML)
	}
}
