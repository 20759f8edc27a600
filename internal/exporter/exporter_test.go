package exporter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/euforicio/codebook/internal/pipeline"
)

const chaptersDir = "../../testdata/chapters"

type fakeRunner struct {
	mu      sync.Mutex
	sources []string
	err     error
}

func (f *fakeRunner) Run(_ context.Context, source string) (*pipeline.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = append(f.sources, source)
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Result{
		RunID:   "run-1",
		State:   pipeline.StateCompleted,
		Compile: pipeline.ProcessResult{Outcome: pipeline.OutcomeSucceeded},
		Run:     &pipeline.ProcessResult{Stdout: []byte("Hello, Vennela!\n"), Outcome: pipeline.OutcomeSucceeded},
	}, nil
}

func (f *fakeRunner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sources)
}

func readOutput(t *testing.T, dir, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("read %s: %v", rel, err)
	}
	return string(data)
}

func TestExportStaticSite(t *testing.T) {
	t.Parallel()
	out := t.TempDir()
	exp := newTestExporter(t, Config{})

	err := exp.Export(context.Background(), Options{
		Root:        chaptersDir,
		OutputDir:   out,
		SiteTitle:   "OOD Notes",
		BaseURL:     "https://example.com/book/",
		CleanOutput: true,
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	for _, rel := range []string{
		"index.html",
		"chapter-01.html",
		"chapter-02.html",
		"chapter-03.html",
		"appendix/note-2.html",
		"appendix/note-10.html",
		"assets/css/app.css",
		"assets/css/chroma.css",
		"assets/js/app.js",
		"appendix/diagram.svg",
		"tree.json",
	} {
		if _, err := os.Stat(filepath.Join(out, filepath.FromSlash(rel))); err != nil {
			t.Errorf("expected %s in export: %v", rel, err)
		}
	}
	if _, err := os.Stat(filepath.Join(out, "chapter-01.md")); err == nil {
		t.Error("expected markdown sources to stay out of the export")
	}

	page := readOutput(t, out, "chapter-01.html")
	if !strings.Contains(page, "Chapter 1: A Crash Course in Java · OOD Notes") {
		t.Errorf("expected chapter title in page, got %s", page)
	}
	if !strings.Contains(page, `data-static="true"`) {
		t.Error("expected static marker on body")
	}
	if !strings.Contains(page, `href="assets/css/app.css"`) {
		t.Error("expected root-relative asset links")
	}
	if !strings.Contains(page, `<link rel="canonical" href="https://example.com/book/chapter-01.html">`) {
		t.Error("expected canonical link")
	}
	if strings.Contains(page, "Sample output") {
		t.Error("expected no sample output without RunSamples")
	}

	nested := readOutput(t, out, "appendix/note-2.html")
	if !strings.Contains(nested, `href="../assets/css/app.css"`) {
		t.Errorf("expected nested page to climb to the assets, got %s", nested)
	}
	if !strings.Contains(nested, `href="../chapter-01.html"`) {
		t.Error("expected sidebar links relative to the nested page")
	}
	if strings.Contains(nested, `href="/chapter/`) {
		t.Error("expected server routes rewritten")
	}

	var payload struct {
		Root struct {
			Children []json.RawMessage `json:"children"`
		} `json:"root"`
	}
	if err := json.Unmarshal([]byte(readOutput(t, out, "tree.json")), &payload); err != nil {
		t.Fatalf("decode tree.json: %v", err)
	}
	if len(payload.Root.Children) == 0 {
		t.Fatal("expected tree.json to list chapters")
	}
}

func TestExportRunSamples(t *testing.T) {
	t.Parallel()
	out := t.TempDir()
	runner := &fakeRunner{}
	exp := newTestExporter(t, Config{Runner: runner})

	err := exp.Export(context.Background(), Options{
		Root:       chaptersDir,
		OutputDir:  out,
		RunSamples: true,
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	if got := runner.calls(); got != 1 {
		t.Fatalf("expected only the chapter with starter code to run, got %d runs", got)
	}
	if !strings.Contains(runner.sources[0], `new Greeter("Vennela")`) {
		t.Fatalf("expected starter code submitted, got %q", runner.sources[0])
	}

	page := readOutput(t, out, "chapter-01.html")
	if !strings.Contains(page, "Sample output") {
		t.Fatal("expected sample output section")
	}
	if !strings.Contains(page, "Compile Output:\n\n\nRun Output:\nHello, Vennela!") {
		t.Errorf("expected pipeline report embedded, got %s", page)
	}
	if strings.Contains(readOutput(t, out, "chapter-02.html"), "Sample output") {
		t.Error("expected no sample output for chapters without starter code")
	}
}

func TestExportRunSamplesToolchainUnavailable(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	for i := 1; i <= 3; i++ {
		body := fmt.Sprintf("---\ntitle: Part %d\nstarter: |\n  class Main {}\n---\n# Part %d\n", i, i)
		if err := os.WriteFile(filepath.Join(root, fmt.Sprintf("part-%d.md", i)), []byte(body), 0o644); err != nil {
			t.Fatalf("write chapter: %v", err)
		}
	}

	runner := &fakeRunner{err: &pipeline.StageError{Stage: pipeline.StageCompile, Binary: "javac", Err: os.ErrNotExist}}
	exp := newTestExporter(t, Config{Runner: runner})

	out := t.TempDir()
	if err := exp.Export(context.Background(), Options{Root: root, OutputDir: out, RunSamples: true}); err != nil {
		t.Fatalf("expected export to succeed without a toolchain, got %v", err)
	}
	if got := runner.calls(); got != 1 {
		t.Fatalf("expected runs to stop after the toolchain went missing, got %d", got)
	}
	if strings.Contains(readOutput(t, out, "part-1.html"), "Sample output") {
		t.Error("expected no sample output when the run failed")
	}
}

func TestExportEmptyRoot(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	out := t.TempDir()
	exp := newTestExporter(t, Config{})

	if err := exp.Export(context.Background(), Options{Root: root, OutputDir: out}); err != nil {
		t.Fatalf("export: %v", err)
	}
	index := readOutput(t, out, "index.html")
	if !strings.Contains(index, "No chapters were found") {
		t.Fatalf("expected welcome page, got %s", index)
	}
}

func TestExportValidation(t *testing.T) {
	t.Parallel()
	exp := newTestExporter(t, Config{})
	ctx := context.Background()
	dir := t.TempDir()

	for name, opts := range map[string]Options{
		"missing root":   {OutputDir: dir},
		"missing output": {Root: dir},
		"same dir":       {Root: dir, OutputDir: dir},
	} {
		if err := exp.Export(ctx, opts); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestExportNestedOutputIsExcluded(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "intro.md"), []byte("# Intro\n"), 0o644); err != nil {
		t.Fatalf("write chapter: %v", err)
	}
	out := filepath.Join(root, "site")
	exp := newTestExporter(t, Config{})

	for range 2 {
		if err := exp.Export(context.Background(), Options{Root: root, OutputDir: out}); err != nil {
			t.Fatalf("export: %v", err)
		}
	}
	if _, err := os.Stat(filepath.Join(out, "site")); err == nil {
		t.Fatal("expected the output directory not to be copied into itself")
	}
}

func TestRootPrefix(t *testing.T) {
	t.Parallel()
	f := func(rel, expected string) {
		t.Helper()
		if got := rootPrefix(rel); got != expected {
			t.Errorf("rootPrefix(%q) = %q, want %q", rel, got, expected)
		}
	}
	f("index.html", "")
	f("appendix/note-2.html", "../")
	f("a/b/c.html", "../../")
}

func TestSampleStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		sample *sampleViewData
		want   string
	}{
		{"none", nil, ""},
		{"clean exit", &sampleViewData{}, ""},
		{"compile timeout", &sampleViewData{CompileTimedOut: true}, "Compilation was stopped after its time limit."},
		{"run timeout", &sampleViewData{TimedOut: true, ExitCode: -1}, "The program was stopped after its time limit."},
		{"non-zero exit", &sampleViewData{ExitCode: 3}, "Exited with status 3."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := sampleStatus(tt.sample); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
