package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/euforicio/codebook/internal/toolchain"
)

type fakeExecutor struct {
	mu       sync.Mutex
	calls    []Command
	sources  []string
	results  map[Stage]ProcessResult
	errs     map[Stage]error
	block    chan struct{}
	readFile string
}

func (f *fakeExecutor) Execute(ctx context.Context, c Command) (ProcessResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	if f.readFile != "" && c.Stage == StageCompile {
		data, _ := os.ReadFile(filepath.Join(c.Dir, f.readFile))
		f.sources = append(f.sources, string(data))
	}
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ProcessResult{}, ctx.Err()
		}
	}
	if err := f.errs[c.Stage]; err != nil {
		return ProcessResult{Outcome: OutcomeFailedToStart, ExitCode: -1}, err
	}
	return f.results[c.Stage], nil
}

func (f *fakeExecutor) stages() []Stage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Stage, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Stage
	}
	return out
}

func ok(stdout string) ProcessResult {
	return ProcessResult{Outcome: OutcomeSucceeded, Stdout: []byte(stdout)}
}

func failed(stderr string) ProcessResult {
	return ProcessResult{Outcome: OutcomeExitedNonZero, ExitCode: 1, Stderr: []byte(stderr)}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPipeline(t *testing.T, executor Executor) *Pipeline {
	t.Helper()
	return New(toolchain.Default(), Options{
		Workspace: NewIsolatedWorkspace(t.TempDir()),
		Executor:  executor,
		Logger:    testLogger(),
	})
}

func TestRunCompileFailureSkipsRunner(t *testing.T) {
	t.Parallel()

	fake := &fakeExecutor{results: map[Stage]ProcessResult{
		StageCompile: failed("Main.java:3: error: ';' expected\n"),
		StageRun:     ok("should not run"),
	}}
	p := newTestPipeline(t, fake)

	res, err := p.Run(context.Background(), "class Main {")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := fake.stages(); len(got) != 1 || got[0] != StageCompile {
		t.Fatalf("expected a single compile call, got %v", got)
	}
	if res.State != StateCompileFailed {
		t.Fatalf("expected state %s, got %s", StateCompileFailed, res.State)
	}
	if res.Run != nil {
		t.Fatal("expected no run result")
	}
	want := "Compile Error:\nMain.java:3: error: ';' expected\n"
	if got := res.Report(); got != want {
		t.Fatalf("expected report %q, got %q", want, got)
	}
}

func TestRunCompileSuccessRunsBothInOrder(t *testing.T) {
	t.Parallel()

	fake := &fakeExecutor{results: map[Stage]ProcessResult{
		StageCompile: ok(""),
		StageRun:     ok("Hello World!\n"),
	}}
	p := newTestPipeline(t, fake)

	res, err := p.Run(context.Background(), "class Main {}")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	got := fake.stages()
	if len(got) != 2 || got[0] != StageCompile || got[1] != StageRun {
		t.Fatalf("expected compile then run, got %v", got)
	}
	if fake.calls[0].Args[0] != "javac" || fake.calls[0].Args[1] != "Main.java" {
		t.Fatalf("unexpected compile argv %v", fake.calls[0].Args)
	}
	if fake.calls[1].Args[0] != "java" || fake.calls[1].Args[1] != "Main" {
		t.Fatalf("unexpected run argv %v", fake.calls[1].Args)
	}
	if fake.calls[0].Dir != fake.calls[1].Dir {
		t.Fatal("expected both stages in the same directory")
	}
	if res.State != StateCompleted {
		t.Fatalf("expected completed, got %s", res.State)
	}
	want := "Compile Output:\n\n\nRun Output:\nHello World!\n"
	if got := res.Report(); got != want {
		t.Fatalf("expected report %q, got %q", want, got)
	}
}

func TestRunRuntimeFailureKeepsReportFormat(t *testing.T) {
	t.Parallel()

	fake := &fakeExecutor{results: map[Stage]ProcessResult{
		StageCompile: ok("note\n"),
		StageRun: {
			Outcome:  OutcomeExitedNonZero,
			ExitCode: 1,
			Stdout:   []byte("partial\n"),
			Stderr:   []byte("Exception in thread \"main\" java.lang.RuntimeException\n"),
		},
	}}
	p := newTestPipeline(t, fake)

	res, err := p.Run(context.Background(), "class Main {}")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Run == nil || res.Run.Outcome != OutcomeExitedNonZero {
		t.Fatalf("expected runner outcome exited_non_zero, got %+v", res.Run)
	}
	want := "Compile Output:\nnote\n\n\nRun Output:\npartial\n"
	if got := res.Report(); got != want {
		t.Fatalf("expected report %q, got %q", want, got)
	}
	if !strings.Contains(string(res.Run.Stderr), "RuntimeException") {
		t.Fatal("expected runner stderr on the structured result")
	}
}

func TestRunWritesSourceVerbatim(t *testing.T) {
	t.Parallel()

	sources := []string{
		"",
		"   \n\t",
		"class Main { /* ünïcödé ✓ */ }\r\n",
		strings.Repeat("x", 1<<16),
	}
	for _, src := range sources {
		fake := &fakeExecutor{
			readFile: "Main.java",
			results:  map[Stage]ProcessResult{StageCompile: failed("err")},
		}
		p := newTestPipeline(t, fake)
		if _, err := p.Run(context.Background(), src); err != nil {
			t.Fatalf("run: %v", err)
		}
		if len(fake.sources) != 1 || fake.sources[0] != src {
			t.Fatalf("working file did not round-trip (len %d)", len(src))
		}
	}
}

func TestRunIsDeterministic(t *testing.T) {
	t.Parallel()

	fake := &fakeExecutor{results: map[Stage]ProcessResult{
		StageCompile: ok(""),
		StageRun:     ok("42\n"),
	}}
	p := newTestPipeline(t, fake)

	first, err := p.Run(context.Background(), "src")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	second, err := p.Run(context.Background(), "src")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if first.Report() != second.Report() {
		t.Fatalf("expected identical reports, got %q and %q", first.Report(), second.Report())
	}
	if first.RunID == second.RunID {
		t.Fatal("expected distinct run ids")
	}
}

func TestRunEmptySourceReportsCompileError(t *testing.T) {
	t.Parallel()

	fake := &fakeExecutor{results: map[Stage]ProcessResult{
		StageCompile: failed("error: no class declared\n"),
	}}
	p := newTestPipeline(t, fake)

	res, err := p.Run(context.Background(), "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.HasPrefix(res.Report(), "Compile Error:\n") {
		t.Fatalf("unexpected report %q", res.Report())
	}
	if len(fake.stages()) != 1 {
		t.Fatal("expected compiler to be invoked once")
	}
}

func TestRunCompileTimeoutIsCompileFailure(t *testing.T) {
	t.Parallel()

	fake := &fakeExecutor{results: map[Stage]ProcessResult{
		StageCompile: {Outcome: OutcomeTimedOut, ExitCode: -1, Stderr: []byte("partial diag")},
	}}
	p := newTestPipeline(t, fake)

	res, err := p.Run(context.Background(), "src")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.State != StateCompileFailed || !res.Compile.TimedOut() {
		t.Fatalf("expected timed-out compile failure, got %s/%s", res.State, res.Compile.Outcome)
	}
	if res.Report() != "Compile Error:\npartial diag" {
		t.Fatalf("unexpected report %q", res.Report())
	}
}

func TestRunToolchainUnavailable(t *testing.T) {
	t.Parallel()

	profile := toolchain.Default()
	profile.Compile.Command = "codebook-missing-compiler {source}"
	p := New(profile, Options{
		Workspace: NewIsolatedWorkspace(t.TempDir()),
		Logger:    testLogger(),
	})

	res, err := p.Run(context.Background(), "class Main {}")
	if !errors.Is(err, ErrToolchainUnavailable) {
		t.Fatalf("expected ErrToolchainUnavailable, got %v", err)
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected *StageError, got %T", err)
	}
	if stageErr.Stage != StageCompile || stageErr.Binary != "codebook-missing-compiler" {
		t.Fatalf("unexpected stage error %+v", stageErr)
	}
	if res == nil || res.Compile.Outcome != OutcomeFailedToStart {
		t.Fatalf("expected partial result with failed_to_start, got %+v", res)
	}
	if res.Report() != "" {
		t.Fatalf("expected empty report, got %q", res.Report())
	}
}

func TestRunRunnerUnavailable(t *testing.T) {
	t.Parallel()

	fake := &fakeExecutor{
		results: map[Stage]ProcessResult{StageCompile: ok("")},
		errs:    map[Stage]error{StageRun: exec.ErrNotFound},
	}
	p := newTestPipeline(t, fake)

	res, err := p.Run(context.Background(), "src")
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageRun {
		t.Fatalf("expected run stage error, got %v", err)
	}
	if !errors.Is(err, exec.ErrNotFound) {
		t.Fatal("expected the start error to be wrapped")
	}
	if res.State != StateRunning {
		t.Fatalf("expected state running, got %s", res.State)
	}
}

func TestRunWorkspaceFailureStartsNothing(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(root, []byte("not a dir"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	fake := &fakeExecutor{}
	p := New(toolchain.Default(), Options{
		Workspace: NewIsolatedWorkspace(root),
		Executor:  fake,
		Logger:    testLogger(),
	})

	_, err := p.Run(context.Background(), "src")
	if !errors.Is(err, ErrWorkspace) {
		t.Fatalf("expected ErrWorkspace, got %v", err)
	}
	if len(fake.stages()) != 0 {
		t.Fatal("expected no subprocess")
	}
}

func TestRunBusy(t *testing.T) {
	t.Parallel()

	fake := &fakeExecutor{
		block:   make(chan struct{}),
		results: map[Stage]ProcessResult{StageCompile: failed("x")},
	}
	p := New(toolchain.Default(), Options{
		Workspace:     NewIsolatedWorkspace(t.TempDir()),
		Executor:      fake,
		Logger:        testLogger(),
		MaxConcurrent: 1,
	})

	done := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background(), "first")
		done <- err
	}()
	deadline := time.Now().Add(5 * time.Second)
	for len(fake.stages()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first run never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Run(ctx, "second"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	close(fake.block)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
}

func TestWorkspaceModes(t *testing.T) {
	t.Parallel()

	t.Run("isolated removes directory", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		fake := &fakeExecutor{results: map[Stage]ProcessResult{StageCompile: failed("x")}}
		p := New(toolchain.Default(), Options{Workspace: NewIsolatedWorkspace(root), Executor: fake, Logger: testLogger()})
		res, err := p.Run(context.Background(), "src")
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		dir := fake.calls[0].Dir
		if !strings.Contains(filepath.Base(dir), res.RunID) {
			t.Fatalf("expected run dir named after %s, got %s", res.RunID, dir)
		}
		if _, err := os.Stat(dir); !os.IsNotExist(err) {
			t.Fatalf("expected %s removed, stat err %v", dir, err)
		}
	})

	t.Run("shared keeps working file", func(t *testing.T) {
		t.Parallel()
		dir := filepath.Join(t.TempDir(), "work")
		fake := &fakeExecutor{results: map[Stage]ProcessResult{StageCompile: failed("x")}}
		p := New(toolchain.Default(), Options{Workspace: NewSharedWorkspace(dir), Executor: fake, Logger: testLogger()})
		for _, src := range []string{"first", "second"} {
			if _, err := p.Run(context.Background(), src); err != nil {
				t.Fatalf("run: %v", err)
			}
		}
		data, err := os.ReadFile(filepath.Join(dir, "Main.java"))
		if err != nil {
			t.Fatalf("read working file: %v", err)
		}
		if string(data) != "second" {
			t.Fatalf("expected latest submission, got %q", data)
		}
		entries, _ := os.ReadDir(dir)
		if len(entries) != 1 {
			t.Fatalf("expected only the working file, got %d entries", len(entries))
		}
	})

	t.Run("unknown mode", func(t *testing.T) {
		t.Parallel()
		if _, err := NewWorkspace("chroot", ""); err == nil {
			t.Fatal("expected error")
		}
		if _, err := NewWorkspace(ModeShared, ""); err == nil {
			t.Fatal("expected error for shared without dir")
		}
	})
}

func TestMetricsRecorded(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	fake := &fakeExecutor{results: map[Stage]ProcessResult{StageCompile: ok(""), StageRun: ok("hi")}}
	p := New(toolchain.Default(), Options{
		Workspace: NewIsolatedWorkspace(t.TempDir()),
		Executor:  fake,
		Metrics:   metrics,
		Logger:    testLogger(),
	})
	if _, err := p.Run(context.Background(), "src"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := metricValue(t, reg, "codebook_pipeline_runs_total", "completed"); got != 1 {
		t.Fatalf("expected one completed run, got %v", got)
	}
	if got := metricValue(t, reg, "codebook_pipeline_stage_results_total", "succeeded"); got != 2 {
		t.Fatalf("expected two succeeded stages, got %v", got)
	}
	if got := metricValue(t, reg, "codebook_pipeline_in_flight", ""); got != 0 {
		t.Fatalf("expected no in-flight runs, got %v", got)
	}
}

// metricValue sums the samples of family name whose label values include label.
func metricValue(t *testing.T, reg *prometheus.Registry, name, label string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			matched := label == ""
			for _, lp := range m.GetLabel() {
				if lp.GetValue() == label {
					matched = true
				}
			}
			if !matched {
				continue
			}
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			}
		}
	}
	return total
}

func TestPipelineWithRealJava(t *testing.T) {
	if _, err := exec.LookPath("javac"); err != nil {
		t.Skip("javac not on PATH")
	}
	if _, err := exec.LookPath("java"); err != nil {
		t.Skip("java not on PATH")
	}

	p := New(toolchain.Default(), Options{Workspace: NewIsolatedWorkspace(t.TempDir()), Logger: testLogger()})

	t.Run("hello world", func(t *testing.T) {
		src := "class Main { public static void main(String[] a) { System.out.println(\"Hello World!\"); } }\n"
		res, err := p.Run(context.Background(), src)
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		want := "Compile Output:\n\n\nRun Output:\nHello World!\n"
		if res.Report() != want {
			t.Fatalf("expected %q, got %q", want, res.Report())
		}
	})

	t.Run("syntax error", func(t *testing.T) {
		res, err := p.Run(context.Background(), "class Main { public static void main(String[] a) {")
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if res.State != StateCompileFailed || res.Run != nil {
			t.Fatalf("expected compile failure without runner, got %s", res.State)
		}
		if report := res.Report(); !strings.HasPrefix(report, "Compile Error:\n") || len(report) == len("Compile Error:\n") {
			t.Fatalf("expected non-empty diagnostic, got %q", report)
		}
	})
}
