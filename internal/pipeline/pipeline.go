// Package pipeline writes submitted source to a working file, compiles it and,
// only when compilation succeeds, runs the compiled program.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/euforicio/codebook/internal/toolchain"
)

// DefaultMaxConcurrent bounds simultaneous runs when Options leaves it unset.
const DefaultMaxConcurrent = 4

// Options configures a Pipeline.
type Options struct {
	Workspace      Workspace
	Executor       Executor
	Metrics        *Metrics
	Logger         *slog.Logger
	MaxConcurrent  int
	MaxOutput      int
	CompileTimeout time.Duration
	RunTimeout     time.Duration
}

// Pipeline executes submissions against one toolchain profile.
type Pipeline struct {
	profile   *toolchain.Profile
	workspace Workspace
	executor  Executor
	metrics   *Metrics
	logger    *slog.Logger
	slots     *semaphore.Weighted

	maxOutput      int
	compileTimeout time.Duration
	runTimeout     time.Duration
}

// New constructs a pipeline. Unset options fall back to an isolated temp
// workspace, the process executor and DefaultMaxConcurrent slots.
func New(profile *toolchain.Profile, opts Options) *Pipeline {
	if profile == nil {
		profile = toolchain.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("component", "pipeline")

	ws := opts.Workspace
	if ws == nil {
		ws = NewIsolatedWorkspace("")
	}
	executor := opts.Executor
	if executor == nil {
		executor = &ProcessExecutor{Logger: logger}
	}
	slots := opts.MaxConcurrent
	if slots <= 0 {
		slots = DefaultMaxConcurrent
	}
	maxOutput := opts.MaxOutput
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutput
	}
	compileTimeout := opts.CompileTimeout
	if compileTimeout <= 0 {
		compileTimeout = profile.Compile.Timeout()
	}
	runTimeout := opts.RunTimeout
	if runTimeout <= 0 {
		runTimeout = profile.Run.Timeout()
	}

	return &Pipeline{
		profile:        profile,
		workspace:      ws,
		executor:       executor,
		metrics:        opts.Metrics,
		logger:         logger,
		slots:          semaphore.NewWeighted(int64(slots)),
		maxOutput:      maxOutput,
		compileTimeout: compileTimeout,
		runTimeout:     runTimeout,
	}
}

// Profile returns the toolchain the pipeline drives.
func (p *Pipeline) Profile() *toolchain.Profile {
	return p.profile
}

// Run persists source, compiles it and runs it when the compiler exits 0.
//
// Compile and runtime failures are reported through the result with a nil
// error. Errors are returned for workspace failures (ErrWorkspace), binaries
// that cannot be started (ErrToolchainUnavailable, with the partial result),
// saturation (ErrBusy) and caller cancellation.
func (p *Pipeline) Run(ctx context.Context, source string) (*Result, error) {
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBusy, err)
	}
	defer p.slots.Release(1)
	p.metrics.enter()
	defer p.metrics.leave()

	result := &Result{RunID: uuid.NewString(), State: StateIdle}
	logger := p.logger.With(slog.String("run_id", result.RunID))

	lease, err := p.workspace.Acquire(ctx, result.RunID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lease.Release(); err != nil {
			logger.Warn("release workspace", slog.Any("error", err))
		}
	}()

	if err := writeSource(filepath.Join(lease.Dir, p.profile.SourceFile), []byte(source)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWorkspace, err)
	}

	vars := p.profile.Vars(lease.Dir)

	result.State = StateCompiling
	compileArgs, err := p.profile.CompileArgs(vars)
	if err != nil {
		return result, fmt.Errorf("compile command: %w", err)
	}
	compile, err := p.executor.Execute(ctx, Command{
		Stage:     StageCompile,
		Args:      compileArgs,
		Dir:       lease.Dir,
		Env:       p.profile.Compile.Env,
		Timeout:   p.compileTimeout,
		MaxOutput: p.maxOutput,
		Limits:    Limits{CPUTime: p.profile.Compile.CPULimit(), MemoryBytes: p.profile.Compile.MemoryLimit},
	})
	result.Compile = compile
	p.metrics.observeStage(StageCompile, compile)
	if err != nil {
		return result, p.stageFailure(StageCompile, compileArgs[0], compile, err)
	}
	logger.Info("compile finished",
		slog.String("outcome", compile.Outcome.String()),
		slog.Int("exit_code", compile.ExitCode),
		slog.Duration("duration", compile.Duration))

	if compile.Outcome != OutcomeSucceeded {
		result.State = StateCompileFailed
		p.metrics.observeRun(result.State)
		return result, nil
	}

	result.State = StateRunning
	runArgs, err := p.profile.RunArgs(vars)
	if err != nil {
		return result, fmt.Errorf("run command: %w", err)
	}
	run, err := p.executor.Execute(ctx, Command{
		Stage:     StageRun,
		Args:      runArgs,
		Dir:       lease.Dir,
		Env:       p.profile.Run.Env,
		Timeout:   p.runTimeout,
		MaxOutput: p.maxOutput,
		Limits:    Limits{CPUTime: p.profile.Run.CPULimit(), MemoryBytes: p.profile.Run.MemoryLimit},
	})
	result.Run = &run
	p.metrics.observeStage(StageRun, run)
	if err != nil {
		return result, p.stageFailure(StageRun, runArgs[0], run, err)
	}
	logger.Info("run finished",
		slog.String("outcome", run.Outcome.String()),
		slog.Int("exit_code", run.ExitCode),
		slog.Duration("duration", run.Duration))

	result.State = StateCompleted
	p.metrics.observeRun(result.State)
	return result, nil
}

func (p *Pipeline) stageFailure(stage Stage, binary string, res ProcessResult, err error) error {
	if res.Outcome == OutcomeFailedToStart {
		p.logger.Error("toolchain binary failed to start",
			slog.String("stage", stage.String()),
			slog.String("binary", binary),
			slog.Any("error", err))
		return &StageError{Stage: stage, Binary: binary, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%s: %w", stage, err)
}
