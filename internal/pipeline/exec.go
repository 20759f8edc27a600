package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

const (
	// DefaultMaxOutput caps each captured stream.
	DefaultMaxOutput = 1 << 20
	waitDelay        = 2 * time.Second
)

// Limits are resource ceilings applied to a started process. Zero means unlimited.
type Limits struct {
	CPUTime     time.Duration
	MemoryBytes uint64
}

// Command is one external invocation.
type Command struct {
	Dir       string
	Args      []string
	Env       []string
	Limits    Limits
	Timeout   time.Duration
	MaxOutput int
	Stage     Stage
}

// Executor starts a command and waits for it to exit.
//
// A non-zero exit or a timeout is reported through ProcessResult.Outcome with
// a nil error. A process that could not be started yields OutcomeFailedToStart
// and the start error.
type Executor interface {
	Execute(ctx context.Context, cmd Command) (ProcessResult, error)
}

// ProcessExecutor runs commands as child processes of the server.
type ProcessExecutor struct {
	Logger *slog.Logger
}

// Execute implements Executor.
func (e *ProcessExecutor) Execute(ctx context.Context, c Command) (ProcessResult, error) {
	if len(c.Args) == 0 {
		return ProcessResult{Outcome: OutcomeFailedToStart}, errors.New("empty argv")
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	maxOutput := c.MaxOutput
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutput
	}

	argv, wrapped, err := limitedArgv(c.Dir, c.Args, c.Limits)
	if err != nil {
		return ProcessResult{Outcome: OutcomeFailedToStart, ExitCode: -1}, err
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.WaitDelay = waitDelay
	killProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	outW := &limitWriter{buf: &stdout, limit: maxOutput}
	errW := &limitWriter{buf: &stderr, limit: maxOutput}
	cmd.Stdout = outW
	cmd.Stderr = errW

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return ProcessResult{Outcome: OutcomeFailedToStart, ExitCode: -1}, err
	}
	if !wrapped {
		// CPU already consumed still counts toward RLIMIT_CPU.
		if err := applyLimits(cmd.Process.Pid, c.Limits); err != nil && e.Logger != nil {
			e.Logger.Warn("apply resource limits", slog.String("stage", c.Stage.String()), slog.Any("error", err))
		}
	}
	waitErr := cmd.Wait()

	res := ProcessResult{
		Stdout:    stdout.Bytes(),
		Stderr:    stderr.Bytes(),
		Duration:  time.Since(started),
		Truncated: outW.truncated || errW.truncated,
		Outcome:   OutcomeSucceeded,
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.Outcome = OutcomeTimedOut
		res.ExitCode = exitCode(cmd, waitErr)
		return res, nil
	}
	if ctx.Err() != nil {
		res.Outcome = OutcomeExitedNonZero
		res.ExitCode = exitCode(cmd, waitErr)
		return res, ctx.Err()
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) && !errors.Is(waitErr, exec.ErrWaitDelay) {
			return res, fmt.Errorf("wait %s: %w", c.Args[0], waitErr)
		}
	}
	res.ExitCode = exitCode(cmd, waitErr)
	if res.ExitCode != 0 {
		res.Outcome = OutcomeExitedNonZero
	}
	return res, nil
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}

// limitWriter writes up to limit bytes to buf, then silently discards the rest.
type limitWriter struct {
	buf       *bytes.Buffer
	limit     int
	truncated bool
}

func (w *limitWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		if len(p) > 0 {
			w.truncated = true
		}
		return len(p), nil
	}
	if len(p) > remaining {
		// report everything as consumed so the copy goroutine keeps draining the pipe
		w.buf.Write(p[:remaining])
		w.truncated = true
		return len(p), nil
	}
	return w.buf.Write(p)
}
