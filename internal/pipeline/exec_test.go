//go:build unix

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func shell(script string) Command {
	return Command{Stage: StageRun, Args: []string{"sh", "-c", script}}
}

func TestProcessExecutor(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	e := &ProcessExecutor{Logger: testLogger()}

	t.Run("captures streams and exit code", func(t *testing.T) {
		t.Parallel()
		res, err := e.Execute(context.Background(), shell("printf out; printf err >&2; exit 3"))
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
		if string(res.Stdout) != "out" || string(res.Stderr) != "err" {
			t.Fatalf("unexpected streams %q / %q", res.Stdout, res.Stderr)
		}
		if res.ExitCode != 3 || res.Outcome != OutcomeExitedNonZero {
			t.Fatalf("expected exit 3, got %d (%s)", res.ExitCode, res.Outcome)
		}
	})

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		res, err := e.Execute(context.Background(), shell("echo hello"))
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
		if res.Outcome != OutcomeSucceeded || string(res.Stdout) != "hello\n" {
			t.Fatalf("unexpected result %+v", res)
		}
	})

	t.Run("timeout kills process group", func(t *testing.T) {
		t.Parallel()
		cmd := shell("sleep 30 & sleep 30")
		cmd.Timeout = 100 * time.Millisecond
		start := time.Now()
		res, err := e.Execute(context.Background(), cmd)
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
		if res.Outcome != OutcomeTimedOut {
			t.Fatalf("expected timed_out, got %s", res.Outcome)
		}
		if elapsed := time.Since(start); elapsed > 10*time.Second {
			t.Fatalf("expected prompt kill, took %s", elapsed)
		}
	})

	t.Run("output is capped", func(t *testing.T) {
		t.Parallel()
		cmd := shell("i=0; while [ $i -lt 200 ]; do printf 0123456789; i=$((i+1)); done")
		cmd.MaxOutput = 64
		res, err := e.Execute(context.Background(), cmd)
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
		if len(res.Stdout) != 64 || !res.Truncated {
			t.Fatalf("expected 64 truncated bytes, got %d (truncated=%v)", len(res.Stdout), res.Truncated)
		}
		if !strings.HasPrefix(string(res.Stdout), "0123456789") {
			t.Fatalf("unexpected prefix %q", res.Stdout)
		}
	})

	t.Run("missing binary", func(t *testing.T) {
		t.Parallel()
		res, err := e.Execute(context.Background(), Command{Args: []string{"codebook-no-such-binary"}})
		if !errors.Is(err, exec.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if res.Outcome != OutcomeFailedToStart {
			t.Fatalf("expected failed_to_start, got %s", res.Outcome)
		}
	})

	t.Run("environment and directory", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		cmd := shell(`printf "%s|%s" "$GREETING" "$(pwd)"`)
		cmd.Dir = dir
		cmd.Env = []string{"GREETING=hi"}
		res, err := e.Execute(context.Background(), cmd)
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
		if !strings.HasPrefix(string(res.Stdout), "hi|") {
			t.Fatalf("unexpected output %q", res.Stdout)
		}
	})
}

func TestLimitWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := &limitWriter{buf: &buf, limit: 5}
	for _, chunk := range []string{"abc", "defg", "hij"} {
		n, err := w.Write([]byte(chunk))
		if err != nil || n != len(chunk) {
			t.Fatalf("expected full write of %q, got %d, %v", chunk, n, err)
		}
	}
	if buf.String() != "abcde" || !w.truncated {
		t.Fatalf("expected truncated %q, got %q (truncated=%v)", "abcde", buf.String(), w.truncated)
	}
}
