package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/semaphore"
)

// Workspace mode names accepted by configuration.
const (
	ModeIsolated = "isolated"
	ModeShared   = "shared"
)

// Workspace hands out the directory a run compiles and executes in.
type Workspace interface {
	Acquire(ctx context.Context, runID string) (*Lease, error)
}

// Lease is a directory owned by one run until Release.
type Lease struct {
	release func() error
	Dir     string
}

// Release returns the directory to its workspace.
func (l *Lease) Release() error {
	if l == nil || l.release == nil {
		return nil
	}
	release := l.release
	l.release = nil
	return release()
}

// NewWorkspace builds the workspace for a configured mode.
func NewWorkspace(mode, dir string) (Workspace, error) {
	switch mode {
	case "", ModeIsolated:
		return NewIsolatedWorkspace(dir), nil
	case ModeShared:
		if dir == "" {
			return nil, errors.New("shared workspace requires a directory")
		}
		return NewSharedWorkspace(dir), nil
	default:
		return nil, fmt.Errorf("unknown workspace mode %q", mode)
	}
}

// SharedWorkspace reuses one fixed directory. Runs hold it one at a time and
// the working file persists between runs.
type SharedWorkspace struct {
	lock *semaphore.Weighted
	dir  string
}

// NewSharedWorkspace returns a workspace rooted at dir.
func NewSharedWorkspace(dir string) *SharedWorkspace {
	return &SharedWorkspace{dir: dir, lock: semaphore.NewWeighted(1)}
}

// Acquire implements Workspace.
func (w *SharedWorkspace) Acquire(ctx context.Context, _ string) (*Lease, error) {
	if err := w.lock.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBusy, err)
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil { //nolint:gosec // standard directory permissions
		w.lock.Release(1)
		return nil, fmt.Errorf("%w: %w", ErrWorkspace, err)
	}
	return &Lease{
		Dir: w.dir,
		release: func() error {
			w.lock.Release(1)
			return nil
		},
	}, nil
}

// IsolatedWorkspace creates a fresh directory per run and removes it afterwards.
type IsolatedWorkspace struct {
	root string
}

// NewIsolatedWorkspace creates run directories below root, or the system temp dir when empty.
func NewIsolatedWorkspace(root string) *IsolatedWorkspace {
	return &IsolatedWorkspace{root: root}
}

// Acquire implements Workspace.
func (w *IsolatedWorkspace) Acquire(ctx context.Context, runID string) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if w.root != "" {
		if err := os.MkdirAll(w.root, 0o755); err != nil { //nolint:gosec // standard directory permissions
			return nil, fmt.Errorf("%w: %w", ErrWorkspace, err)
		}
	}
	dir, err := os.MkdirTemp(w.root, "codebook-"+runID+"-")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWorkspace, err)
	}
	return &Lease{
		Dir: dir,
		release: func() error {
			return os.RemoveAll(dir)
		},
	}, nil
}

// writeSource replaces the working file through a temp file in the same
// directory. The temp handle is closed on every path.
func writeSource(target string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".source-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	keep := false
	defer func() {
		if !keep {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write source: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync source: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod source: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close source: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("replace source: %w", err)
	}
	keep = true
	return nil
}
