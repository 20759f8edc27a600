package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrToolchainUnavailable means the compiler or runner could not be started.
	ErrToolchainUnavailable = errors.New("toolchain unavailable")
	// ErrWorkspace means the run directory or working file could not be prepared.
	ErrWorkspace = errors.New("workspace unavailable")
	// ErrBusy means the caller gave up waiting for a free run slot.
	ErrBusy = errors.New("too many concurrent runs")
)

// StageError reports a stage whose binary failed to start.
type StageError struct {
	Err    error
	Binary string
	Stage  Stage
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: start %s: %v", e.Stage, e.Binary, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Is matches ErrToolchainUnavailable.
func (e *StageError) Is(target error) bool {
	return target == ErrToolchainUnavailable
}
