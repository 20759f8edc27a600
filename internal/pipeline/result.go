package pipeline

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Stage identifies which external tool a process result belongs to.
type Stage int

// Pipeline stages.
const (
	StageCompile Stage = iota
	StageRun
)

var stageNames = []string{"compile", "run"}

func (s Stage) String() string {
	if int(s) < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}

// Outcome classifies how a single process ended.
type Outcome int

// Process outcomes.
const (
	OutcomeNotRun Outcome = iota
	OutcomeSucceeded
	OutcomeExitedNonZero
	OutcomeTimedOut
	OutcomeFailedToStart
)

var outcomeNames = []string{
	"not_run",
	"succeeded",
	"exited_non_zero",
	"timed_out",
	"failed_to_start",
}

func (o Outcome) String() string {
	if int(o) < 0 || int(o) >= len(outcomeNames) {
		return "unknown"
	}
	return outcomeNames[o]
}

// MarshalText renders the outcome name in JSON payloads.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText parses an outcome name.
func (o *Outcome) UnmarshalText(b []byte) error {
	i := slices.Index(outcomeNames, string(b))
	if i < 0 {
		return fmt.Errorf("unknown outcome %q", b)
	}
	*o = Outcome(i)
	return nil
}

// State is a position in the compile/run state machine.
type State int

// States: Idle -> Compiling -> {CompileFailed | Running -> Completed}.
const (
	StateIdle State = iota
	StateCompiling
	StateCompileFailed
	StateRunning
	StateCompleted
)

var stateNames = []string{"idle", "compiling", "compile_failed", "running", "completed"}

func (s State) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	i := slices.Index(stateNames, string(b))
	if i < 0 {
		return fmt.Errorf("unknown state %q", b)
	}
	*s = State(i)
	return nil
}

// ProcessResult is what one external process produced. It is not modified after capture.
type ProcessResult struct {
	Stdout    []byte        `json:"-"`
	Stderr    []byte        `json:"-"`
	ExitCode  int           `json:"exitCode"`
	Duration  time.Duration `json:"duration"`
	Outcome   Outcome       `json:"outcome"`
	Truncated bool          `json:"truncated"`
}

// TimedOut reports whether the process was killed for exceeding its wall-clock limit.
func (p ProcessResult) TimedOut() bool {
	return p.Outcome == OutcomeTimedOut
}

// Result is the structured outcome of one pipeline invocation.
type Result struct {
	RunID   string         `json:"runId"`
	State   State          `json:"state"`
	Compile ProcessResult  `json:"compile"`
	Run     *ProcessResult `json:"run,omitempty"`
}

// Report composes the text shown to the learner.
//
//	Compile Output:\n<compiler stdout>\n\nRun Output:\n<runner stdout>
//	Compile Error:\n<compiler stderr>
//
// Runs that never reached a terminal state produce an empty report.
func (r *Result) Report() string {
	switch r.State {
	case StateCompileFailed:
		return "Compile Error:\n" + text(r.Compile.Stderr)
	case StateCompleted:
		var run []byte
		if r.Run != nil {
			run = r.Run.Stdout
		}
		return "Compile Output:\n" + text(r.Compile.Stdout) + "\n\nRun Output:\n" + text(run)
	default:
		return ""
	}
}

func text(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
