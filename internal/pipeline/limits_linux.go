//go:build linux

package pipeline

import (
	"fmt"
	"math"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// limitedArgv prefixes argv with util-linux prlimit(1), which sets the limits
// on itself and then execs the program, so they hold from the first
// instruction. wrapped is false when no limits are set or prlimit is not
// installed. The target binary is resolved up front so a missing compiler
// still fails to start instead of surfacing as a prlimit exit status.
func limitedArgv(dir string, argv []string, l Limits) (out []string, wrapped bool, err error) {
	if l.CPUTime <= 0 && l.MemoryBytes == 0 {
		return argv, false, nil
	}
	wrapper, lookErr := exec.LookPath("prlimit")
	if lookErr != nil {
		return argv, false, nil
	}
	bin, err := resolveBinary(dir, argv[0])
	if err != nil {
		return argv, false, err
	}

	out = []string{wrapper}
	if l.CPUTime > 0 {
		secs := cpuSeconds(l)
		out = append(out, fmt.Sprintf("--cpu=%d:%d", secs, secs+1))
	}
	if l.MemoryBytes > 0 {
		out = append(out, fmt.Sprintf("--as=%d", l.MemoryBytes))
	}
	out = append(out, "--", bin)
	return append(out, argv[1:]...), true, nil
}

// resolveBinary finds name the way exec.Cmd would. Relative paths are checked
// against dir but returned as-is; prlimit runs in dir.
func resolveBinary(dir, name string) (string, error) {
	if strings.Contains(name, "/") && !filepath.IsAbs(name) {
		if _, err := exec.LookPath(filepath.Join(dir, name)); err != nil {
			return "", err
		}
		return name, nil
	}
	return exec.LookPath(name)
}

func cpuSeconds(l Limits) uint64 {
	return uint64(math.Ceil(l.CPUTime.Seconds()))
}

// applyLimits sets the limits on a running process. Used only when prlimit(1)
// is unavailable; the program runs unlimited between exec and this call.
func applyLimits(pid int, l Limits) error {
	if l.CPUTime > 0 {
		secs := cpuSeconds(l)
		// soft limit delivers SIGXCPU, hard limit a second later SIGKILL
		lim := &unix.Rlimit{Cur: secs, Max: secs + 1}
		if err := unix.Prlimit(pid, unix.RLIMIT_CPU, lim, nil); err != nil {
			return fmt.Errorf("prlimit cpu: %w", err)
		}
	}
	if l.MemoryBytes > 0 {
		lim := &unix.Rlimit{Cur: l.MemoryBytes, Max: l.MemoryBytes}
		if err := unix.Prlimit(pid, unix.RLIMIT_AS, lim, nil); err != nil {
			return fmt.Errorf("prlimit memory: %w", err)
		}
	}
	return nil
}
