// Package toolchain describes the external compiler and runner a playground invokes.
package toolchain

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"
)

// Default stage limits applied when a profile leaves them unset.
const (
	DefaultCompileTimeout = 30 * time.Second
	DefaultRunTimeout     = 10 * time.Second
	DefaultRunCPULimit    = 10 * time.Second
)

// Placeholders substituted into step arguments.
const (
	PlaceholderSource  = "{source}"
	PlaceholderProgram = "{program}"
	PlaceholderDir     = "{dir}"
)

const defaultInitialCode = `
class Main
{
    public static void main(String[] args)
    {
        System.out.println("Hello World!");
    }
}
`

// Profile is one compiled/interpreted language pair.
type Profile struct {
	Name        string `yaml:"name"`
	Language    string `yaml:"language"`
	SourceFile  string `yaml:"source_file"`
	Program     string `yaml:"program"`
	Compile     Step   `yaml:"compile"`
	Run         Step   `yaml:"run"`
	InitialCode string `yaml:"initial_code"`
}

// Step describes a single external invocation. Args wins over Command when both are set.
type Step struct {
	Command        string   `yaml:"command"`
	Args           []string `yaml:"args"`
	Env            []string `yaml:"env"`
	RawTimeout     string   `yaml:"timeout"`
	RawCPULimit    string   `yaml:"cpu_limit"`
	MemoryLimit    uint64   `yaml:"memory_limit"` // bytes, 0 = unlimited
	defaultTimeout time.Duration
}

// Vars holds placeholder values for a single pipeline run.
type Vars struct {
	Source  string
	Program string
	Dir     string
}

// Default returns the Java profile: javac Main.java, then java Main.
func Default() *Profile {
	return &Profile{
		Name:       "java",
		Language:   "java",
		SourceFile: "Main.java",
		Program:    "Main",
		Compile: Step{
			Command:        "javac " + PlaceholderSource,
			defaultTimeout: DefaultCompileTimeout,
		},
		Run: Step{
			Command:        "java " + PlaceholderProgram,
			RawCPULimit:    DefaultRunCPULimit.String(),
			defaultTimeout: DefaultRunTimeout,
		},
		InitialCode: defaultInitialCode,
	}
}

// Load reads a YAML profile. Fields missing from the file keep the Java defaults.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied configuration path
	if err != nil {
		return nil, fmt.Errorf("read toolchain profile: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML profile on top of the defaults and validates it.
func Parse(data []byte) (*Profile, error) {
	p := Default()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse toolchain profile: %w", err)
	}
	p.Compile.defaultTimeout = DefaultCompileTimeout
	p.Run.defaultTimeout = DefaultRunTimeout
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the profile for settings the pipeline cannot work with.
func (p *Profile) Validate() error {
	if strings.TrimSpace(p.SourceFile) == "" {
		return errors.New("toolchain: source_file is required")
	}
	if p.SourceFile != filepath.Base(p.SourceFile) || p.SourceFile == "." || p.SourceFile == ".." {
		return fmt.Errorf("toolchain: source_file must be a bare file name, got %q", p.SourceFile)
	}
	if _, err := p.Compile.argv(Vars{}); err != nil {
		return fmt.Errorf("toolchain: compile: %w", err)
	}
	if _, err := p.Run.argv(Vars{}); err != nil {
		return fmt.Errorf("toolchain: run: %w", err)
	}
	for _, raw := range []string{p.Compile.RawTimeout, p.Run.RawTimeout, p.Compile.RawCPULimit, p.Run.RawCPULimit} {
		if raw == "" {
			continue
		}
		if d, err := time.ParseDuration(raw); err != nil || d < 0 {
			return fmt.Errorf("toolchain: invalid duration %q", raw)
		}
	}
	return nil
}

// Vars returns the placeholder values for a run inside dir.
func (p *Profile) Vars(dir string) Vars {
	return Vars{Source: p.SourceFile, Program: p.Program, Dir: dir}
}

// CompileArgs returns the compiler argv for the given vars.
func (p *Profile) CompileArgs(v Vars) ([]string, error) {
	return p.Compile.argv(v)
}

// RunArgs returns the runner argv for the given vars.
func (p *Profile) RunArgs(v Vars) ([]string, error) {
	return p.Run.argv(v)
}

func (s Step) argv(v Vars) ([]string, error) {
	args := s.Args
	if len(args) == 0 {
		split, err := shlex.Split(s.Command)
		if err != nil {
			return nil, fmt.Errorf("split command %q: %w", s.Command, err)
		}
		args = split
	}
	if len(args) == 0 {
		return nil, errors.New("command is empty")
	}
	replacer := strings.NewReplacer(
		PlaceholderSource, v.Source,
		PlaceholderProgram, v.Program,
		PlaceholderDir, v.Dir,
	)
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = replacer.Replace(arg)
	}
	return out, nil
}

// Binary returns the executable name the step starts.
func (s Step) Binary() string {
	args, err := s.argv(Vars{})
	if err != nil {
		return ""
	}
	return args[0]
}

// Timeout returns the configured wall-clock limit, or the stage default.
func (s Step) Timeout() time.Duration {
	if d, err := time.ParseDuration(s.RawTimeout); err == nil && d > 0 {
		return d
	}
	if s.defaultTimeout > 0 {
		return s.defaultTimeout
	}
	return DefaultRunTimeout
}

// CPULimit returns the CPU-seconds limit, or zero when unlimited.
func (s Step) CPULimit() time.Duration {
	if d, err := time.ParseDuration(s.RawCPULimit); err == nil && d > 0 {
		return d
	}
	return 0
}

// Availability reports whether a step's binary resolves on PATH.
type Availability struct {
	Stage     string `json:"stage"`
	Binary    string `json:"binary"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
	Available bool   `json:"available"`
}

// Check resolves the compiler and runner binaries.
func (p *Profile) Check() []Availability {
	return []Availability{
		lookup("compile", p.Compile.Binary()),
		lookup("run", p.Run.Binary()),
	}
}

func lookup(stage, binary string) Availability {
	a := Availability{Stage: stage, Binary: binary}
	if binary == "" {
		a.Error = "no command configured"
		return a
	}
	resolved, err := exec.LookPath(binary)
	if err != nil {
		a.Error = err.Error()
		return a
	}
	a.Path = resolved
	a.Available = true
	return a
}
