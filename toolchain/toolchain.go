// Package toolchain locates and runs the external flat-binary assembler.
package toolchain

import (
	"context"
	"io"
	"os"
	"os/exec"
	"time"
)

// DEFAULT_TIMEOUT bounds an external assembler run when none is configured.
const DEFAULT_TIMEOUT = 60 * time.Second

// Candidate is an assembler executable, and the arguments of its version query.
type Candidate struct {
	Name        string   `yaml:"name"`
	VersionArgs []string `yaml:"version_args"`
}

// DefaultCandidates are tried in order.
var DefaultCandidates = []Candidate{
	{Name: "nasm", VersionArgs: []string{"-v"}},
	{Name: "yasm", VersionArgs: []string{"--version"}},
}

// Runner executes an external program to completion.
type Runner interface {
	Run(ctx context.Context, stdout, stderr io.Writer, name string, args ...string) error
}

// ExecRunner runs programs from the host PATH.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, stdout, stderr io.Writer, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}

// Probe returns the first candidate whose version query exits cleanly.
// Probe output is discarded, and failed candidates are not logged; the
// returned ErrToolchainNotFound names them all.
func Probe(ctx context.Context, runner Runner, candidates []Candidate) (tool Candidate, err error) {
	names := make([]string, 0, len(candidates))

	for _, candidate := range candidates {
		names = append(names, candidate.Name)

		err = ctx.Err()
		if err != nil {
			return
		}

		if runner.Run(ctx, io.Discard, io.Discard, candidate.Name, candidate.VersionArgs...) == nil {
			tool = candidate
			return
		}
	}

	err = &ErrToolchainNotFound{Candidates: names}
	return
}

// Assembler runs a located tool, with the console inherited.
type Assembler struct {
	Runner  Runner        // Default: ExecRunner{}
	Tool    Candidate
	Timeout time.Duration // Default: DEFAULT_TIMEOUT
	Stdout  io.Writer     // Default: os.Stdout
	Stderr  io.Writer     // Default: os.Stderr
}

// Assemble produces a flat binary from an assembly source file.
func (asm *Assembler) Assemble(ctx context.Context, asmPath, binPath string) (err error) {
	runner := asm.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	timeout := asm.Timeout
	if timeout <= 0 {
		timeout = DEFAULT_TIMEOUT
	}
	stdout := asm.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := asm.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err = runner.Run(ctx, stdout, stderr, asm.Tool.Name, "-f", "bin", "-o", binPath, asmPath)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		err = &ErrExternalAssembly{Tool: asm.Tool.Name, Err: err}
	}

	return
}

// Assemble runs tool with the default console and the given timeout.
func Assemble(ctx context.Context, runner Runner, tool Candidate, asmPath, binPath string, timeout time.Duration) error {
	asm := &Assembler{
		Runner:  runner,
		Tool:    tool,
		Timeout: timeout,
	}
	return asm.Assemble(ctx, asmPath, binPath)
}
