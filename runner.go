package ort

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/fatih/color"
	"github.com/mgenware/j9/v3"
)

// Command is one external tool invocation, fully assembled before anything
// runs. Step names show up in error messages and dry-run output.
type Command struct {
	Step string
	Name string
	Args []string
	// Extra environment entries in KEY=VALUE form.
	Env []string
	// Working directory. Empty means the current directory.
	Dir string
}

func (c *Command) String() string {
	var b strings.Builder
	for _, e := range c.Env {
		b.WriteString(e)
		b.WriteByte(' ')
	}
	b.WriteString(c.Name)
	for _, a := range c.Args {
		b.WriteByte(' ')
		if strings.ContainsAny(a, " \t\"") {
			fmt.Fprintf(&b, "%q", a)
		} else {
			b.WriteString(a)
		}
	}
	return b.String()
}

// Runner executes assembled commands. The build, source and clean paths all
// go through it, so a dry run can swap in a printing implementation and
// tests can capture every invocation.
type Runner interface {
	Run(cmd *Command) error
}

var stepColor = color.New(color.FgCyan, color.Bold)
var warnColor = color.New(color.FgYellow)

var warnOut io.Writer = color.Error

// Warnf prints a highlighted warning line.
func Warnf(format string, a ...any) {
	warnColor.Fprintf(warnOut, "Warning: "+format+"\n", a...)
}

// StepError is a step failure caused by its subprocess exiting non-zero.
// Code carries the child's own exit status so the process can pass it
// through.
type StepError struct {
	Step string
	Code int
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// ExitCode maps a command-tree error to the process exit status: a failed
// subprocess propagates its own code, everything else is 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var se *StepError
	if errors.As(err, &se) && se.Code > 0 {
		return se.Code
	}
	return 1
}

type tunnelRunner struct {
	tunnel  *j9.Tunnel
	baseDir string
}

// NewTunnelRunner returns the production Runner backed by a local j9 tunnel.
func NewTunnelRunner() Runner {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return &tunnelRunner{
		tunnel:  j9.NewTunnel(j9.NewLocalNode(), j9.NewConsoleLogger()),
		baseDir: wd,
	}
}

// Run spawns the command and blocks until it exits. The tunnel aborts by
// panicking when a process fails; that is translated here into an error
// carrying the step name and, when the child exited, its exit status.
func (r *tunnelRunner) Run(cmd *Command) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = stepError(cmd.Step, p)
		}
	}()
	stepColor.Printf("==> [%s] %s\n", cmd.Step, cmd.String())
	// The tunnel's working directory is sticky across spawns, so always CD.
	r.tunnel.CD(r.runDir(cmd))
	r.tunnel.Spawn(&j9.SpawnOpt{
		Name: cmd.Name,
		Args: cmd.Args,
		Env:  cmd.Env,
	})
	return nil
}

func (r *tunnelRunner) runDir(cmd *Command) string {
	if cmd.Dir != "" {
		return cmd.Dir
	}
	return r.baseDir
}

// stepError translates a tunnel panic value into a step failure, keeping the
// subprocess exit code when one is buried in the panic.
func stepError(step string, p any) error {
	perr, ok := p.(error)
	if !ok {
		return fmt.Errorf("step %q failed: %v", step, p)
	}
	var exitErr *exec.ExitError
	if errors.As(perr, &exitErr) {
		return &StepError{Step: step, Code: exitErr.ExitCode(), Err: perr}
	}
	return fmt.Errorf("step %q failed: %v", step, perr)
}

// DryRunner prints every command line verbatim and spawns nothing.
type DryRunner struct {
	Out io.Writer
}

func (r *DryRunner) Run(cmd *Command) error {
	fmt.Fprintf(r.Out, "[%s] %s\n", cmd.Step, cmd.String())
	return nil
}
