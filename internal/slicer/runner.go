package slicer

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Command is one slicer invocation. Paths in Args under Dir refer to the work directory.
// Profile is the absolute path of the configuration file named by --load, if any.
type Command struct {
	Path    string
	Args    []string
	Dir     string
	Profile string
}

// Output is what the slicer printed.
type Output struct {
	Stdout string
	Stderr string
}

// String joins both streams for diagnostics.
func (o Output) String() string {
	return strings.TrimSpace(strings.TrimSpace(o.Stdout) + "\n" + strings.TrimSpace(o.Stderr))
}

// ExitError reports a slicer process that ran and exited non-zero.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return "exit status " + strconv.Itoa(e.Code)
}

// Runner executes the slicing engine and blocks until it exits. A process that ran
// but failed is reported as *ExitError; any other error means it never completed.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Output, error)
}

// ExecRunner runs the slicer as a local subprocess.
type ExecRunner struct{}

// Run executes cmd and captures stdout and stderr separately.
func (ExecRunner) Run(ctx context.Context, cmd Command) (Output, error) {
	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	c.WaitDelay = 2 * time.Second
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return out, &ExitError{Code: exitErr.ExitCode()}
	}
	if err != nil && ctx.Err() != nil {
		return out, ctx.Err()
	}
	return out, err
}
