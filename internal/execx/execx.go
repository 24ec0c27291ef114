// Package execx provides typed access to the external tools the pipeline
// drives (vault CLI, disk tooling, snapshot tool). Commands run to
// completion; stdout is returned and stderr is folded into the error. The
// Runner interface is the test seam for every package that shells out.
package execx

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes an external command and returns its stdout.
type Runner interface {
	// Run executes name with args and returns trimmed stdout.
	Run(ctx context.Context, name string, args ...string) (string, error)

	// RunInput is Run with stdin supplied. Used to pass secret values to
	// child processes without exposing them on the command line.
	RunInput(ctx context.Context, stdin string, name string, args ...string) (string, error)
}

// CmdRunner is the production Runner backed by os/exec.
type CmdRunner struct{}

func (CmdRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	return run(ctx, "", name, args...)
}

func (CmdRunner) RunInput(ctx context.Context, stdin string, name string, args ...string) (string, error) {
	return run(ctx, stdin, name, args...)
}

func run(ctx context.Context, stdin string, name string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, name, args...)
	command.Stdout = &stdout
	command.Stderr = &stderr
	if stdin != "" {
		command.Stdin = strings.NewReader(stdin)
	}

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("%s %s: %w (stderr: %s)",
			name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}
