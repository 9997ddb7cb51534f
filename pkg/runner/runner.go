// Package runner executes external command line tools.
package runner

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Command describes one invocation of an external tool.
type Command struct {
	Name string
	Args []string
	// Env entries in KEY=VALUE form, added to the parent environment.
	Env []string
	Dir string
}

// String renders the command line for logging.
func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// A Runner runs commands to completion.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// ExecRunner runs commands as child processes.
type ExecRunner struct {
	Logger *zap.SugaredLogger
}

// NewExecRunner returns a Runner backed by os/exec. A nil logger discards output.
func NewExecRunner(logger *zap.SugaredLogger) *ExecRunner {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ExecRunner{Logger: logger}
}

// Run starts the command and waits for it. The process is killed when ctx is done.
// A non-zero exit yields an error wrapping *exec.ExitError with stderr attached.
func (r *ExecRunner) Run(ctx context.Context, c Command) error {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	//nolint:gosec // tool names are fixed by the calling package
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debugw("running command", "cmd", c.String())
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			logger.Warnw("command failed", "cmd", c.Name, "stderr", msg)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Wrapf(ctxErr, "%s interrupted", c.Name)
		}
		if msg != "" {
			return errors.Wrapf(err, "%s failed: %s", c.Name, msg)
		}
		return errors.Wrapf(err, "%s failed", c.Name)
	}
	if out := strings.TrimSpace(stdout.String()); out != "" {
		logger.Debugw("command output", "cmd", c.Name, "stdout", out)
	}
	return nil
}
