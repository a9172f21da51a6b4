package stage

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/grepiku/grepiku/internal/config"
	"github.com/grepiku/grepiku/pkg/errors"
	"github.com/grepiku/grepiku/pkg/logger"
)

// stderrTailBytes bounds how much runner stderr is attached to errors.
const stderrTailBytes = 2048

// Request describes one stage invocation.
type Request struct {
	Stage     Name
	BundleDir string
	OutDir    string
	Prompt    string
	// Env holds extra KEY=VALUE pairs for the runner process.
	Env []string
}

// Runner executes one pipeline stage against a bundle.
type Runner interface {
	Run(ctx context.Context, req Request) error
}

// ExecRunner shells out to the configured stage-runner executable. The
// runner receives the stage name and directories as flags and the prompt on
// stdin, and is expected to write its artifacts into the out directory.
type ExecRunner struct {
	command string
	timeout time.Duration
}

// NewExecRunner builds a runner from the stages config.
func NewExecRunner(cfg config.StagesConfig) *ExecRunner {
	return &ExecRunner{
		command: cfg.Command,
		timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
}

// Run invokes the stage runner and waits for it, bounded by the per-stage
// timeout.
func (r *ExecRunner) Run(ctx context.Context, req Request) error {
	execCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(execCtx, r.command,
		"--stage", string(req.Stage),
		"--bundle", req.BundleDir,
		"--out", req.OutDir,
	)
	cmd.Stdin = strings.NewReader(req.Prompt)
	cmd.Env = append(os.Environ(), req.Env...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	elapsed := time.Since(start)

	switch {
	case execCtx.Err() == context.DeadlineExceeded:
		logger.Error("Stage timed out",
			zap.String("stage", string(req.Stage)),
			zap.Duration("elapsed", elapsed),
		)
		return errors.Wrap(errors.ErrCodeStageTimeout, "stage "+string(req.Stage)+" timed out", execCtx.Err())
	case err != nil:
		logger.Error("Stage failed",
			zap.String("stage", string(req.Stage)),
			zap.Duration("elapsed", elapsed),
			zap.String("stderr", tail(stderr.String(), stderrTailBytes)),
			zap.Error(err),
		)
		return errors.Wrap(errors.ErrCodeRunFailed, "stage "+string(req.Stage)+" failed", err).
			WithDetails(tail(stderr.String(), stderrTailBytes))
	}

	logger.Info("Stage completed",
		zap.String("stage", string(req.Stage)),
		zap.Duration("elapsed", elapsed),
	)
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
