package worktree

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// gitTimeout bounds any single git subprocess.
const gitTimeout = 5 * time.Minute

// runGit executes git in dir (or the current directory when dir is empty)
// and returns combined stdout. Stderr rides along in the error.
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	full := args
	if dir != "" {
		full = append([]string{"-C", dir}, args...)
	}
	cmd := exec.CommandContext(timeoutCtx, "git", full...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if timeoutCtx.Err() == context.DeadlineExceeded {
			return stdout.String(), fmt.Errorf("git %s timed out after %v", args[0], gitTimeout)
		}
		return stdout.String(), fmt.Errorf("git %s failed: %w (stderr: %s)", args[0], err, stderr.String())
	}
	return stdout.String(), nil
}
