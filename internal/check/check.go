// Package check provides the startup environment preflight. It verifies
// the pieces the service cannot run without before the server binds.
package check

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/fatih/color"

	"github.com/grepiku/grepiku/internal/config"
)

// Result collects the outcome of one preflight pass.
type Result struct {
	// Success is false when a blocking error was found.
	Success bool
	// Errors prevent server startup.
	Errors []string
	// Warnings do not block startup.
	Warnings []string
	// Suggestions are hints for fixing reported issues.
	Suggestions []string
}

// Checker runs the environment preflight against a loaded configuration.
type Checker struct {
	cfg *config.Config
}

// New creates a Checker.
func New(cfg *config.Config) *Checker {
	return &Checker{cfg: cfg}
}

// Run executes every check and returns the aggregate result.
func (c *Checker) Run() *Result {
	result := &Result{Success: true}

	c.checkGit(result)
	c.checkStageRunner(result)
	c.checkProviders(result)
	c.checkWorkspace(result)

	return result
}

// checkGit requires the git binary; checkouts and diffs shell out to it.
func (c *Checker) checkGit(result *Result) {
	if _, err := exec.LookPath("git"); err != nil {
		result.Success = false
		result.Errors = append(result.Errors, "git not found in PATH")
		result.Suggestions = append(result.Suggestions, "Install git; checkouts and diffs depend on it")
	}
}

// checkStageRunner warns when the LLM stage command is missing. Reviews
// will fail at stage time, but the webhook plane still works.
func (c *Checker) checkStageRunner(result *Result) {
	cmd := c.cfg.Stages.Command
	if cmd == "" {
		return
	}
	if _, err := exec.LookPath(cmd); err != nil {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Stage runner %q not found in PATH; review jobs will fail until it is installed", cmd))
	}
}

func (c *Checker) checkProviders(result *Result) {
	if len(c.cfg.Providers) == 0 {
		result.Warnings = append(result.Warnings, "No forge providers configured; webhooks will be rejected")
		result.Suggestions = append(result.Suggestions, "Add a providers entry to the config file")
		return
	}
	for _, p := range c.cfg.Providers {
		if p.WebhookSecret == "" {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("Provider %s has no webhook_secret; signature validation is disabled", p.Type))
		}
		if p.Token == "" && p.AppID == 0 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("Provider %s has no token or app credentials; it will fail to initialize", p.Type))
		}
	}
}

// checkWorkspace verifies the state directories are writable.
func (c *Checker) checkWorkspace(result *Result) {
	for _, dir := range []string{
		c.cfg.Workspace.ReposDir,
		c.cfg.Workspace.BundlesDir,
		filepath.Dir(c.cfg.Database.Path),
	} {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			result.Success = false
			result.Errors = append(result.Errors,
				fmt.Sprintf("Cannot create directory %s: %v", dir, err))
		}
	}
}

// Print writes the result in a human-readable form.
func Print(result *Result) {
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)

	if len(result.Errors) > 0 {
		fmt.Println()
		red.Println("[ERROR] Environment check failed")
		for _, err := range result.Errors {
			red.Printf("  ✗ %s\n", err)
		}
	}

	if len(result.Warnings) > 0 {
		fmt.Println()
		for _, warn := range result.Warnings {
			yellow.Printf("  ⚠ %s\n", warn)
		}
	}

	if len(result.Suggestions) > 0 {
		cyan.Println("\nTo fix these issues:")
		for _, suggestion := range result.Suggestions {
			fmt.Printf("  → %s\n", suggestion)
		}
	}
}
