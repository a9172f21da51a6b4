// Package stage invokes the external LLM stage runner and manages the
// per-run bundle directory it reads from and writes to.
package stage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/grepiku/grepiku/pkg/errors"
)

// Name identifies one pipeline stage.
type Name string

// Pipeline stages, in execution order.
const (
	Reviewer Name = "reviewer"
	Editor   Name = "editor"
	Coverage Name = "coverage"
	Verifier Name = "verifier"
)

// Canonical bundle input files.
const (
	InputPR             = "pr.md"
	InputDiff           = "diff.patch"
	InputChangedFiles   = "changed_files.json"
	InputBotConfig      = "bot_config.json"
	InputRules          = "rules.json"
	InputScopes         = "scopes.json"
	InputContextPack    = "context_pack.json"
	InputConfigWarnings = "config_warnings.json"
)

// Canonical stage output files.
const (
	OutputDraft    = "draft_review.json"
	OutputFinal    = "final_review.json"
	OutputVerdicts = "verdicts.json"
	OutputChecks   = "checks.json"
)

// Bundle is the on-disk workspace for one review run:
// <bundles_dir>/<run_id>/{bundle, out, codex_home}.
type Bundle struct {
	runID string
	root  string
}

// NewBundle creates the bundle directory tree for a run.
func NewBundle(bundlesDir, runID string) (*Bundle, error) {
	b := &Bundle{runID: runID, root: filepath.Join(bundlesDir, runID)}
	for _, dir := range []string{b.InputDir(), b.OutDir(), b.AgentHome()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, "create bundle dir", err)
		}
	}
	return b, nil
}

// RunID returns the run this bundle belongs to.
func (b *Bundle) RunID() string { return b.runID }

// Dir returns the bundle root.
func (b *Bundle) Dir() string { return b.root }

// InputDir holds the stage inputs.
func (b *Bundle) InputDir() string { return filepath.Join(b.root, "bundle") }

// OutDir holds the stage outputs.
func (b *Bundle) OutDir() string { return filepath.Join(b.root, "out") }

// AgentHome is the isolated home directory handed to the runner.
func (b *Bundle) AgentHome() string { return filepath.Join(b.root, "codex_home") }

// WriteInput places one input file into the bundle.
func (b *Bundle) WriteInput(name string, data []byte) error {
	if err := os.WriteFile(filepath.Join(b.InputDir(), name), data, 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, "write bundle input "+name, err)
	}
	return nil
}

// WriteJSONInput marshals v and places it as an input file.
func (b *Bundle) WriteJSONInput(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, "marshal bundle input "+name, err)
	}
	return b.WriteInput(name, data)
}

// ReadOutput reads one stage output file.
func (b *Bundle) ReadOutput(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(b.OutDir(), name))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStageOutput, "read stage output "+name, err)
	}
	return data, nil
}

// ReadOutputOrLastMessage reads a stage output file, falling back to the
// stage's last-message artifact when the runner did not produce the file.
func (b *Bundle) ReadOutputOrLastMessage(name string, st Name) ([]byte, error) {
	data, err := b.ReadOutput(name)
	if err == nil {
		return data, nil
	}
	fallback, ferr := os.ReadFile(filepath.Join(b.OutDir(), lastMessageFile(st)))
	if ferr != nil {
		return nil, err
	}
	return fallback, nil
}

func lastMessageFile(st Name) string {
	return fmt.Sprintf("last_message_%s.txt", st)
}
