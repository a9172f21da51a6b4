// Package prompt composes the stage prompts handed to the external runner.
// Each stage gets a structured Spec rendered into sectioned markdown; the
// bundle files referenced by the prompts are written by the orchestrator.
package prompt

import (
	"fmt"
	"strings"
)

// Spec is the intermediate representation of one stage prompt.
type Spec struct {
	Role     string
	Goals    []string
	Rules    []string
	Inputs   []InputRef
	Output   string
	Addendum []string
}

// InputRef points the runner at one bundle file.
type InputRef struct {
	File    string
	Purpose string
}

// Render produces the final prompt text.
func (s *Spec) Render() string {
	var b strings.Builder
	b.WriteString(s.Role)
	b.WriteString("\n")

	if len(s.Goals) > 0 {
		b.WriteString("\n## Goals\n")
		writeBullets(&b, s.Goals)
	}
	if len(s.Inputs) > 0 {
		b.WriteString("\n## Inputs\n")
		for _, in := range s.Inputs {
			fmt.Fprintf(&b, "- `%s` — %s\n", in.File, in.Purpose)
		}
	}
	if len(s.Rules) > 0 {
		b.WriteString("\n## Rules\n")
		writeBullets(&b, s.Rules)
	}
	if s.Output != "" {
		b.WriteString("\n## Output\n")
		b.WriteString(s.Output)
		b.WriteString("\n")
	}
	for _, a := range s.Addendum {
		b.WriteString("\n")
		b.WriteString(a)
		b.WriteString("\n")
	}
	return b.String()
}

func writeBullets(b *strings.Builder, items []string) {
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(item)
		b.WriteString("\n")
	}
}
