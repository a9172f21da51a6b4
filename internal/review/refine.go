package review

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/grepiku/grepiku/internal/config"
	"github.com/grepiku/grepiku/internal/diffindex"
	"github.com/grepiku/grepiku/internal/schema"
)

// refineResult separates the comment set into what gets posted inline and
// what folds into the summary, plus human-readable notes about what the
// refinement changed.
type refineResult struct {
	inline          []schema.Comment
	summaryComments []schema.Comment
	diagnostics     []string
}

// refine applies the post-editor quality passes, in order: text cleanup,
// evidence gate, blocking downgrade, dedupe, diff anchoring, strictness and
// feedback filtering, and the per-file inline cap.
func refine(diff *diffindex.Index, comments []schema.Comment, cfg config.ResolvedConfig, muted map[string]bool) refineResult {
	var res refineResult

	kept := make([]schema.Comment, 0, len(comments))
	for _, c := range comments {
		c.Title = unescapeText(c.Title)
		c.Body = unescapeText(c.Body)

		if strings.TrimSpace(c.Evidence) == "" {
			res.diagnostics = append(res.diagnostics, fmt.Sprintf("dropped %q: no evidence", c.Title))
			continue
		}
		if c.Severity == schema.SeverityBlocking && strings.TrimSpace(c.SuggestedPatch) == "" {
			c.Severity = schema.SeverityImportant
		}
		kept = append(kept, c)
	}

	kept = dedupe(kept, &res)

	inline := make([]schema.Comment, 0, len(kept))
	for _, c := range kept {
		if c.CommentType == schema.CommentTypeSummary || cfg.Output.SummaryOnly || !inlineAllowed(cfg) {
			res.summaryComments = append(res.summaryComments, c)
			continue
		}
		if !diff.IsLineInDiff(c.Path, c.Line, diffindex.Side(c.Side)) {
			// The anchor is off-diff; the finding survives in the summary.
			c.CommentType = schema.CommentTypeSummary
			res.summaryComments = append(res.summaryComments, c)
			continue
		}
		inline = append(inline, c)
	}

	inline = filterByPolicy(inline, cfg, muted, &res)
	res.inline = capPerFile(inline, cfg.Limits.MaxInlineComments, &res)
	return res
}

// unescapeText repairs literal escape sequences that survive JSON decoding
// when a model double-encodes its strings.
func unescapeText(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	r := strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\"`, `"`)
	return r.Replace(s)
}

// dedupe drops repeated findings on the same anchor with the same title.
func dedupe(comments []schema.Comment, res *refineResult) []schema.Comment {
	seen := make(map[string]bool, len(comments))
	out := make([]schema.Comment, 0, len(comments))
	for _, c := range comments {
		key := fmt.Sprintf("%s\x00%s\x00%d\x00%s", c.Path, c.Side, c.Line, normalizeTitle(c.Title))
		if seen[key] {
			res.diagnostics = append(res.diagnostics, fmt.Sprintf("dropped duplicate %q at %s:%d", c.Title, c.Path, c.Line))
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

// filterByPolicy applies strictness and feedback muting. Blocking findings
// are never filtered.
func filterByPolicy(comments []schema.Comment, cfg config.ResolvedConfig, muted map[string]bool, res *refineResult) []schema.Comment {
	out := make([]schema.Comment, 0, len(comments))
	for _, c := range comments {
		if c.Severity == schema.SeverityBlocking {
			out = append(out, c)
			continue
		}
		if cfg.Feedback.Enabled && muted[c.Category] {
			res.diagnostics = append(res.diagnostics, fmt.Sprintf("muted %q: category %s is net-downvoted here", c.Title, c.Category))
			continue
		}
		if dropForStrictness(c, cfg.Strictness) {
			res.diagnostics = append(res.diagnostics, fmt.Sprintf("filtered %q at strictness %s", c.Title, cfg.Strictness))
			continue
		}
		out = append(out, c)
	}
	return out
}

// dropForStrictness decides whether a non-blocking finding survives the
// configured strictness. High drops nits and anything low-confidence;
// medium drops uncertain nits.
func dropForStrictness(c schema.Comment, s config.Strictness) bool {
	switch s {
	case config.StrictnessHigh:
		return c.Severity == schema.SeverityNit || c.Confidence == schema.ConfidenceLow
	case config.StrictnessLow:
		return false
	default:
		return c.Confidence == schema.ConfidenceLow && c.Severity == schema.SeverityNit
	}
}

// capPerFile spreads the inline budget across files: each file gets at most
// max/ceil(sqrt(files)) comments, and the total never exceeds max. Surplus is
// dropped, lowest severity and confidence first; summary-only runs never
// reach this point, their comments are routed to the summary upstream.
func capPerFile(comments []schema.Comment, maxInline int, res *refineResult) []schema.Comment {
	if len(comments) == 0 {
		return comments
	}

	files := make(map[string]bool)
	for _, c := range comments {
		files[c.Path] = true
	}
	perFile := maxInline / int(math.Ceil(math.Sqrt(float64(len(files)))))
	if perFile < 1 {
		perFile = 1
	}

	sort.SliceStable(comments, func(i, j int) bool {
		if a, b := severityRank(comments[i].Severity), severityRank(comments[j].Severity); a != b {
			return a < b
		}
		return confidenceRank(comments[i].Confidence) < confidenceRank(comments[j].Confidence)
	})

	counts := make(map[string]int, len(files))
	out := make([]schema.Comment, 0, maxInline)
	for _, c := range comments {
		if len(out) >= maxInline {
			res.diagnostics = append(res.diagnostics, fmt.Sprintf("inline limit reached, dropped %q", c.Title))
			continue
		}
		if counts[c.Path] >= perFile && c.Severity != schema.SeverityBlocking {
			res.diagnostics = append(res.diagnostics, fmt.Sprintf("per-file limit reached for %s, dropped %q", c.Path, c.Title))
			continue
		}
		counts[c.Path]++
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Line < out[j].Line
	})
	return out
}

func severityRank(s string) int {
	switch s {
	case schema.SeverityBlocking:
		return 0
	case schema.SeverityImportant:
		return 1
	default:
		return 2
	}
}

func confidenceRank(c string) int {
	switch c {
	case schema.ConfidenceHigh:
		return 0
	case schema.ConfidenceMedium:
		return 1
	default:
		return 2
	}
}

// normalizeTitle lowercases and strips punctuation so near-identical titles
// collide during dedupe.
func normalizeTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
