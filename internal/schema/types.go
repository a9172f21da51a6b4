// Package schema defines the wire formats exchanged with the review stages
// and validates stage output against strict JSON schemas, with a repair
// fallback for the usual LLM framing noise (code fences, prose around the
// object).
package schema

// Severity levels for a review comment.
const (
	SeverityBlocking  = "blocking"
	SeverityImportant = "important"
	SeverityNit       = "nit"
)

// Categories for a review comment.
const (
	CategoryBug             = "bug"
	CategorySecurity        = "security"
	CategoryPerformance     = "performance"
	CategoryMaintainability = "maintainability"
	CategoryTesting         = "testing"
	CategoryStyle           = "style"
)

// Confidence levels for a review comment.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Comment placement types.
const (
	CommentTypeInline  = "inline"
	CommentTypeSummary = "summary"
)

// Verdict actions for the editor stage.
const (
	VerdictKeep   = "keep"
	VerdictRevise = "revise"
	VerdictDrop   = "drop"
)

// Statuses for an external check.
const (
	CheckStatusPass    = "pass"
	CheckStatusFail    = "fail"
	CheckStatusTimeout = "timeout"
	CheckStatusSkipped = "skipped"
	CheckStatusError   = "error"
)

// Comment is one review comment produced by a stage.
type Comment struct {
	CommentID      string `json:"comment_id"`
	CommentKey     string `json:"comment_key"`
	Path           string `json:"path"`
	Side           string `json:"side"`
	Line           int    `json:"line"`
	Severity       string `json:"severity"`
	Category       string `json:"category"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	Evidence       string `json:"evidence"`
	SuggestedPatch string `json:"suggested_patch,omitempty"`
	CommentType    string `json:"comment_type,omitempty"`
	RuleID         string `json:"rule_id,omitempty"`
	RuleReason     string `json:"rule_reason,omitempty"`
	Confidence     string `json:"confidence,omitempty"`
}

// FileBreakdown is one per-path row of the review summary.
type FileBreakdown struct {
	Path     string `json:"path"`
	Comments int    `json:"comments"`
	Note     string `json:"note,omitempty"`
}

// Summary is the roll-up section of a review.
type Summary struct {
	Overview       string          `json:"overview"`
	Risk           string          `json:"risk,omitempty"`
	Confidence     float64         `json:"confidence,omitempty"`
	KeyConcerns    []string        `json:"key_concerns,omitempty"`
	FileBreakdown  []FileBreakdown `json:"file_breakdown,omitempty"`
	DiagramMermaid string          `json:"diagram_mermaid,omitempty"`
}

// ReviewOutput is the reviewer and editor stage payload
// (draft_review.json / final_review.json).
type ReviewOutput struct {
	Comments []Comment `json:"comments"`
	Summary  *Summary  `json:"summary,omitempty"`
}

// Verdict is the editor's ruling on one draft comment.
type Verdict struct {
	CommentID      string   `json:"comment_id"`
	Verdict        string   `json:"verdict"`
	Reason         string   `json:"reason,omitempty"`
	RevisedComment *Comment `json:"revised_comment,omitempty"`
}

// VerdictsOutput is the editor stage's verdicts.json payload.
type VerdictsOutput struct {
	Verdicts []Verdict `json:"verdicts"`
}

// CheckResult is one external check outcome from the verifier.
type CheckResult struct {
	Status    string   `json:"status"`
	Summary   string   `json:"summary,omitempty"`
	TopErrors []string `json:"top_errors,omitempty"`
}

// Checks groups the verifier's per-tool results.
type Checks struct {
	Lint  *CheckResult `json:"lint,omitempty"`
	Build *CheckResult `json:"build,omitempty"`
	Test  *CheckResult `json:"test,omitempty"`
}

// ChecksOutput is the verifier stage's checks.json payload.
type ChecksOutput struct {
	HeadSHA string `json:"head_sha"`
	Checks  Checks `json:"checks"`
}
