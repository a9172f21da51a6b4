package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grepiku/grepiku/pkg/errors"
)

const validReview = `{
  "comments": [
    {
      "comment_id": "c1",
      "comment_key": "k1",
      "path": "src/foo.ts",
      "side": "RIGHT",
      "line": 42,
      "severity": "blocking",
      "category": "bug",
      "title": "Missing null check",
      "body": "user may be undefined",
      "evidence": "const id = user.id",
      "suggested_patch": "if (!user) return",
      "confidence": "high"
    }
  ],
  "summary": {
    "overview": "One correctness issue.",
    "risk": "medium",
    "confidence": 0.7,
    "key_concerns": ["null handling"]
  }
}`

func TestParseReviewValid(t *testing.T) {
	out, err := ParseReview([]byte(validReview))
	require.NoError(t, err)
	require.Len(t, out.Comments, 1)

	c := out.Comments[0]
	assert.Equal(t, "c1", c.CommentID)
	assert.Equal(t, 42, c.Line)
	assert.Equal(t, SeverityBlocking, c.Severity)
	assert.Equal(t, ConfidenceHigh, c.Confidence)

	require.NotNil(t, out.Summary)
	assert.Equal(t, "medium", out.Summary.Risk)
	assert.InDelta(t, 0.7, out.Summary.Confidence, 1e-9)
}

func TestParseReviewRepairsCodeFence(t *testing.T) {
	fenced := "Here is the review:\n```json\n" + validReview + "\n```\nLet me know!"
	out, err := ParseReview([]byte(fenced))
	require.NoError(t, err)
	assert.Len(t, out.Comments, 1)
}

func TestParseReviewRepairsSurroundingProse(t *testing.T) {
	out, err := ParseReview([]byte("Sure! " + validReview + " Hope this helps."))
	require.NoError(t, err)
	assert.Len(t, out.Comments, 1)
}

func TestParseReviewMissingRequiredField(t *testing.T) {
	// No evidence field.
	raw := `{"comments":[{"comment_id":"c1","comment_key":"k1","path":"a.go","side":"RIGHT","line":1,"severity":"nit","category":"style","title":"t","body":"b"}]}`
	_, err := ParseReview([]byte(raw))
	require.Error(t, err)

	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, errors.ErrCodeSchemaInvalid, appErr.Code)
}

func TestParseReviewRejectsUnknownEnum(t *testing.T) {
	raw := `{"comments":[{"comment_id":"c1","comment_key":"k1","path":"a.go","side":"MIDDLE","line":1,"severity":"nit","category":"style","title":"t","body":"b","evidence":"e"}]}`
	_, err := ParseReview([]byte(raw))
	assert.Error(t, err)
}

func TestParseReviewEmptyComments(t *testing.T) {
	out, err := ParseReview([]byte(`{"comments": []}`))
	require.NoError(t, err)
	assert.Empty(t, out.Comments)
	assert.Nil(t, out.Summary)
}

func TestParseVerdicts(t *testing.T) {
	raw := `{"verdicts":[
	  {"comment_id":"c1","verdict":"keep"},
	  {"comment_id":"c2","verdict":"drop","reason":"duplicate"},
	  {"comment_id":"c3","verdict":"revise","revised_comment":{"comment_id":"c3","title":"tightened"}}
	]}`
	out, err := ParseVerdicts([]byte(raw))
	require.NoError(t, err)
	require.Len(t, out.Verdicts, 3)
	assert.Equal(t, VerdictDrop, out.Verdicts[1].Verdict)
	require.NotNil(t, out.Verdicts[2].RevisedComment)
	assert.Equal(t, "tightened", out.Verdicts[2].RevisedComment.Title)
}

func TestParseVerdictsRejectsUnknownAction(t *testing.T) {
	_, err := ParseVerdicts([]byte(`{"verdicts":[{"comment_id":"c1","verdict":"maybe"}]}`))
	assert.Error(t, err)
}

func TestValidateCommentOnRevision(t *testing.T) {
	// A partial revised_comment passes the verdicts schema but not the
	// comment schema, so the caller falls back to the draft.
	partial := &Comment{CommentID: "c3", Title: "tightened"}
	assert.Error(t, ValidateComment(partial))

	full := &Comment{
		CommentID:  "c3",
		CommentKey: "k3",
		Path:       "a.go",
		Side:       "RIGHT",
		Line:       7,
		Severity:   SeverityImportant,
		Category:   CategoryBug,
		Title:      "tightened",
		Body:       "b",
		Evidence:   "e",
	}
	assert.NoError(t, ValidateComment(full))
}

func TestParseChecks(t *testing.T) {
	raw := `{
	  "head_sha": "abc123",
	  "checks": {
	    "lint": {"status": "pass"},
	    "build": {"status": "fail", "summary": "2 errors", "top_errors": ["undefined: x"]},
	    "test": {"status": "skipped"}
	  }
	}`
	out, err := ParseChecks([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "abc123", out.HeadSHA)
	require.NotNil(t, out.Checks.Build)
	assert.Equal(t, CheckStatusFail, out.Checks.Build.Status)
	assert.Equal(t, []string{"undefined: x"}, out.Checks.Build.TopErrors)
}

func TestParseChecksMissingHeadSHA(t *testing.T) {
	_, err := ParseChecks([]byte(`{"checks":{}}`))
	assert.Error(t, err)
}

func TestRepair(t *testing.T) {
	assert.Equal(t, `{"a":1}`, Repair("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, Repair("noise before {\"a\":1} noise after"))
	assert.Equal(t, `[1,2]`, Repair("the list: [1,2]"))
	assert.Equal(t, `{"a":1}`, Repair(`{"a":1}`))
	assert.Equal(t, "no json here", Repair("  no json here  "))
}
