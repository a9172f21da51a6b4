package schema

import (
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/grepiku/grepiku/pkg/errors"
)

const (
	commentSchemaURL  = "https://grepiku.dev/schemas/comment.json"
	reviewSchemaURL   = "https://grepiku.dev/schemas/review.json"
	verdictsSchemaURL = "https://grepiku.dev/schemas/verdicts.json"
	checksSchemaURL   = "https://grepiku.dev/schemas/checks.json"
)

const commentSchemaDoc = `{
  "type": "object",
  "required": ["comment_id", "comment_key", "path", "side", "line", "severity", "category", "title", "body", "evidence"],
  "properties": {
    "comment_id": {"type": "string", "minLength": 1},
    "comment_key": {"type": "string", "minLength": 1},
    "path": {"type": "string", "minLength": 1},
    "side": {"enum": ["LEFT", "RIGHT"]},
    "line": {"type": "integer", "minimum": 0},
    "severity": {"enum": ["blocking", "important", "nit"]},
    "category": {"enum": ["bug", "security", "performance", "maintainability", "testing", "style"]},
    "title": {"type": "string"},
    "body": {"type": "string"},
    "evidence": {"type": "string"},
    "suggested_patch": {"type": "string"},
    "comment_type": {"enum": ["inline", "summary"]},
    "rule_id": {"type": "string"},
    "rule_reason": {"type": "string"},
    "confidence": {"enum": ["high", "medium", "low"]}
  }
}`

const reviewSchemaDoc = `{
  "type": "object",
  "required": ["comments"],
  "properties": {
    "comments": {"type": "array", "items": {"$ref": "comment.json"}},
    "summary": {
      "type": "object",
      "required": ["overview"],
      "properties": {
        "overview": {"type": "string"},
        "risk": {"enum": ["low", "medium", "high"]},
        "confidence": {"type": "number", "minimum": 0, "maximum": 1},
        "key_concerns": {"type": "array", "items": {"type": "string"}},
        "file_breakdown": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["path"],
            "properties": {
              "path": {"type": "string"},
              "comments": {"type": "integer", "minimum": 0},
              "note": {"type": "string"}
            }
          }
        },
        "diagram_mermaid": {"type": "string"}
      }
    }
  }
}`

const verdictsSchemaDoc = `{
  "type": "object",
  "required": ["verdicts"],
  "properties": {
    "verdicts": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["comment_id", "verdict"],
        "properties": {
          "comment_id": {"type": "string", "minLength": 1},
          "verdict": {"enum": ["keep", "revise", "drop"]},
          "reason": {"type": "string"},
          "revised_comment": {"type": "object"}
        }
      }
    }
  }
}`

const checksSchemaDoc = `{
  "type": "object",
  "required": ["head_sha", "checks"],
  "properties": {
    "head_sha": {"type": "string", "minLength": 1},
    "checks": {
      "type": "object",
      "properties": {
        "lint": {"$ref": "#/$defs/check"},
        "build": {"$ref": "#/$defs/check"},
        "test": {"$ref": "#/$defs/check"}
      }
    }
  },
  "$defs": {
    "check": {
      "type": "object",
      "required": ["status"],
      "properties": {
        "status": {"enum": ["pass", "fail", "timeout", "skipped", "error"]},
        "summary": {"type": "string"},
        "top_errors": {"type": "array", "items": {"type": "string"}}
      }
    }
  }
}`

var (
	commentSchema  *jsonschema.Schema
	reviewSchema   *jsonschema.Schema
	verdictsSchema *jsonschema.Schema
	checksSchema   *jsonschema.Schema
)

func init() {
	c := jsonschema.NewCompiler()
	for url, doc := range map[string]string{
		commentSchemaURL:  commentSchemaDoc,
		reviewSchemaURL:   reviewSchemaDoc,
		verdictsSchemaURL: verdictsSchemaDoc,
		checksSchemaURL:   checksSchemaDoc,
	} {
		if err := c.AddResource(url, strings.NewReader(doc)); err != nil {
			panic(err)
		}
	}
	commentSchema = c.MustCompile(commentSchemaURL)
	reviewSchema = c.MustCompile(reviewSchemaURL)
	verdictsSchema = c.MustCompile(verdictsSchemaURL)
	checksSchema = c.MustCompile(checksSchemaURL)
}

// ParseReview validates and decodes a draft_review.json / final_review.json
// payload, repairing common framing noise before giving up.
func ParseReview(raw []byte) (*ReviewOutput, error) {
	return parse[ReviewOutput](raw, reviewSchema, "review")
}

// ParseVerdicts validates and decodes a verdicts.json payload.
func ParseVerdicts(raw []byte) (*VerdictsOutput, error) {
	return parse[VerdictsOutput](raw, verdictsSchema, "verdicts")
}

// ParseChecks validates and decodes a checks.json payload.
func ParseChecks(raw []byte) (*ChecksOutput, error) {
	return parse[ChecksOutput](raw, checksSchema, "checks")
}

// ValidateComment checks a single comment against the comment schema. The
// editor's revised_comment goes through this before it may replace a draft.
func ValidateComment(c *Comment) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(errors.ErrCodeSchemaInvalid, "marshal comment", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return errors.Wrap(errors.ErrCodeSchemaInvalid, "decode comment", err)
	}
	if err := commentSchema.Validate(doc); err != nil {
		return errors.Wrap(errors.ErrCodeSchemaInvalid, "comment failed validation", err)
	}
	return nil
}

func parse[T any](raw []byte, sch *jsonschema.Schema, what string) (*T, error) {
	out, err := decodeValidated[T](raw, sch)
	if err == nil {
		return out, nil
	}
	if repaired := Repair(string(raw)); repaired != strings.TrimSpace(string(raw)) {
		if out, rerr := decodeValidated[T]([]byte(repaired), sch); rerr == nil {
			return out, nil
		}
	}
	return nil, errors.Wrap(errors.ErrCodeSchemaInvalid, what+" output failed validation", err)
}

func decodeValidated[T any](raw []byte, sch *jsonschema.Schema) (*T, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if err := sch.Validate(doc); err != nil {
		return nil, err
	}
	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Repair strips the framing LLMs tend to wrap JSON in: a markdown code fence
// around the payload, or prose before and after it. The result is the
// outermost JSON value found in the content, unmodified inside.
func Repair(content string) string {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		if i := strings.Index(s, "\n"); i >= 0 {
			s = s[i+1:]
		}
		if j := strings.LastIndex(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		start = strings.Index(s, "[")
		end = strings.LastIndex(s, "]")
	}
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return strings.TrimSpace(s)
}
