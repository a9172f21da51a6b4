package contextpack

import (
	"strings"

	"github.com/grepiku/grepiku/internal/diffindex"
)

// Query composition limits.
const (
	maxBodyChars    = 1200
	maxDiffLines    = 140
	maxQueryChars   = 6000
	lexicalTextCap  = 2252 // first 2.2 KiB of embedding text
	minTokenLength  = 2
)

// BuildQuery composes the retrieval query from PR metadata and diff signal.
func BuildQuery(title, body string, diff *diffindex.Index) string {
	var b strings.Builder

	if title != "" {
		b.WriteString(title)
		b.WriteString("\n")
	}
	if body != "" {
		if len(body) > maxBodyChars {
			body = body[:maxBodyChars]
		}
		b.WriteString(body)
		b.WriteString("\n")
	}
	for _, path := range diff.Files() {
		b.WriteString(path)
		b.WriteString("\n")
	}

	// Added/removed lines only; context lines carry no change signal.
	lines := 0
	for _, path := range diff.Files() {
		if lines >= maxDiffLines {
			break
		}
		for _, hunk := range diff.Hunks(path) {
			for _, l := range hunk.Lines {
				if lines >= maxDiffLines {
					break
				}
				if len(l) == 0 || (l[0] != '+' && l[0] != '-') {
					continue
				}
				b.WriteString(strings.TrimSpace(l[1:]))
				b.WriteString("\n")
				lines++
			}
		}
	}

	q := b.String()
	if len(q) > maxQueryChars {
		q = q[:maxQueryChars]
	}
	return q
}

// stopwords are tokens ignored by lexical scoring: English filler plus
// keywords common to every diff.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "this": true,
	"that": true, "from": true, "are": true, "was": true, "when": true,
	"then": true, "have": true, "has": true, "will": true, "would": true,
	"should": true, "could": true, "into": true, "not": true, "but": true,
	"of": true, "to": true, "in": true, "on": true, "at": true, "by": true,
	"is": true, "it": true, "as": true, "be": true, "or": true, "an": true,
	"if": true, "else": true, "return": true, "func": true, "function": true,
	"const": true, "var": true, "let": true, "import": true, "export": true,
	"class": true, "def": true, "self": true, "true": true, "false": true,
	"nil": true, "null": true, "none": true, "new": true, "err": true,
	"error": true, "string": true, "int": true, "type": true,
}

// tokenize lowercases and splits on non-alphanumeric runes, dropping
// stopwords and short tokens.
func tokenize(text string) map[string]bool {
	out := make(map[string]bool)
	var cur strings.Builder
	flush := func() {
		if cur.Len() >= minTokenLength {
			tok := cur.String()
			if !stopwords[tok] {
				out[tok] = true
			}
		}
		cur.Reset()
	}
	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return out
}

// jaccard is the overlap of a over b relative to the query size; bounded to
// [0, 1] and tolerant of empty sets.
func jaccard(query, doc map[string]bool) float64 {
	if len(query) == 0 || len(doc) == 0 {
		return 0
	}
	hits := 0
	for tok := range query {
		if doc[tok] {
			hits++
		}
	}
	union := len(query) + len(doc) - hits
	if union == 0 {
		return 0
	}
	return float64(hits) / float64(union)
}

// pathTokens derives lexical tokens from a path, both whole segments and
// their camel/snake pieces.
func pathTokens(path string) map[string]bool {
	toks := tokenize(strings.NewReplacer("/", " ", ".", " ", "_", " ", "-", " ").Replace(path))
	for tok := range tokenize(path) {
		toks[tok] = true
	}
	return toks
}
