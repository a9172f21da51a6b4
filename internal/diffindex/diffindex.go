// Package diffindex parses unified diffs and answers line-membership and
// hunk-identity queries for the review pipeline. Hunk and context hashes are
// stable across line-number shifts and let the reconciler follow findings
// between commits.
package diffindex

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"
)

// Side identifies which image of the diff a line number refers to.
type Side string

const (
	SideLeft  Side = "LEFT"
	SideRight Side = "RIGHT"
)

// Hunk is one contiguous change region of a file diff.
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	// Lines are the raw hunk body lines including the leading marker
	// (' ', '+', '-', or '\').
	Lines []string
}

// Index is a parsed unified diff with per-file hunks.
type Index struct {
	// order preserves first-seen file order for Files().
	order []string
	hunks map[string][]Hunk
}

// Parse parses a unified textual diff into an Index.
// Paths are post-image paths with a single leading "a/" or "b/" prefix
// stripped; a real top-level directory literally named "a" or "b" survives
// because the diff then carries "b/a/..." or "b/b/...".
func Parse(patch string) *Index {
	idx := &Index{hunks: make(map[string][]Hunk)}

	lines := strings.Split(patch, "\n")
	var currentPath string
	i := 0
	for i < len(lines) {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "+++ "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "+++ "))
			if tab := strings.IndexByte(path, '\t'); tab >= 0 {
				path = path[:tab]
			}
			if path == "/dev/null" {
				// Deleted file: no post-image path, hunks are not indexed.
				currentPath = ""
			} else {
				currentPath = stripPrefix(path)
				idx.ensureFile(currentPath)
			}
			i++
		case strings.HasPrefix(line, "--- "):
			if currentPath == "" {
				path := strings.TrimSpace(strings.TrimPrefix(line, "--- "))
				if tab := strings.IndexByte(path, '\t'); tab >= 0 {
					path = path[:tab]
				}
				if path != "/dev/null" {
					currentPath = stripPrefix(path)
				}
			}
			i++
		case strings.HasPrefix(line, "@@"):
			hunk, ok := parseHunkHeader(line)
			if !ok {
				i++
				continue
			}
			i++
			for i < len(lines) {
				l := lines[i]
				if len(l) == 0 {
					// A blank line inside a hunk is an empty context line.
					if hunk.consumed() {
						break
					}
					hunk.Lines = append(hunk.Lines, " ")
					i++
					continue
				}
				c := l[0]
				if c != ' ' && c != '+' && c != '-' && c != '\\' {
					break
				}
				hunk.Lines = append(hunk.Lines, l)
				i++
			}
			if currentPath != "" {
				idx.ensureFile(currentPath)
				idx.hunks[currentPath] = append(idx.hunks[currentPath], hunk)
			}
		default:
			if strings.HasPrefix(line, "diff ") {
				currentPath = ""
			}
			i++
		}
	}
	return idx
}

// consumed reports whether the hunk body already covers both declared ranges.
func (h *Hunk) consumed() bool {
	oldSeen, newSeen := 0, 0
	for _, l := range h.Lines {
		if len(l) == 0 {
			continue
		}
		switch l[0] {
		case ' ':
			oldSeen++
			newSeen++
		case '-':
			oldSeen++
		case '+':
			newSeen++
		}
	}
	return oldSeen >= h.OldCount && newSeen >= h.NewCount
}

func (idx *Index) ensureFile(path string) {
	if _, ok := idx.hunks[path]; !ok {
		idx.hunks[path] = nil
		idx.order = append(idx.order, path)
	}
}

// stripPrefix removes exactly one leading "a/" or "b/" diff prefix.
func stripPrefix(path string) string {
	if strings.HasPrefix(path, "a/") {
		return path[2:]
	}
	if strings.HasPrefix(path, "b/") {
		return path[2:]
	}
	return path
}

// parseHunkHeader parses "@@ -l,c +l,c @@ ..." headers.
func parseHunkHeader(line string) (Hunk, bool) {
	var h Hunk
	rest := strings.TrimPrefix(line, "@@")
	end := strings.Index(rest, "@@")
	if end < 0 {
		return h, false
	}
	ranges := strings.Fields(rest[:end])
	if len(ranges) != 2 {
		return h, false
	}
	var ok bool
	h.OldStart, h.OldCount, ok = parseRange(ranges[0], "-")
	if !ok {
		return h, false
	}
	h.NewStart, h.NewCount, ok = parseRange(ranges[1], "+")
	if !ok {
		return h, false
	}
	return h, true
}

func parseRange(s, sign string) (start, count int, ok bool) {
	if !strings.HasPrefix(s, sign) {
		return 0, 0, false
	}
	s = s[len(sign):]
	count = 1
	if comma := strings.IndexByte(s, ','); comma >= 0 {
		c, err := strconv.Atoi(s[comma+1:])
		if err != nil {
			return 0, 0, false
		}
		count = c
		s = s[:comma]
	}
	start, err := strconv.Atoi(s)
	if err != nil {
		return 0, 0, false
	}
	return start, count, true
}

// Files returns the post-image paths present in the diff, in first-seen order.
func (idx *Index) Files() []string {
	out := make([]string, len(idx.order))
	copy(out, idx.order)
	return out
}

// HasFile reports whether the path appears in the diff.
func (idx *Index) HasFile(path string) bool {
	_, ok := idx.hunks[path]
	return ok
}

// Hunks returns the ordered hunks for a path.
func (idx *Index) Hunks(path string) []Hunk {
	return idx.hunks[path]
}

// IsLineInDiff reports whether (path, line, side) is visible in the diff.
// On RIGHT the line must lie in a hunk's new-range on an added or context
// line; on LEFT in the old-range on a deleted or context line.
func (idx *Index) IsLineInDiff(path string, line int, side Side) bool {
	_, _, ok := idx.locate(path, line, side)
	return ok
}

// locate finds the hunk containing (line, side) and the index of the matching
// body line within it.
func (idx *Index) locate(path string, line int, side Side) (hunkIdx, lineIdx int, ok bool) {
	for hi, h := range idx.hunks[path] {
		oldLine := h.OldStart
		newLine := h.NewStart
		for li, l := range h.Lines {
			if len(l) == 0 {
				continue
			}
			switch l[0] {
			case ' ':
				if side == SideRight && newLine == line {
					return hi, li, true
				}
				if side == SideLeft && oldLine == line {
					return hi, li, true
				}
				oldLine++
				newLine++
			case '+':
				if side == SideRight && newLine == line {
					return hi, li, true
				}
				newLine++
			case '-':
				if side == SideLeft && oldLine == line {
					return hi, li, true
				}
				oldLine++
			}
		}
	}
	return 0, 0, false
}

// HunkHash returns a 16-hex digest over the full hunk text containing the
// target line, or "" when the line is not in the diff. The hash covers only
// the hunk body, so shifting the hunk within the file leaves it unchanged.
func (idx *Index) HunkHash(path string, line int, side Side) string {
	hi, _, ok := idx.locate(path, line, side)
	if !ok {
		return ""
	}
	h := idx.hunks[path][hi]
	return digest(strings.Join(h.Lines, "\n"))
}

// ContextHash returns a 16-hex digest over up to three unchanged lines on
// each side of the target line within its hunk, or "" when the line is not
// in the diff.
func (idx *Index) ContextHash(path string, line int, side Side) string {
	hi, li, ok := idx.locate(path, line, side)
	if !ok {
		return ""
	}
	h := idx.hunks[path][hi]

	var before, after []string
	for i := li - 1; i >= 0 && len(before) < 3; i-- {
		if isContext(h.Lines[i]) {
			before = append([]string{h.Lines[i]}, before...)
		}
	}
	for i := li + 1; i < len(h.Lines) && len(after) < 3; i++ {
		if isContext(h.Lines[i]) {
			after = append(after, h.Lines[i])
		}
	}

	parts := append(append(before, h.Lines[li]), after...)
	return digest(strings.Join(parts, "\n"))
}

func isContext(l string) bool {
	return len(l) > 0 && l[0] == ' '
}

// digest returns the first 16 hex characters of the blake3 sum.
func digest(s string) string {
	sum := blake3.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

// Digest exposes the 16-hex digest helper for fingerprint computation.
func Digest(parts ...string) string {
	return digest(strings.Join(parts, "\x00"))
}

// Stat summarizes additions and deletions for one file of the diff.
type Stat struct {
	Path      string
	Additions int
	Deletions int
}

// Stats computes per-file addition/deletion counts.
func (idx *Index) Stats() []Stat {
	out := make([]Stat, 0, len(idx.order))
	for _, path := range idx.order {
		s := Stat{Path: path}
		for _, h := range idx.hunks[path] {
			for _, l := range h.Lines {
				if len(l) == 0 {
					continue
				}
				switch l[0] {
				case '+':
					s.Additions++
				case '-':
					s.Deletions++
				}
			}
		}
		out = append(out, s)
	}
	return out
}
