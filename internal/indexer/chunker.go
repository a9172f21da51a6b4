// Package indexer walks a repository checkout, extracts symbols and
// references, and produces file, symbol, and chunk embeddings.
package indexer

import "strings"

// Chunker defaults.
const (
	DefaultMaxChunkChars = 1800
	DefaultOverlapChars  = 220
	DefaultMaxChunks     = 20
)

// Chunk is one line-aligned slice of a file.
type Chunk struct {
	Index     int
	Text      string
	StartLine int // 1-based
	EndLine   int // 1-based, inclusive
}

// ChunkLines splits content into line-aligned chunks of at most maxChars,
// carrying overlapChars of trailing context into the next chunk. At most
// maxChunks chunks are produced; once the budget is reached the remainder is
// appended to the last chunk so content is never dropped.
func ChunkLines(content string, maxChars, overlapChars, maxChunks int) []Chunk {
	if maxChars <= 0 {
		maxChars = DefaultMaxChunkChars
	}
	if overlapChars < 0 || overlapChars >= maxChars {
		overlapChars = DefaultOverlapChars
	}
	if maxChunks <= 0 {
		maxChunks = DefaultMaxChunks
	}
	if content == "" {
		return nil
	}

	lines := strings.SplitAfter(content, "\n")
	var chunks []Chunk

	var cur strings.Builder
	curStart := 1 // line number of the first non-overlap line in cur
	line := 1

	flush := func(endLine int) {
		chunks = append(chunks, Chunk{
			Index:     len(chunks),
			Text:      cur.String(),
			StartLine: curStart,
			EndLine:   endLine,
		})
	}

	for i := 0; i < len(lines); i++ {
		l := lines[i]
		if l == "" {
			continue
		}
		if cur.Len() > 0 && cur.Len()+len(l) > maxChars {
			if len(chunks) == maxChunks-1 {
				// Budget reached: the rest of the file joins this chunk.
				for ; i < len(lines); i++ {
					cur.WriteString(lines[i])
					if lines[i] != "" {
						line++
					}
				}
				flush(line - 1)
				return chunks
			}
			flush(line - 1)

			// Seed the next chunk with trailing overlap lines.
			tail := overlapTail(cur.String(), overlapChars)
			cur.Reset()
			cur.WriteString(tail)
			curStart = line
		}
		cur.WriteString(l)
		line++
	}

	if cur.Len() > 0 {
		flush(line - 1)
	}
	return chunks
}

// overlapTail returns the suffix of text made of whole lines totaling at most
// overlapChars characters.
func overlapTail(text string, overlapChars int) string {
	if overlapChars <= 0 || text == "" {
		return ""
	}
	if len(text) <= overlapChars {
		return text
	}
	cut := text[len(text)-overlapChars:]
	// Align to the next line boundary so the overlap starts on a whole line.
	if i := strings.IndexByte(cut, '\n'); i >= 0 && i+1 < len(cut) {
		return cut[i+1:]
	}
	return cut
}
