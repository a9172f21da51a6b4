package indexer

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func genLines(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "line %04d with some filler text to give it width\n", i)
	}
	return b.String()
}

func TestChunkLinesEmpty(t *testing.T) {
	assert.Nil(t, ChunkLines("", 100, 10, 5))
}

func TestChunkLinesSingleChunk(t *testing.T) {
	content := "short file\nwith two lines\n"
	chunks := ChunkLines(content, 1000, 100, 5)
	require.Len(t, chunks, 1)
	assert.Equal(t, content, chunks[0].Text)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 2, chunks[0].EndLine)
}

func TestChunkLinesRespectsMaxChars(t *testing.T) {
	content := genLines(100)
	chunks := ChunkLines(content, 500, 0, 100)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		// A single line may exceed the limit; these lines do not.
		assert.LessOrEqual(t, len(c.Text), 500, "chunk %d too large", c.Index)
	}
}

func TestChunkLinesPreservesContent(t *testing.T) {
	content := genLines(200)
	chunks := ChunkLines(content, 600, 0, 100)
	var joined strings.Builder
	for _, c := range chunks {
		joined.WriteString(c.Text)
	}
	// With zero overlap the chunks partition the content exactly.
	assert.Equal(t, content, joined.String())
}

func TestChunkLinesOverlapIsWholeLines(t *testing.T) {
	content := genLines(100)
	chunks := ChunkLines(content, 500, 120, 100)
	require.Greater(t, len(chunks), 1)
	for i := 1; i < len(chunks); i++ {
		// Every chunk after the first starts with the tail of the previous one.
		prev := chunks[i-1].Text
		head := chunks[i].Text[:min(len(chunks[i].Text), 40)]
		assert.Contains(t, prev, strings.SplitAfter(head, "\n")[0],
				"chunk %d overlap not drawn from predecessor", i)
	}
}

func TestChunkLinesBudgetAbsorbsRemainder(t *testing.T) {
	content := genLines(500)
	chunks := ChunkLines(content, 300, 0, 4)
	require.Len(t, chunks, 4)
	// Nothing is dropped: the last chunk carries the whole remainder.
	last := chunks[len(chunks)-1]
	assert.True(t, strings.HasSuffix(content, last.Text[len(last.Text)-60:]))
	assert.Contains(t, last.Text, "line 0500")
	assert.Equal(t, 500, last.EndLine)
}

func TestChunkLinesLineNumbers(t *testing.T) {
	content := genLines(60)
	chunks := ChunkLines(content, 500, 0, 100)
	require.Greater(t, len(chunks), 1)
	assert.Equal(t, 1, chunks[0].StartLine)
	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, chunks[i-1].EndLine+1, chunks[i].StartLine)
	}
	assert.Equal(t, 60, chunks[len(chunks)-1].EndLine)
}

func TestOverlapTail(t *testing.T) {
	assert.Equal(t, "", overlapTail("anything", 0))
	assert.Equal(t, "abc", overlapTail("abc", 10))

	text := "first line\nsecond line\nthird line\n"
	tail := overlapTail(text, 15)
	assert.Equal(t, "third line\n", tail)
}
