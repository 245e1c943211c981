package chunker

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitSmallInput(t *testing.T) {
	c := New(512, 100)

	t.Run("empty yields nothing", func(t *testing.T) {
		assert.Empty(t, c.Split(""))
	})

	t.Run("fitting text returned whole", func(t *testing.T) {
		text := strings.Repeat("a", 512)
		assert.Equal(t, []string{text}, c.Split(text))
	})
}

func TestSplitUniformText(t *testing.T) {
	// No separators at all, so splitting degrades to fixed-width
	// slices with overlap seeding.
	c := New(512, 100)
	chunks := c.Split(strings.Repeat("a", 1024))

	require.NotEmpty(t, chunks)
	total := 0
	for _, ch := range chunks {
		assert.LessOrEqual(t, len(ch), 512+100)
		assert.GreaterOrEqual(t, len(ch), 1)
		total += len(ch)
	}
	// Overlap duplicates some characters, so the sum exceeds the input.
	assert.GreaterOrEqual(t, total, 1024)
}

func TestSplitPrefersParagraphs(t *testing.T) {
	c := New(100, 20)
	para := strings.Repeat("word ", 15) // 75 bytes
	text := strings.TrimSpace(strings.Repeat(para+"\n\n", 4))

	chunks := c.Split(text)
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.LessOrEqual(t, len(ch), 120)
	}
}

func TestSplitSentences(t *testing.T) {
	c := New(80, 10)
	var b strings.Builder
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&b, "Sentence number %d has a modest length. ", i)
	}

	chunks := c.Split(b.String())
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.LessOrEqual(t, len(ch), 90)
	}
	// Sentences survive intact: each chunk starts at a sentence or
	// overlap boundary, never mid-word.
	assert.Contains(t, chunks[0], "Sentence number 0")
}

func TestSplitOverlap(t *testing.T) {
	c := New(100, 20)
	chunks := c.Split(strings.Repeat("x", 350))
	require.Greater(t, len(chunks), 1)

	for i := 1; i < len(chunks); i++ {
		prev, cur := chunks[i-1], chunks[i]
		// The next chunk starts with the tail of the previous one.
		seed := prev[len(prev)-20:]
		assert.True(t, strings.HasPrefix(cur, seed))
	}
}

func TestSplitReconstruction(t *testing.T) {
	c := New(60, 0)
	text := "Alpha beta gamma delta.\nEpsilon zeta eta theta iota kappa.\n" +
		"Lambda mu nu xi omicron pi rho sigma tau upsilon phi chi psi omega."

	chunks := c.Split(text)
	require.NotEmpty(t, chunks)
	// With zero overlap, concatenation reproduces the input.
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestSplitMultibyte(t *testing.T) {
	c := New(50, 10)
	chunks := c.Split(strings.Repeat("日本語のテキスト", 30))

	for _, ch := range chunks {
		// Slices never land mid-rune.
		assert.True(t, utf8.ValidString(ch))
		assert.NotContains(t, ch, string(utf8.RuneError))
	}
}

func TestNewClampsParameters(t *testing.T) {
	c := New(0, -1)
	assert.Equal(t, DefaultSize, c.size)
	assert.Equal(t, DefaultOverlap, c.overlap)

	c = New(50, 200)
	assert.Equal(t, 49, c.overlap)
}
