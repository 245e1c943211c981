package retriever

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/wherespace/internal/store"
)

func TestBuildPrompt(t *testing.T) {
	hits := []store.Hit{
		{FileName: "guide.md", Content: "Pooling keeps connections warm.", ContentPreview: "Pooling keeps connections warm."},
		{FileName: "notes.txt", Content: "Set pool_max to ten.", ContentPreview: "Set pool_max to ten."},
	}

	prompt := BuildPrompt("how big should the pool be", hits, 2000)

	assert.Contains(t, prompt, "[1] From guide.md:\nPooling keeps connections warm.")
	assert.Contains(t, prompt, "[2] From notes.txt:\nSet pool_max to ten.")
	assert.Contains(t, prompt, "Question: how big should the pool be")
	assert.Contains(t, prompt, "ONLY the context")
	assert.Contains(t, prompt, "don't know")

	// Ranked order survives assembly.
	assert.Less(t, strings.Index(prompt, "guide.md"), strings.Index(prompt, "notes.txt"))
}

func TestBuildPromptBudget(t *testing.T) {
	big := strings.Repeat("filler words to burn budget ", 200) // ~1400 tokens
	hits := []store.Hit{
		{FileName: "first.txt", Content: big, ContentPreview: big[:200]},
		{FileName: "second.txt", Content: big, ContentPreview: strings.Repeat("preview text ", 20)},
	}

	prompt := BuildPrompt("q", hits, 1500)

	// First block fits whole; second degrades to its truncated preview.
	assert.Contains(t, prompt, "[1] From first.txt")
	assert.Contains(t, prompt, "[2] From second.txt")
	assert.Contains(t, prompt, "…")
	assert.NotContains(t, prompt, "[2] From second.txt:\n"+big)
}

func TestBuildPromptDropsWhatCannotFit(t *testing.T) {
	big := strings.Repeat("x", 8000)
	hits := []store.Hit{
		{FileName: "a.txt", Content: big, ContentPreview: big[:200]},
		{FileName: "b.txt", Content: big, ContentPreview: big[:200]},
	}

	// Budget admits the first block with no room left even for the
	// second block's preview.
	prompt := BuildPrompt("q", hits, 2010)
	assert.Contains(t, prompt, "[1] From a.txt")
	assert.NotContains(t, prompt, "[2] From b.txt")
}

func TestBuildDirectPrompt(t *testing.T) {
	prompt := BuildDirectPrompt("what is a vacuum")
	assert.Contains(t, prompt, "Question: what is a vacuum")
	require.NotContains(t, prompt, "Context:")
	require.NotContains(t, prompt, "[1]")
}
