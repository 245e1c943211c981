package retriever

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/wherespace/internal/store"
)

// DefaultMaxPromptTokens bounds the assembled context section.
const DefaultMaxPromptTokens = 2000

// previewFallbackLen is how much of the preview survives when a full
// block does not fit the budget.
const previewFallbackLen = 100

const ragInstructions = `You are a helpful assistant answering questions about the user's documents.
Answer using ONLY the context below. Cite sources with bracketed indices like [1] that match the context blocks.
If the context does not contain the information needed, say you don't know rather than guessing.`

const directInstructions = `You are a helpful assistant. Answer the user's question directly and concisely.`

// estimateTokens approximates token count as length over four, which
// tracks English prose closely enough for budgeting.
func estimateTokens(text string) int {
	return len(text) / 4
}

// BuildPrompt assembles the RAG prompt: numbered context blocks in
// ranked order within the token budget, then the instruction envelope
// and the question. Blocks that would blow the budget degrade to a
// truncated preview; blocks that still don't fit are dropped.
func BuildPrompt(query string, hits []store.Hit, maxTokens int) string {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxPromptTokens
	}

	var blocks []string
	used := 0
	for i, h := range hits {
		block := fmt.Sprintf("[%d] From %s:\n%s", i+1, h.FileName, h.Content)
		if used+estimateTokens(block) > maxTokens {
			preview := h.ContentPreview
			if len(preview) > previewFallbackLen {
				preview = string([]rune(preview)[:previewFallbackLen]) + "…"
			}
			block = fmt.Sprintf("[%d] From %s:\n%s", i+1, h.FileName, preview)
			if used+estimateTokens(block) > maxTokens {
				continue
			}
		}
		blocks = append(blocks, block)
		used += estimateTokens(block)
	}

	var b strings.Builder
	b.WriteString(ragInstructions)
	b.WriteString("\n\nContext:\n")
	b.WriteString(strings.Join(blocks, "\n\n"))
	b.WriteString("\n\nQuestion: ")
	b.WriteString(query)
	b.WriteString("\n\nAnswer:")
	return b.String()
}

// BuildDirectPrompt wraps a query in the minimal non-RAG envelope.
func BuildDirectPrompt(query string) string {
	return directInstructions + "\n\nQuestion: " + query + "\n\nAnswer:"
}
