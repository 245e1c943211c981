// Package chunker splits text into overlapping chunks for embedding.
//
// The splitter is hierarchical: it prefers paragraph boundaries, then
// line boundaries, then sentence boundaries, then word boundaries, and
// only slices mid-word as a last resort. Consecutive chunks share a
// tail of up to Overlap characters so sentences cut at a boundary stay
// retrievable from both sides.
package chunker

import (
	"strings"
	"unicode/utf8"
)

// separators in priority order. The empty string means a fixed-width
// slice.
var separators = []string{"\n\n", "\n", ". ", " ", ""}

const (
	DefaultSize    = 512
	DefaultOverlap = 100
)

// Chunker carries the split parameters.
type Chunker struct {
	size    int
	overlap int
}

// New returns a Chunker. Non-positive parameters fall back to the
// defaults; overlap is clamped below size.
func New(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 {
		overlap = DefaultOverlap
	}
	if overlap >= size {
		overlap = size - 1
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split breaks text into chunks of at most size+overlap bytes each.
// Empty input yields no chunks; input within the size limit is returned
// whole.
func (c *Chunker) Split(text string) []string {
	if len(text) == 0 {
		return nil
	}
	if len(text) <= c.size {
		return []string{text}
	}
	return c.merge(c.pieces(text, 0))
}

// pieces recursively splits text until every piece fits within size.
// Separators are consumed in priority order; a separator is used only
// if it produces at least one piece that fits, otherwise the next one
// is tried. Split points keep the separator attached to the preceding
// piece so concatenation reconstructs the input.
func (c *Chunker) pieces(text string, sepIdx int) []string {
	if len(text) <= c.size {
		return []string{text}
	}

	for ; sepIdx < len(separators); sepIdx++ {
		sep := separators[sepIdx]
		if sep == "" {
			return c.windows(text)
		}

		parts := splitKeep(text, sep)
		if len(parts) < 2 || !anyFits(parts, c.size) {
			continue
		}

		var out []string
		for _, part := range parts {
			if len(part) > c.size {
				out = append(out, c.pieces(part, sepIdx+1)...)
			} else {
				out = append(out, part)
			}
		}
		return out
	}
	return c.windows(text)
}

// windows slices text into fixed-width pieces, stepping back to rune
// boundaries. Width leaves room for the overlap seed merge prepends, so
// windowed chunks still land near size after seeding.
func (c *Chunker) windows(text string) []string {
	width := c.size - c.overlap
	if width < 1 {
		width = 1
	}
	var out []string
	for len(text) > width {
		cut := width
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if cut == 0 {
			cut = width
		}
		out = append(out, text[:cut])
		text = text[cut:]
	}
	if len(text) > 0 {
		out = append(out, text)
	}
	return out
}

// merge packs fitting pieces into chunks, emitting whenever the next
// piece would overflow size, and seeds each new chunk with the tail of
// the previous one. Every piece is at most size bytes and every seed at
// most overlap bytes, so chunks never exceed size+overlap.
func (c *Chunker) merge(parts []string) []string {
	var out []string
	var cur strings.Builder

	for _, part := range parts {
		if cur.Len() > 0 && cur.Len()+len(part) > c.size {
			chunk := cur.String()
			out = append(out, chunk)
			cur.Reset()
			cur.WriteString(tail(chunk, c.overlap))
		}
		cur.WriteString(part)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// splitKeep splits on sep, keeping the separator attached to the end of
// each piece except the last.
func splitKeep(text, sep string) []string {
	parts := strings.Split(text, sep)
	for i := 0; i < len(parts)-1; i++ {
		parts[i] += sep
	}
	// Splitting can produce empty trailing pieces when the text ends
	// with the separator; drop empties.
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// anyFits reports whether at least one piece is within the limit.
func anyFits(parts []string, limit int) bool {
	for _, p := range parts {
		if len(p) <= limit {
			return true
		}
	}
	return false
}

// tail returns the last n bytes of s, extended backwards to a rune
// boundary.
func tail(s string, n int) string {
	if n <= 0 || len(s) <= n {
		if n <= 0 {
			return ""
		}
		return s
	}
	cut := len(s) - n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[cut:]
}
