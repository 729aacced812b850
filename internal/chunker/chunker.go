// Package chunker splits plain text into overlapping fixed-size segments.
package chunker

import (
	"fmt"
	"strings"
)

// Chunker produces deterministic, overlapping character windows over text.
type Chunker struct {
	size    int
	overlap int
}

// New creates a chunker. size and overlap are in characters (runes);
// overlap must be smaller than size.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Split returns the ordered chunks of text. Each chunk is at most size
// characters; consecutive chunks share exactly overlap characters, except the
// tail which may be shorter. Text that fits in one chunk yields exactly one
// chunk equal to the trimmed text. Empty text yields no chunks.
func (c *Chunker) Split(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= c.size {
		return []string{string(runes)}
	}
	step := c.size - c.overlap
	chunks := make([]string, 0, (len(runes)+step-1)/step)
	for start := 0; start < len(runes); start += step {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
