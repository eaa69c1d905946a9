// Package chunker splits text into paragraph-aligned chunks under a token budget.
package chunker

import (
	"fmt"
	"strings"

	"github.com/pokoscribe/scribeflow/internal/models"
	"github.com/pokoscribe/scribeflow/internal/tokens"
)

// ParagraphDelimiter is the only place a document may be split.
const ParagraphDelimiter = "\n\n"

// Chunk is a contiguous run of whole paragraphs.
type Chunk struct {
	Index int
	Text  string
	// Tokens is the running count used for packing: paragraph tokens plus one
	// delimiter cost per join.
	Tokens int
	// Oversized marks a single paragraph that alone exceeds the budget.
	Oversized bool
}

// Chunker packs paragraphs greedily, never reordering or dropping any.
type Chunker struct {
	meter tokens.Meter
}

// New returns a Chunker measuring with meter.
func New(meter tokens.Meter) *Chunker {
	return &Chunker{meter: meter}
}

// Split partitions text into chunks whose token count stays at or under budget.
// A paragraph that alone exceeds budget is emitted as its own chunk and is not
// split further. Empty text yields no chunks.
func (c *Chunker) Split(text string, budget int) ([]Chunk, error) {
	if budget <= 0 {
		return nil, fmt.Errorf("split: %w (got %d)", models.ErrInvalidBudget, budget)
	}
	if text == "" {
		return nil, nil
	}
	delimTokens, err := c.meter.Count(ParagraphDelimiter)
	if err != nil {
		return nil, fmt.Errorf("count delimiter: %w", err)
	}

	var (
		chunks  []Chunk
		current []string
		used    int
	)
	flush := func() {
		chunks = append(chunks, Chunk{
			Index:     len(chunks),
			Text:      strings.Join(current, ParagraphDelimiter),
			Tokens:    used,
			Oversized: len(current) == 1 && used > budget,
		})
		current = nil
		used = 0
	}

	for i, paragraph := range strings.Split(text, ParagraphDelimiter) {
		n, err := c.meter.Count(paragraph)
		if err != nil {
			return nil, fmt.Errorf("count paragraph %d: %w", i, err)
		}
		cost := n
		if len(current) > 0 {
			cost += delimTokens
		}
		if len(current) > 0 && used+cost > budget {
			flush()
			cost = n
		}
		current = append(current, paragraph)
		used += cost
	}
	if len(current) > 0 {
		flush()
	}
	return chunks, nil
}

// Join restores the original text from its chunks.
func Join(chunks []Chunk) string {
	parts := make([]string, len(chunks))
	for i, ch := range chunks {
		parts[i] = ch.Text
	}
	return strings.Join(parts, ParagraphDelimiter)
}
