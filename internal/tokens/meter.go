// Package tokens counts tokens under a fixed tokenizer profile.
package tokens

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/pokoscribe/scribeflow/internal/models"
)

// DefaultEncoding is the profile every budget in this repository is measured in.
const DefaultEncoding = "cl100k_base"

// Meter counts the tokens of a text. Implementations must be deterministic.
type Meter interface {
	Count(text string) (int, error)
}

// Tiktoken is a Meter backed by a tiktoken BPE encoding. The encoding is loaded
// lazily on first use and shared afterwards.
type Tiktoken struct {
	encoding string

	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// NewTiktoken returns a Meter for the named encoding (cl100k_base when empty).
func NewTiktoken(encoding string) *Tiktoken {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &Tiktoken{encoding: encoding}
}

func (m *Tiktoken) encoder() (*tiktoken.Tiktoken, error) {
	m.once.Do(func() {
		m.enc, m.err = tiktoken.GetEncoding(m.encoding)
	})
	return m.enc, m.err
}

// Count returns the number of tokens in text.
func (m *Tiktoken) Count(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	if !utf8.ValidString(text) {
		return 0, fmt.Errorf("%w: text is not valid UTF-8", models.ErrTokenization)
	}
	enc, err := m.encoder()
	if err != nil {
		return 0, fmt.Errorf("%w: load encoding %s: %v", models.ErrTokenization, m.encoding, err)
	}
	// Special-token sequences inside source text are counted, not rejected.
	return len(enc.Encode(text, []string{"all"}, nil)), nil
}

// MeterFunc adapts a plain function to the Meter interface.
type MeterFunc func(text string) (int, error)

// Count calls f(text).
func (f MeterFunc) Count(text string) (int, error) { return f(text) }
