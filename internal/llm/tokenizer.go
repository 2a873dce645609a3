package llm

import (
	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// DefaultEncoding is the tiktoken encoding used when none is configured.
const DefaultEncoding = "cl100k_base"

// RuneEncoding selects RuneTokenizer without loading tiktoken data.
const RuneEncoding = "rune"

// Tokenizer bounds text to a token budget.
type Tokenizer interface {
	Count(text string) int
	Truncate(text string, maxTokens int) string
}

// NewTokenizer returns a tiktoken tokenizer for encoding, falling back to
// RuneTokenizer when the encoding cannot be loaded.
func NewTokenizer(encoding string) Tokenizer {
	switch encoding {
	case "":
		encoding = DefaultEncoding
	case RuneEncoding:
		return RuneTokenizer{}
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		zap.L().Warn("llm: tiktoken encoding unavailable, counting runes",
			zap.String("encoding", encoding),
			zap.Error(err),
		)
		return RuneTokenizer{}
	}
	return &tiktokenTokenizer{enc: enc}
}

type tiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

func (t *tiktokenTokenizer) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

func (t *tiktokenTokenizer) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	tokens := t.enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return t.enc.Decode(tokens[:maxTokens]) + "..."
}

// RuneTokenizer treats each rune as a token.
type RuneTokenizer struct{}

// Count returns the number of runes in text.
func (RuneTokenizer) Count(text string) int {
	return len([]rune(text))
}

// Truncate keeps the first maxTokens runes. A non-positive budget keeps
// everything.
func (RuneTokenizer) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	r := []rune(text)
	if len(r) <= maxTokens {
		return text
	}
	return string(r[:maxTokens]) + "..."
}
