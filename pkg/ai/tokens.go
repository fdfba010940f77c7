package ai

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the tokenizer used for cost and context estimates.
const DefaultEncoding = "o200k_base"

var (
	encodingsMu sync.Mutex
	encodings   = map[string]*tiktoken.Tiktoken{}
)

func getEncoding(name string) (*tiktoken.Tiktoken, error) {
	encodingsMu.Lock()
	defer encodingsMu.Unlock()

	if enc, ok := encodings[name]; ok {
		return enc, nil
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, err
	}
	encodings[name] = enc
	return enc, nil
}

// EstimateTokens counts the tokens of text with the named tiktoken encoding.
// If encoding is empty or cannot be loaded, a heuristic of 1.5 tokens per
// character is used, which is close for Korean text.
func EstimateTokens(encoding string, text string) int {
	if text == "" {
		return 0
	}
	if encoding != "" {
		if enc, err := getEncoding(encoding); err == nil {
			return len(enc.Encode(text, nil, nil))
		}
	}
	return utf8.RuneCountInString(text) * 3 / 2
}
