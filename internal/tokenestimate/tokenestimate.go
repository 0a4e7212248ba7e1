// Package tokenestimate provides pre-call token count estimates so the LLM
// gateway can check budget before a request is sent, not only after a
// response returns usage.
package tokenestimate

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator estimates the token count of a prompt for a given model. It
// caches one tiktoken encoding per model name since construction is not
// free.
type Estimator struct {
	mu        sync.Mutex
	encodings map[string]*tiktoken.Tiktoken
}

// NewEstimator builds an empty Estimator.
func NewEstimator() *Estimator {
	return &Estimator{encodings: make(map[string]*tiktoken.Tiktoken)}
}

// Estimate returns the token count of text under model's encoding. Unknown
// models fall back to the cl100k_base encoding used by most chat models;
// a failure to load any encoding degrades to a character-count heuristic
// (about 4 characters per token) rather than blocking the caller.
func (e *Estimator) Estimate(model, text string) int {
	enc := e.encodingFor(model)
	if enc == nil {
		return fallbackEstimate(text)
	}
	return len(enc.Encode(text, nil, nil))
}

func (e *Estimator) encodingFor(model string) *tiktoken.Tiktoken {
	e.mu.Lock()
	defer e.mu.Unlock()

	if enc, ok := e.encodings[model]; ok {
		return enc
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			e.encodings[model] = nil
			return nil
		}
	}
	e.encodings[model] = enc
	return enc
}

// fallbackEstimate approximates token count as roughly 4 characters per
// token, the same ratio OpenAI documents for English text.
func fallbackEstimate(text string) int {
	const charsPerToken = 4
	if len(text) == 0 {
		return 0
	}
	n := len(text) / charsPerToken
	if n == 0 {
		n = 1
	}
	return n
}
