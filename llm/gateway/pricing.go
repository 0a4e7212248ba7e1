package gateway

import (
	"sort"

	"go.uber.org/zap"
)

// ModelPrice is USD cost per 1,000 tokens, input and output priced
// separately.
type ModelPrice struct {
	Input  float64
	Output float64
}

// DefaultPriceTable mirrors the original service's cost mapping: a handful
// of hosted-model entries plus zero-cost entries for locally hosted models.
// Bedrock/local prices are illustrative defaults. A non-nil Config.PriceTable
// replaces this table; FromLLMConfig always installs this default, since
// Config.LLM has no price setting (SPEC_FULL.md Open Question (c)).
func DefaultPriceTable() map[string]ModelPrice {
	return map[string]ModelPrice{
		"gpt-4o":                               {Input: 0.005, Output: 0.015},
		"gpt-4o-mini":                           {Input: 0.00015, Output: 0.0006},
		"gpt-3.5-turbo":                         {Input: 0.0005, Output: 0.0015},
		"anthropic.claude-3-sonnet-20240229-v1:0": {Input: 0.003, Output: 0.015},
		"anthropic.claude-3-haiku-20240307-v1:0":  {Input: 0.00025, Output: 0.00125},
		"mistral":                    {Input: 0, Output: 0},
		"local-gpt-4o-equivalent":    {Input: 0, Output: 0},
		"local-judge-model":          {Input: 0, Output: 0},
		"local-response-model":       {Input: 0, Output: 0},
	}
}

// CalculateCost ports the original's exact-match-then-substring-fallback
// pricing algorithm: an exact model name match wins; failing that, the
// first price-table entry that is a substring of (or contains) modelName
// applies; failing that, cost is zero and the miss is logged rather than
// treated as an error.
func CalculateCost(priceTable map[string]ModelPrice, modelName string, promptTokens, completionTokens int, logger *zap.Logger) float64 {
	price, ok := priceTable[modelName]
	if !ok {
		keys := make([]string, 0, len(priceTable))
		for key := range priceTable {
			keys = append(keys, key)
		}
		// Longest key first so a specific SKU like "gpt-4o-mini" wins over
		// a shorter prefix like "gpt-4o" when both are substring matches.
		sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
		for _, key := range keys {
			if containsEither(key, modelName) {
				price, ok = priceTable[key], true
				break
			}
		}
	}
	if !ok {
		if logger != nil {
			logger.Warn("no price table entry for model, recording zero cost", zap.String("model", modelName))
		}
		return 0
	}
	return (float64(promptTokens)/1000)*price.Input + (float64(completionTokens)/1000)*price.Output
}

func containsEither(a, b string) bool {
	return stringsContains(a, b) || stringsContains(b, a)
}

func stringsContains(s, substr string) bool {
	if len(substr) == 0 {
		return true
	}
	if len(substr) > len(s) {
		return false
	}
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
