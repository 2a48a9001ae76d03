// Package pricing converts token counts reported by the language-model
// provider into monetary cost using a static per-model price table.
package pricing

// TokenUsage is the usage accounting embedded in every response that
// involved a model call.
type TokenUsage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	TotalCostUSD     float64 `json:"total_cost_usd"`
}

// ModelPrice is the cost of one million tokens, split by direction.
type ModelPrice struct {
	InputUSD  float64 // USD per 1M prompt tokens
	OutputUSD float64 // USD per 1M completion tokens
}

// Table maps model identifiers to their prices.
type Table map[string]ModelPrice

// DefaultTable lists published OpenAI API prices (USD per 1M tokens).
// Models missing from the table cost zero — unknown pricing is not a
// failure condition, it just isn't accounted.
func DefaultTable() Table {
	return Table{
		"gpt-4o-mini":   {InputUSD: 0.15, OutputUSD: 0.60},
		"gpt-4o":        {InputUSD: 2.50, OutputUSD: 10.00},
		"gpt-4.1":       {InputUSD: 2.00, OutputUSD: 8.00},
		"gpt-4.1-mini":  {InputUSD: 0.40, OutputUSD: 1.60},
		"gpt-4.1-nano":  {InputUSD: 0.10, OutputUSD: 0.40},
		"gpt-4-turbo":   {InputUSD: 10.00, OutputUSD: 30.00},
		"gpt-3.5-turbo": {InputUSD: 0.50, OutputUSD: 1.50},
		"o3-mini":       {InputUSD: 1.10, OutputUSD: 4.40},
	}
}

// Account computes the usage record for one request. Pure function: no
// side effects, safe for concurrent use, identical inputs yield identical
// output.
func (t Table) Account(promptTokens, completionTokens int, model string) TokenUsage {
	u := TokenUsage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}
	if p, ok := t[model]; ok {
		u.TotalCostUSD = float64(promptTokens)*p.InputUSD/1e6 +
			float64(completionTokens)*p.OutputUSD/1e6
	}
	return u
}
