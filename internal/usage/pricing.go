package usage

import "strings"

// ModelPricing is USD per 1M tokens
type ModelPricing struct {
	Input      float64
	Output     float64
	CacheWrite float64
	CacheRead  float64
}

var modelPricing = map[string]ModelPricing{
	"opus":   {Input: 15.0, Output: 75.0, CacheWrite: 18.75, CacheRead: 1.50},
	"sonnet": {Input: 3.0, Output: 15.0, CacheWrite: 3.75, CacheRead: 0.30},
	"haiku":  {Input: 0.80, Output: 4.0, CacheWrite: 1.0, CacheRead: 0.08},
}

// ModelFamily maps a model id like "claude-opus-4-1" to its pricing family.
// Unknown ids are priced as sonnet.
func ModelFamily(model string) string {
	model = strings.ToLower(model)
	for _, family := range []string{"opus", "sonnet", "haiku"} {
		if strings.Contains(model, family) {
			return family
		}
	}
	return "sonnet"
}

// PricingFor returns the per-1M-token rates of a model
func PricingFor(model string) ModelPricing {
	return modelPricing[ModelFamily(model)]
}

// CalculateCost estimates the USD cost of the given token counts
func CalculateCost(usage TokenUsage, model string) float64 {
	p := PricingFor(model)
	const perM = 1_000_000.0
	return float64(usage.InputTokens)/perM*p.Input +
		float64(usage.OutputTokens)/perM*p.Output +
		float64(usage.CacheCreationInputTokens)/perM*p.CacheWrite +
		float64(usage.CacheReadInputTokens)/perM*p.CacheRead
}
