// ABOUTME: Fallback cost model pricing token usage by model family.
// ABOUTME: Used only when the engine does not report a cost figure itself.

package manager

import "strings"

// modelRate holds USD per million tokens for a model family.
type modelRate struct {
	input  float64
	output float64
}

var modelRates = map[string]modelRate{
	"opus":   {input: 15.0, output: 75.0},
	"sonnet": {input: 3.0, output: 15.0},
	"haiku":  {input: 0.80, output: 4.0},
}

// defaultRate applies to unrecognized models.
var defaultRate = modelRate{input: 3.0, output: 15.0}

// costUSD prices a run's token usage. Model matching is by family substring
// so versioned identifiers like "claude-sonnet-4" resolve correctly.
func costUSD(model string, inputTokens, outputTokens int64) float64 {
	rate := defaultRate
	lower := strings.ToLower(model)
	for family, r := range modelRates {
		if strings.Contains(lower, family) {
			rate = r
			break
		}
	}
	return float64(inputTokens)/1e6*rate.input + float64(outputTokens)/1e6*rate.output
}
