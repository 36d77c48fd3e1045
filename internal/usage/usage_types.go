package usage

// UsageData is the root structure stored in usage.json.
type UsageData struct {
	Version   string          `json:"version"`
	Aggregate AggregatedStats `json:"aggregate"`
}

// AggregatedStats holds counters broken down by model and project.
type AggregatedStats struct {
	Total     TokenCounts            `json:"total"`
	ByModel   map[string]TokenCounts `json:"by_model"`
	ByProject map[string]TokenCounts `json:"by_project"`
}

// TokenCounts holds input/output sums over Calls model turns.
type TokenCounts struct {
	Calls  int64 `json:"calls"`
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
	Total  int64 `json:"total"`
}

func (tc *TokenCounts) Add(input, output int) {
	tc.Calls++
	tc.Input += int64(input)
	tc.Output += int64(output)
	tc.Total += int64(input + output)
}
