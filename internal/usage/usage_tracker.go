// Package usage records token usage of model turns per model and project.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"agentforge/internal/types"
)

// FileName is the usage file inside the state directory.
const FileName = "usage.json"

type runKey struct{}

type runInfo struct {
	projectID string
	runID     string
}

// Tracker manages token usage recording and persistence.
type Tracker struct {
	mu       sync.Mutex
	data     UsageData
	filePath string
	dirty    bool
}

// NewTracker creates a tracker persisting to <stateDir>/usage.json and loads
// any existing totals.
func NewTracker(stateDir string) (*Tracker, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", stateDir, err)
	}

	t := &Tracker{
		filePath: filepath.Join(stateDir, FileName),
		data:     UsageData{Version: "1.0"},
	}
	if err := t.Load(); err != nil {
		return nil, fmt.Errorf("load usage: %w", err)
	}
	return t, nil
}

// Load reads the usage data from disk. A missing file is not an error.
func (t *Tracker) Load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.filePath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if err == nil {
		if err := json.Unmarshal(data, &t.data); err != nil {
			return err
		}
	}

	if t.data.Aggregate.ByModel == nil {
		t.data.Aggregate.ByModel = make(map[string]TokenCounts)
	}
	if t.data.Aggregate.ByProject == nil {
		t.data.Aggregate.ByProject = make(map[string]TokenCounts)
	}
	return nil
}

// Save writes the usage data to disk if anything changed since the last save.
func (t *Tracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.dirty {
		return nil
	}
	data, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(t.filePath, data, 0644); err != nil {
		return err
	}
	t.dirty = false
	return nil
}

// Track records one model turn. The project comes from the context set by
// WithRun; turns outside a run count as "unknown".
func (t *Tracker) Track(ctx context.Context, model string, u types.UsageMetadata) {
	projectID := "unknown"
	if info, ok := ctx.Value(runKey{}).(runInfo); ok && info.projectID != "" {
		projectID = info.projectID
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.data.Aggregate.Total.Add(u.InputTokens, u.OutputTokens)
	addToMap(t.data.Aggregate.ByModel, model, u.InputTokens, u.OutputTokens)
	addToMap(t.data.Aggregate.ByProject, projectID, u.InputTokens, u.OutputTokens)
	t.dirty = true
}

// Stats returns a copy of the aggregated stats.
func (t *Tracker) Stats() AggregatedStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := t.data.Aggregate
	stats.ByModel = copyTokenCountsMap(stats.ByModel)
	stats.ByProject = copyTokenCountsMap(stats.ByProject)
	return stats
}

func copyTokenCountsMap(src map[string]TokenCounts) map[string]TokenCounts {
	dst := make(map[string]TokenCounts, len(src))
	for key, counts := range src {
		dst[key] = counts
	}
	return dst
}

func addToMap(m map[string]TokenCounts, key string, input, output int) {
	entry := m[key]
	entry.Add(input, output)
	m[key] = entry
}

// WithRun tags ctx with the project and run a model turn belongs to.
func WithRun(ctx context.Context, projectID, runID string) context.Context {
	return context.WithValue(ctx, runKey{}, runInfo{projectID: projectID, runID: runID})
}

// RunFromContext returns the project and run set by WithRun.
func RunFromContext(ctx context.Context) (projectID, runID string, ok bool) {
	info, ok := ctx.Value(runKey{}).(runInfo)
	return info.projectID, info.runID, ok
}
