package agent

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedModel replays a fixed sequence of turns. Entries may be a
// *ModelResponse or an error. Once the script is exhausted the last entry
// repeats.
type ScriptedModel struct {
	mu       sync.Mutex
	script   []any
	calls    int
	requests []ModelRequest
}

// NewScriptedModel returns a model that answers with script in order.
func NewScriptedModel(script ...any) *ScriptedModel {
	return &ScriptedModel{script: script}
}

func (m *ScriptedModel) Generate(ctx context.Context, req ModelRequest) (*ModelResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	if len(m.script) == 0 {
		return nil, fmt.Errorf("scripted model has no turns")
	}
	idx := m.calls
	if idx >= len(m.script) {
		idx = len(m.script) - 1
	}
	m.calls++

	switch v := m.script[idx].(type) {
	case *ModelResponse:
		copied := *v
		return &copied, nil
	case error:
		return nil, v
	default:
		return nil, fmt.Errorf("scripted model: unsupported entry %T", v)
	}
}

// Calls returns how many turns were generated.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests returns every request received, in order.
func (m *ScriptedModel) Requests() []ModelRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ModelRequest(nil), m.requests...)
}
