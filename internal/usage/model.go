package usage

import (
	"context"

	"agentforge/internal/agent"
)

// Model wraps an agent.Model and tracks the usage of every generated turn.
// Turns replayed from the step log never reach Generate, so resumed runs are
// not counted twice.
type Model struct {
	inner   agent.Model
	name    string
	tracker *Tracker
}

// WrapModel returns inner unchanged when tracker is nil.
func WrapModel(inner agent.Model, name string, tracker *Tracker) agent.Model {
	if tracker == nil {
		return inner
	}
	return &Model{inner: inner, name: name, tracker: tracker}
}

func (m *Model) Generate(ctx context.Context, req agent.ModelRequest) (*agent.ModelResponse, error) {
	resp, err := m.inner.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	m.tracker.Track(ctx, m.name, resp.Usage)
	return resp, nil
}
