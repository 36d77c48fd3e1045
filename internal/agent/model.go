// Package agent drives an LLM-backed coding agent against one sandbox until it
// reports completion or runs out of turns.
package agent

import (
	"context"

	"agentforge/internal/types"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	RoleTool  Role = "tool"
)

// Message is one entry of the conversation history.
type Message struct {
	Role        Role               `json:"role"`
	Text        string             `json:"text,omitempty"`
	ToolCalls   []types.ToolCall   `json:"tool_calls,omitempty"`
	ToolOutputs []types.ToolOutput `json:"tool_outputs,omitempty"`
}

// ModelRequest is one agent turn's input.
type ModelRequest struct {
	System   string
	Messages []Message
	Tools    []types.ToolDefinition
}

// ModelResponse is one agent turn's output. It is recorded as a step result,
// so every field must survive a JSON round trip.
type ModelResponse struct {
	Text      string              `json:"text,omitempty"`
	ToolCalls []types.ToolCall    `json:"tool_calls,omitempty"`
	Usage     types.UsageMetadata `json:"usage"`
}

// Model produces one agent turn.
type Model interface {
	Generate(ctx context.Context, req ModelRequest) (*ModelResponse, error)
}
