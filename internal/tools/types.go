// Package tools provides the closed set of named capabilities an agent may call.
//
// Each tool has a fixed input schema and is dispatched by name:
//
//	model tool call → Registry.Execute(name, args) → Tool.Execute()
package tools

import (
	"context"
)

// ToolCategory groups tools by what they touch.
type ToolCategory string

const (
	// CategoryShell covers command execution in the sandbox.
	CategoryShell ToolCategory = "/shell"

	// CategoryFiles covers sandbox file reads and writes.
	CategoryFiles ToolCategory = "/files"

	// CategoryPackages covers dependency installation.
	CategoryPackages ToolCategory = "/packages"
)

// Property describes a single parameter property for JSON schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	// Items describes array element schema (required for type="array")
	Items *PropertyItems `json:"items,omitempty"`
}

// PropertyItems describes the schema for array elements.
// Object elements carry their own properties.
type PropertyItems struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// ToolSchema defines the JSON schema for tool arguments.
type ToolSchema struct {
	// Required lists parameters that must be provided.
	Required []string `json:"required"`

	// Properties describes each parameter.
	Properties map[string]Property `json:"properties"`
}

// JSONSchema renders the schema as a JSON-schema object.
func (s ToolSchema) JSONSchema() map[string]any {
	required := s.Required
	if required == nil {
		required = []string{}
	}
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		props[name] = p.jsonSchema()
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func (p Property) jsonSchema() map[string]any {
	out := map[string]any{"type": p.Type}
	if p.Description != "" {
		out["description"] = p.Description
	}
	if p.Items != nil {
		items := map[string]any{"type": p.Items.Type}
		if len(p.Items.Properties) > 0 {
			nested := make(map[string]any, len(p.Items.Properties))
			for name, np := range p.Items.Properties {
				nested[name] = np.jsonSchema()
			}
			items["properties"] = nested
		}
		if len(p.Items.Required) > 0 {
			items["required"] = p.Items.Required
		}
		out["items"] = items
	}
	return out
}

// ExecuteFunc is the signature for tool execution.
// Returns the result string and any error.
type ExecuteFunc func(ctx context.Context, args map[string]any) (string, error)

// Tool defines one capability an agent can call.
type Tool struct {
	// Name is the unique identifier the model calls the tool by.
	Name string

	// Description explains what the tool does.
	// Used for LLM tool calling and documentation.
	Description string

	Category ToolCategory

	// Execute runs the tool with the given arguments.
	Execute ExecuteFunc

	// Schema defines the expected arguments.
	Schema ToolSchema
}

// Validate checks if the tool definition is valid.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}
	return nil
}

// ToolResult wraps the result of tool execution with metadata.
type ToolResult struct {
	// ToolName identifies which tool was executed.
	ToolName string

	// Result is the string output from the tool.
	Result string

	// Error is set if the tool failed.
	Error error

	// DurationMs is how long execution took.
	DurationMs int64
}

// IsSuccess returns true if the tool executed without error.
func (r *ToolResult) IsSuccess() bool {
	return r.Error == nil
}
