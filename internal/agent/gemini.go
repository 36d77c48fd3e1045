package agent

import (
	"context"
	"fmt"
	"time"

	"agentforge/internal/logging"
	"agentforge/internal/types"

	"google.golang.org/genai"
)

// =============================================================================
// GOOGLE GENAI MODEL
// =============================================================================

// GeminiModel runs agent turns on the Gemini API with native function calling.
type GeminiModel struct {
	client      *genai.Client
	model       string
	temperature *float32
	timeout     time.Duration
}

// NewGeminiModel creates a Gemini-backed model.
func NewGeminiModel(ctx context.Context, apiKey, model string) (*GeminiModel, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	temp := float32(0.1)
	return &GeminiModel{client: client, model: model, temperature: &temp}, nil
}

// SetTimeout bounds each GenerateContent call. Zero disables the bound.
func (m *GeminiModel) SetTimeout(d time.Duration) {
	m.timeout = d
}

// Generate sends the history and tool declarations and returns the model's turn.
// Provider errors are returned wrapped, never flattened, so quota metadata on
// genai.APIError stays reachable with errors.As.
func (m *GeminiModel) Generate(ctx context.Context, req ModelRequest) (*ModelResponse, error) {
	cfg := &genai.GenerateContentConfig{Temperature: m.temperature}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: MapToolDefinitionsToGemini(req.Tools)}}
	}

	contents := MapMessagesToGemini(req.Messages)
	logging.APIDebug("[Gemini] GenerateContent: model=%s contents=%d tools=%d", m.model, len(contents), len(req.Tools))

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	resp, err := m.client.Models.GenerateContent(ctx, m.model, contents, cfg)
	if err != nil {
		logging.APIWarn("[Gemini] GenerateContent failed: %v", err)
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	out := &ModelResponse{Text: resp.Text()}
	for i, fc := range resp.FunctionCalls() {
		id := fc.ID
		if id == "" {
			id = fmt.Sprintf("call-%d", i)
		}
		out.ToolCalls = append(out.ToolCalls, types.ToolCall{ID: id, Name: fc.Name, Input: fc.Args})
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = types.UsageMetadata{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			TotalTokens:  int(u.TotalTokenCount),
		}
	}

	logging.API("[Gemini] turn complete: text_len=%d tool_calls=%d tokens=%d",
		len(out.Text), len(out.ToolCalls), out.Usage.TotalTokens)
	return out, nil
}

// MapToolDefinitionsToGemini converts generic tool definitions to Gemini function declarations.
func MapToolDefinitionsToGemini(defs []types.ToolDefinition) []*genai.FunctionDeclaration {
	result := make([]*genai.FunctionDeclaration, len(defs))
	for i, d := range defs {
		result[i] = &genai.FunctionDeclaration{
			Name:                 d.Name,
			Description:          d.Description,
			ParametersJsonSchema: d.InputSchema,
		}
	}
	return result
}

// MapMessagesToGemini converts conversation history to Gemini contents.
// Tool outputs travel back as user-role function responses.
func MapMessagesToGemini(msgs []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case RoleModel:
			var parts []*genai.Part
			if msg.Text != "" {
				parts = append(parts, genai.NewPartFromText(msg.Text))
			}
			for _, call := range msg.ToolCalls {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   call.ID,
					Name: call.Name,
					Args: call.Input,
				}})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))

		case RoleTool:
			parts := make([]*genai.Part, 0, len(msg.ToolOutputs))
			for _, out := range msg.ToolOutputs {
				key := "output"
				if out.IsError {
					key = "error"
				}
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       out.CallID,
					Name:     out.Name,
					Response: map[string]any{key: out.Content},
				}})
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))

		default:
			contents = append(contents, genai.NewContentFromText(msg.Text, genai.RoleUser))
		}
	}
	return contents
}
