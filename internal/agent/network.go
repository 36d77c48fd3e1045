package agent

import (
	"context"
	"fmt"
	"strings"

	"agentforge/internal/logging"
	"agentforge/internal/steps"
	"agentforge/internal/tools"
	"agentforge/internal/types"
)

// SummaryTag marks the agent's completion report.
const SummaryTag = "task_summary"

// DefaultMaxIterations is the turn ceiling when none is configured.
const DefaultMaxIterations = 15

// continuePrompt nudges the agent after a turn that neither called tools nor finished.
const continuePrompt = "Continue working on the task using the tools. When everything is done, reply with a <task_summary> block."

// Decision is the router's verdict after evaluating the state.
type Decision int

const (
	DecisionContinue Decision = iota
	DecisionComplete          // summary and files
	DecisionPartial           // summary only
)

func (d Decision) String() string {
	switch d {
	case DecisionComplete:
		return "complete"
	case DecisionPartial:
		return "partial"
	default:
		return "continue"
	}
}

// StopReason says why the network stopped.
type StopReason string

const (
	ReasonSummary       StopReason = "summary"
	ReasonMaxIterations StopReason = "max_iterations"
)

// Route decides whether the network has finished.
func Route(state *types.NetworkState) Decision {
	switch {
	case state.HasSummary() && state.HasFiles():
		return DecisionComplete
	case state.HasSummary():
		return DecisionPartial
	default:
		return DecisionContinue
	}
}

// ObserveTurn captures the turn's final text into state.Summary when it
// carries the completion tag. The text is kept verbatim.
func ObserveTurn(state *types.NetworkState, text string) bool {
	if !strings.Contains(text, "<"+SummaryTag+">") {
		return false
	}
	state.Summary = text
	return true
}

// IncompleteRunError is returned when the turn ceiling is hit before the agent
// reported completion.
type IncompleteRunError struct {
	Iterations int
}

func (e *IncompleteRunError) Error() string {
	return fmt.Sprintf("agent network stopped after %d iterations without a task summary", e.Iterations)
}

// RunResult describes how a network run ended.
type RunResult struct {
	Iterations int
	Decision   Decision
	Reason     StopReason
	Usage      types.UsageMetadata
}

// Network runs one agent against shared state until Route says stop.
type Network struct {
	Model         Model
	Tools         *tools.Registry
	Steps         *steps.Executor
	SystemPrompt  string
	MaxIterations int
}

// Run drives agent turns for prompt. Each model call is a named step
// agent-turn-<n>, and tool calls go through the registry in the order the
// model issued them.
func (n *Network) Run(ctx context.Context, prompt string, state *types.NetworkState) (*RunResult, error) {
	maxIter := n.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	runID := n.Steps.RunID()
	defs := n.Tools.Definitions()
	logging.RouterDebug("[%s] network starting with %d tools: %v", runID, n.Tools.Count(), n.Tools.Names())

	history := []Message{{Role: RoleUser, Text: prompt}}
	result := &RunResult{}

	for {
		if d := Route(state); d != DecisionContinue {
			result.Decision = d
			result.Reason = ReasonSummary
			logging.Router("[%s] network finished after %d turns (%s, %d files)", runID, result.Iterations, d, len(state.Files))
			return result, nil
		}
		if result.Iterations >= maxIter {
			result.Decision = DecisionContinue
			result.Reason = ReasonMaxIterations
			logging.RouterWarn("[%s] iteration ceiling %d reached without summary", runID, maxIter)
			return result, &IncompleteRunError{Iterations: result.Iterations}
		}

		result.Iterations++
		turn := result.Iterations
		req := ModelRequest{System: n.SystemPrompt, Messages: history, Tools: defs}

		resp, err := steps.Run(ctx, n.Steps, steps.Name("agent-turn", turn), func(ctx context.Context) (ModelResponse, error) {
			r, err := n.Model.Generate(ctx, req)
			if err != nil {
				return ModelResponse{}, err
			}
			return *r, nil
		})
		if err != nil {
			return result, fmt.Errorf("agent turn %d: %w", turn, err)
		}

		result.Usage.InputTokens += resp.Usage.InputTokens
		result.Usage.OutputTokens += resp.Usage.OutputTokens
		result.Usage.TotalTokens += resp.Usage.TotalTokens

		history = append(history, Message{Role: RoleModel, Text: resp.Text, ToolCalls: resp.ToolCalls})
		logging.RouterDebug("[%s] turn %d: text_len=%d tool_calls=%d", runID, turn, len(resp.Text), len(resp.ToolCalls))

		if len(resp.ToolCalls) > 0 {
			outputs := make([]types.ToolOutput, 0, len(resp.ToolCalls))
			for _, call := range resp.ToolCalls {
				out, err := n.dispatch(ctx, call)
				if err != nil {
					return result, err
				}
				outputs = append(outputs, out)
			}
			history = append(history, Message{Role: RoleTool, ToolOutputs: outputs})
		}

		captured := ObserveTurn(state, resp.Text)
		if captured {
			logging.Router("[%s] turn %d reported completion", runID, turn)
		}
		if len(resp.ToolCalls) == 0 && !captured {
			history = append(history, Message{Role: RoleUser, Text: continuePrompt})
		}
	}
}

// dispatch executes one tool call. Tool failures become textual outputs so the
// model can correct itself; only cancellation aborts the run.
func (n *Network) dispatch(ctx context.Context, call types.ToolCall) (types.ToolOutput, error) {
	out := types.ToolOutput{CallID: call.ID, Name: call.Name}

	tool := n.Tools.Get(call.Name)
	if tool == nil {
		logging.RouterWarn("model called unknown tool %s", call.Name)
		out.Content = fmt.Sprintf("Error: %v: %s", tools.ErrToolNotFound, call.Name)
		out.IsError = true
		return out, nil
	}
	logging.RouterDebug("dispatching %s (category=%s)", tool.Name, tool.Category)

	res, err := n.Tools.ExecuteTool(ctx, tool, call.Input)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, ctxErr
		}
		logging.RouterWarn("tool %s failed: %v", call.Name, err)
		out.Content = "Error: " + err.Error()
		out.IsError = true
		return out, nil
	}

	out.Content = res.Result
	out.IsError = !res.IsSuccess() || strings.HasPrefix(res.Result, "Error:")
	return out, nil
}
