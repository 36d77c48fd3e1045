// Package workflow runs one build request end to end: provision a sandbox,
// drive the agent network under quota-aware retry, resolve the preview URL,
// and persist exactly one terminal message.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agentforge/internal/agent"
	"agentforge/internal/cache"
	"agentforge/internal/logging"
	"agentforge/internal/persist"
	"agentforge/internal/retry"
	"agentforge/internal/sandbox"
	"agentforge/internal/steps"
	"agentforge/internal/tools"
	"agentforge/internal/tools/sandboxtools"
	"agentforge/internal/types"
	"agentforge/internal/usage"

	"github.com/google/uuid"
)

// Step names of the run-level steps.
const (
	StepInitialStagger = "initial-stagger"
	StepGetSandboxID   = "get-sandbox-id"
	StepGetSandboxURL  = "get-sandbox-url"
	StepSaveResult     = "save-result"
	StepSaveError      = "save-error"
)

// Options wires a Runner.
type Options struct {
	Manager sandbox.Manager
	Model   agent.Model
	Log     steps.Log
	Gateway *persist.Gateway
	Cache   *cache.Cache // optional

	Sleeper        steps.Sleeper // default steps.TimerSleeper
	Pacing         tools.Pacing
	InitialStagger time.Duration
	Retry          retry.Policy

	SystemPrompt  string
	MaxIterations int

	WorkspaceRoot      string
	PackageManager     string
	PreviewPort        int
	ConnectAttempts    int
	ConnectBackoff     time.Duration
	TerminateOnSuccess bool
}

// Runner executes workflow runs.
type Runner struct {
	opts Options
}

// NewRunner returns a Runner, filling unset options with defaults.
func NewRunner(opts Options) *Runner {
	if opts.Sleeper == nil {
		opts.Sleeper = steps.TimerSleeper{}
	}
	if opts.Retry.MaxRetries == 0 && opts.Retry.DefaultDelay == 0 && opts.Retry.BaseDelay == 0 {
		opts.Retry = retry.DefaultPolicy()
	}
	if opts.PreviewPort == 0 {
		opts.PreviewPort = 3000
	}
	if opts.ConnectAttempts < 1 {
		opts.ConnectAttempts = 3
	}
	if opts.ConnectBackoff <= 0 {
		opts.ConnectBackoff = time.Second
	}
	return &Runner{opts: opts}
}

// Run executes req under a new run id.
func (r *Runner) Run(ctx context.Context, req types.WorkflowRequest) types.Outcome {
	return r.execute(ctx, uuid.NewString(), req)
}

// Resume re-executes the run runID. Steps already in the log are replayed,
// so completed side effects are not repeated.
func (r *Runner) Resume(ctx context.Context, runID string, req types.WorkflowRequest) types.Outcome {
	logging.Workflow("[%s] resuming run", runID)
	return r.execute(ctx, runID, req)
}

// execute never returns without a persisted terminal message, except on a
// cache hit, which returns the earlier outcome as is.
func (r *Runner) execute(ctx context.Context, runID string, req types.WorkflowRequest) types.Outcome {
	timer := logging.StartTimer(logging.CategoryWorkflow, "Run")
	defer timer.Stop()

	req = req.Normalized()
	ctx = usage.WithRun(ctx, req.ProjectID, runID)
	key := cache.Fingerprint(req)
	if r.opts.Cache != nil {
		if hit, ok := r.opts.Cache.Get(key); ok {
			logging.Workflow("[%s] cache hit for project %s", runID, req.ProjectID)
			hit.RunID = runID
			return hit
		}
	}

	logging.Workflow("[%s] starting run for project %s", runID, req.ProjectID)
	exec := steps.NewExecutor(runID, r.opts.Log, steps.WithSleeper(r.opts.Sleeper))

	outcome, sandboxID, err := r.build(ctx, exec, req)
	if err != nil {
		if sandboxID != "" {
			sandbox.Terminate(context.WithoutCancel(ctx), r.opts.Manager, sandboxID)
		}
		return r.fail(ctx, exec, req, err)
	}

	if r.opts.TerminateOnSuccess {
		sandbox.Terminate(context.WithoutCancel(ctx), r.opts.Manager, sandboxID)
	}
	if r.opts.Cache != nil {
		r.opts.Cache.Set(key, outcome)
	}
	logging.Workflow("[%s] run succeeded: %q (%d files)", runID, outcome.Title, len(outcome.Files))
	return outcome
}

// build runs every step up to and including persistence of the result.
// The sandbox id is returned whenever one was provisioned.
func (r *Runner) build(ctx context.Context, exec *steps.Executor, req types.WorkflowRequest) (types.Outcome, string, error) {
	runID := exec.RunID()

	if err := exec.Sleep(ctx, StepInitialStagger, r.opts.InitialStagger); err != nil {
		return types.Outcome{}, "", err
	}

	sandboxID, err := steps.Run(ctx, exec, StepGetSandboxID, func(ctx context.Context) (string, error) {
		h, err := r.opts.Manager.Create(ctx)
		if err != nil {
			return "", err
		}
		return h.ID, nil
	})
	if err != nil {
		return types.Outcome{}, "", err
	}
	logging.Workflow("[%s] sandbox %s ready", runID, sandboxID)

	var state *types.NetworkState
	ctrl := &retry.Controller{Policy: r.opts.Retry, Steps: exec}
	err = ctrl.Do(ctx, func(ctx context.Context, attempt int) error {
		// Fresh state and tool binding per attempt: replayed tool steps
		// rebuild the file map from the log.
		state = types.NewNetworkState()
		net := &agent.Network{
			Model:         r.opts.Model,
			Tools:         r.bindTools(exec, sandboxID, state),
			Steps:         exec,
			SystemPrompt:  r.opts.SystemPrompt,
			MaxIterations: r.opts.MaxIterations,
		}
		res, err := net.Run(ctx, req.Prompt, state)
		if err != nil {
			return err
		}
		logging.Workflow("[%s] network finished: %s after %d turns (attempt %d)", runID, res.Decision, res.Iterations, attempt+1)
		return nil
	})
	if err != nil {
		return types.Outcome{}, sandboxID, err
	}

	url, err := steps.Run(ctx, exec, StepGetSandboxURL, func(ctx context.Context) (string, error) {
		sess, err := sandbox.ConnectWithRetry(ctx, r.opts.Manager, sandboxID, r.opts.ConnectAttempts, r.opts.ConnectBackoff)
		if err != nil {
			return "", err
		}
		return sess.GetHost(r.opts.PreviewPort), nil
	})
	if err != nil {
		return types.Outcome{}, sandboxID, err
	}

	outcome := types.Outcome{
		URL:       url,
		Title:     persist.ExtractTitle(state.Summary),
		Files:     state.Snapshot(),
		Summary:   state.Summary,
		SandboxID: sandboxID,
		Success:   true,
		RunID:     runID,
	}

	msgID, err := steps.Run(ctx, exec, StepSaveResult, func(ctx context.Context) (string, error) {
		return r.opts.Gateway.SaveResult(ctx, req.ProjectID, runID, outcome)
	})
	if err != nil {
		return types.Outcome{}, sandboxID, fmt.Errorf("persist result: %w", err)
	}
	outcome.MessageID = msgID
	return outcome, sandboxID, nil
}

func (r *Runner) bindTools(exec *steps.Executor, sandboxID string, state *types.NetworkState) *tools.Registry {
	return sandboxtools.Bind(sandboxtools.Deps{
		Manager:         r.opts.Manager,
		SandboxID:       sandboxID,
		Steps:           exec,
		State:           state,
		Pacing:          r.opts.Pacing,
		WorkspaceRoot:   r.opts.WorkspaceRoot,
		PackageManager:  r.opts.PackageManager,
		ConnectAttempts: r.opts.ConnectAttempts,
		ConnectBackoff:  r.opts.ConnectBackoff,
	})
}

// fail persists the ERROR message for cause. Persistence runs even if ctx
// was cancelled.
func (r *Runner) fail(ctx context.Context, exec *steps.Executor, req types.WorkflowRequest, cause error) types.Outcome {
	runID := exec.RunID()
	logging.WorkflowError("[%s] run failed: %v", runID, cause)
	var incomplete *agent.IncompleteRunError
	if errors.As(cause, &incomplete) {
		logging.WorkflowWarn("[%s] agent gave no summary within %d turns", runID, incomplete.Iterations)
	}

	outcome := types.FailedOutcome(persist.ErrorMessage(cause))
	outcome.RunID = runID

	msgID, err := steps.Run(context.WithoutCancel(ctx), exec, StepSaveError, func(ctx context.Context) (string, error) {
		return r.opts.Gateway.SaveError(ctx, req.ProjectID, runID, cause)
	})
	if err != nil {
		logging.WorkflowError("[%s] failed to persist error message: %v", runID, err)
		return outcome
	}
	outcome.MessageID = msgID
	return outcome
}
