package main

import (
	"context"
	"fmt"
	"path/filepath"

	"agentforge/internal/agent"
	"agentforge/internal/cache"
	"agentforge/internal/config"
	"agentforge/internal/logging"
	"agentforge/internal/persist"
	"agentforge/internal/prompt"
	"agentforge/internal/retry"
	"agentforge/internal/sandbox"
	"agentforge/internal/steps"
	"agentforge/internal/store"
	"agentforge/internal/tools"
	"agentforge/internal/tools/sandboxtools"
	"agentforge/internal/types"
	"agentforge/internal/usage"
	"agentforge/internal/workflow"
)

type app struct {
	cfg     *config.Config
	store   *store.SQLiteStore
	gateway *persist.Gateway
	runner  *workflow.Runner
	usage   *usage.Tracker
}

// inWorkspace anchors a relative path at ws.
func inWorkspace(ws, p string) string {
	if p == "" || p == ":memory:" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(ws, p)
}

// openStore opens the document store only. Read-side commands use it.
func openStore(cfg *config.Config, ws string) (*app, error) {
	st, err := store.Open(cfg.Store.Driver, inWorkspace(ws, cfg.Store.DatabasePath))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &app{cfg: cfg, store: st, gateway: persist.NewGateway(st)}, nil
}

// wireApp builds the full run pipeline on top of the store.
func wireApp(ctx context.Context, cfg *config.Config, ws string) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a, err := openStore(cfg, ws)
	if err != nil {
		return nil, err
	}

	model, err := newModel(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}
	a.usage, err = usage.NewTracker(filepath.Join(ws, ".agentforge"))
	if err != nil {
		a.close()
		return nil, err
	}
	model = usage.WrapModel(model, cfg.LLM.Model, a.usage)
	system, err := prompt.Load(inWorkspace(ws, cfg.Router.SystemPromptFile))
	if err != nil {
		a.close()
		return nil, err
	}

	pacing := cfg.GetPacing()
	a.runner = workflow.NewRunner(workflow.Options{
		Manager: newSandboxManager(cfg, ws),
		Model:   model,
		Log:     a.store.StepLog(),
		Gateway: a.gateway,
		Cache:   cache.New(cfg.GetCacheTTL(), cfg.Cache.Capacity),
		Sleeper: steps.TimerSleeper{},
		Pacing: tools.Pacing{
			Terminal:          pacing.Terminal,
			ReadFiles:         pacing.ReadFiles,
			WriteFilesBase:    pacing.WriteFilesBase,
			WriteFilesPerFile: pacing.WriteFilesPerFile,
			InstallPackages:   pacing.InstallPackages,
		},
		InitialStagger: pacing.InitialStagger,
		Retry: retry.Policy{
			MaxRetries:   cfg.Retry.MaxRetries,
			DefaultDelay: cfg.GetRetryDefaultDelay(),
			BaseDelay:    cfg.GetRetryBaseDelay(),
		},
		SystemPrompt:       system,
		MaxIterations:      cfg.Router.MaxIterations,
		WorkspaceRoot:      cfg.Sandbox.WorkspaceRoot,
		PackageManager:     cfg.Sandbox.PackageManager,
		PreviewPort:        cfg.Sandbox.PreviewPort,
		ConnectAttempts:    cfg.Sandbox.ConnectRetries,
		ConnectBackoff:     cfg.GetConnectBackoff(),
		TerminateOnSuccess: cfg.Sandbox.TerminateOnSuccess,
	})
	return a, nil
}

func (a *app) close() {
	if a.usage != nil {
		if err := a.usage.Save(); err != nil {
			logging.BootError("save usage: %v", err)
		}
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

func newSandboxManager(cfg *config.Config, ws string) sandbox.Manager {
	if cfg.Sandbox.Backend == "memory" {
		return sandbox.NewMemoryManager()
	}
	return sandbox.NewLocalManager(sandbox.LocalOptions{
		BaseDir:        inWorkspace(ws, cfg.Sandbox.BaseDir),
		Template:       cfg.Sandbox.Template,
		WorkspaceRoot:  cfg.Sandbox.WorkspaceRoot,
		CommandTimeout: cfg.GetCommandTimeout(),
	})
}

func newModel(ctx context.Context, cfg *config.Config) (agent.Model, error) {
	switch cfg.LLM.Provider {
	case "scripted":
		return dryRunModel(), nil
	default:
		m, err := agent.NewGeminiModel(ctx, cfg.LLM.APIKey, cfg.LLM.Model)
		if err != nil {
			return nil, err
		}
		m.SetTimeout(cfg.GetLLMTimeout())
		return m, nil
	}
}

// dryRunModel writes a placeholder project and reports completion in a
// single turn. It lets the pipeline run end to end without an API key.
func dryRunModel() agent.Model {
	return agent.NewScriptedModel(&agent.ModelResponse{
		Text: "<task_summary>\n<title>Hello Agent</title>\n<response>I wrote a hello world script in main.py.</response>\n</task_summary>",
		ToolCalls: []types.ToolCall{{
			ID:   "dry-run-1",
			Name: sandboxtools.ToolWriteFiles,
			Input: map[string]any{
				"files": []any{map[string]any{
					"path":    "main.py",
					"content": "print('Hello from agentforge!')\n",
				}},
			},
		}},
	})
}
