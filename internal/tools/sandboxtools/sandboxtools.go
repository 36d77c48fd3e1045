// Package sandboxtools binds the four agent capabilities (terminal, write_files,
// read_files, install_packages) to one sandbox and one run.
//
// Every call is paced, then executed as a named step, so a resumed run replays
// completed tool calls instead of repeating them against the sandbox.
package sandboxtools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"agentforge/internal/logging"
	"agentforge/internal/sandbox"
	"agentforge/internal/steps"
	"agentforge/internal/tools"
	"agentforge/internal/types"
)

// Tool names.
const (
	ToolTerminal        = "terminal"
	ToolWriteFiles      = "write_files"
	ToolReadFiles       = "read_files"
	ToolInstallPackages = "install_packages"
)

// Deps are the run-scoped collaborators the tools act on.
type Deps struct {
	Manager   sandbox.Manager
	SandboxID string
	Steps     *steps.Executor
	State     *types.NetworkState
	Pacing    tools.Pacing

	WorkspaceRoot   string // default /home/user
	PackageManager  string // default npm
	ConnectAttempts int
	ConnectBackoff  time.Duration
}

type binding struct {
	Deps
	seq atomic.Int64
}

// Bind returns a registry holding exactly the four sandbox tools.
func Bind(d Deps) *tools.Registry {
	if d.WorkspaceRoot == "" {
		d.WorkspaceRoot = "/home/user"
	}
	if d.PackageManager == "" {
		d.PackageManager = "npm"
	}
	if d.ConnectAttempts < 1 {
		d.ConnectAttempts = 3
	}
	if d.ConnectBackoff <= 0 {
		d.ConnectBackoff = time.Second
	}
	if d.State == nil {
		d.State = types.NewNetworkState()
	}

	b := &binding{Deps: d}
	reg := tools.NewRegistry()
	reg.MustRegister(b.terminalTool())
	reg.MustRegister(b.writeFilesTool())
	reg.MustRegister(b.readFilesTool())
	reg.MustRegister(b.installPackagesTool())
	return reg
}

// begin allocates the call's sequence number and waits out the pacing delay.
// It returns the step name for the call's side effect.
func (b *binding) begin(ctx context.Context, tool string, args map[string]any, delay time.Duration) (string, error) {
	seq := b.seq.Add(1)
	if err := b.Steps.Sleep(ctx, steps.Name("pace-"+tool, seq), delay); err != nil {
		return "", err
	}
	return steps.Name(tool, seq, steps.Hash(args)), nil
}

func (b *binding) connect(ctx context.Context) (sandbox.Session, error) {
	return sandbox.ConnectWithRetry(ctx, b.Manager, b.SandboxID, b.ConnectAttempts, b.ConnectBackoff)
}

// =============================================================================
// terminal
// =============================================================================

func (b *binding) terminalTool() *tools.Tool {
	return &tools.Tool{
		Name:        ToolTerminal,
		Description: "Run a shell command in the sandbox workspace and return its stdout",
		Category:    tools.CategoryShell,
		Execute:     b.executeTerminal,
		Schema: tools.ToolSchema{
			Required: []string{"command"},
			Properties: map[string]tools.Property{
				"command": {Type: "string", Description: "The command to execute"},
			},
		},
	}
}

func (b *binding) executeTerminal(ctx context.Context, args map[string]any) (string, error) {
	command, err := stringArg(args, "command")
	if err != nil {
		return "", err
	}

	name, err := b.begin(ctx, ToolTerminal, args, b.Pacing.Terminal)
	if err != nil {
		return "", err
	}

	return steps.Run(ctx, b.Steps, name, func(ctx context.Context) (string, error) {
		sess, err := b.connect(ctx)
		if err != nil {
			return fmt.Sprintf("Error: %v", err), nil
		}

		var stdout, stderr strings.Builder
		_, err = sess.RunCommand(ctx, command,
			func(s string) { stdout.WriteString(s) },
			func(s string) { stderr.WriteString(s) })
		if err != nil {
			logging.ToolsWarn("terminal %q failed: %v", command, err)
			return fmt.Sprintf("Error: %v\nstdout: %s\nstderr: %s", err, stdout.String(), stderr.String()), nil
		}
		return stdout.String(), nil
	})
}

// =============================================================================
// write_files
// =============================================================================

// writeResult is the recorded outcome of one write_files call.
type writeResult struct {
	Files  map[string]string `json:"files"`
	Failed []string          `json:"failed,omitempty"`
}

func (b *binding) writeFilesTool() *tools.Tool {
	return &tools.Tool{
		Name:        ToolWriteFiles,
		Description: "Create or overwrite files in the sandbox workspace",
		Category:    tools.CategoryFiles,
		Execute:     b.executeWriteFiles,
		Schema: tools.ToolSchema{
			Required: []string{"files"},
			Properties: map[string]tools.Property{
				"files": {
					Type:        "array",
					Description: "Files to write, paths relative to the workspace",
					Items: &tools.PropertyItems{
						Type: "object",
						Properties: map[string]tools.Property{
							"path":    {Type: "string", Description: "File path"},
							"content": {Type: "string", Description: "Full file content"},
						},
						Required: []string{"path", "content"},
					},
				},
			},
		},
	}
}

func (b *binding) executeWriteFiles(ctx context.Context, args map[string]any) (string, error) {
	files, err := fileEntries(args, "files")
	if err != nil {
		return "", err
	}

	name, err := b.begin(ctx, ToolWriteFiles, args, b.Pacing.WriteDelay(len(files)))
	if err != nil {
		return "", err
	}

	res, err := steps.Run(ctx, b.Steps, name, func(ctx context.Context) (writeResult, error) {
		out := writeResult{Files: make(map[string]string, len(files))}

		sess, err := b.connect(ctx)
		if err != nil {
			for _, f := range files {
				out.Failed = append(out.Failed, fmt.Sprintf("%s: %v", f.Path, err))
			}
			return out, nil
		}

		for _, f := range files {
			key, err := NormalizePath(b.WorkspaceRoot, f.Path)
			if err != nil {
				out.Failed = append(out.Failed, fmt.Sprintf("%s: %v", f.Path, err))
				continue
			}
			if err := sess.WriteFile(ctx, key, f.Content); err != nil {
				out.Failed = append(out.Failed, fmt.Sprintf("%s: %v", f.Path, err))
				continue
			}
			out.Files[key] = f.Content
		}
		return out, nil
	})
	if err != nil {
		return "", err
	}

	// Applied outside the step so a replayed call rebuilds the state.
	b.State.MergeFiles(res.Files)

	paths := make([]string, 0, len(res.Files))
	for p := range res.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	msg := fmt.Sprintf("Successfully wrote %d file(s): %s", len(paths), strings.Join(paths, ", "))
	if len(res.Failed) > 0 {
		msg += fmt.Sprintf("\nError: %d file(s) failed:\n%s", len(res.Failed), strings.Join(res.Failed, "\n"))
	}
	return msg, nil
}

// =============================================================================
// read_files
// =============================================================================

// FileRead is one entry of a read_files result.
type FileRead struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (b *binding) readFilesTool() *tools.Tool {
	return &tools.Tool{
		Name:        ToolReadFiles,
		Description: "Read files from the sandbox workspace",
		Category:    tools.CategoryFiles,
		Execute:     b.executeReadFiles,
		Schema: tools.ToolSchema{
			Required: []string{"paths"},
			Properties: map[string]tools.Property{
				"paths": {
					Type:        "array",
					Description: "File paths to read",
					Items:       &tools.PropertyItems{Type: "string"},
				},
			},
		},
	}
}

func (b *binding) executeReadFiles(ctx context.Context, args map[string]any) (string, error) {
	paths, err := stringSlice(args, "paths")
	if err != nil {
		return "", err
	}

	name, err := b.begin(ctx, ToolReadFiles, args, b.Pacing.ReadFiles)
	if err != nil {
		return "", err
	}

	reads, err := steps.Run(ctx, b.Steps, name, func(ctx context.Context) ([]FileRead, error) {
		out := make([]FileRead, 0, len(paths))

		sess, connErr := b.connect(ctx)
		for _, p := range paths {
			if connErr != nil {
				out = append(out, FileRead{Path: p, Error: connErr.Error()})
				continue
			}
			key, err := NormalizePath(b.WorkspaceRoot, p)
			if err != nil {
				out = append(out, FileRead{Path: p, Error: err.Error()})
				continue
			}
			content, err := sess.ReadFile(ctx, key)
			if err != nil {
				out = append(out, FileRead{Path: p, Error: err.Error()})
				continue
			}
			out = append(out, FileRead{Path: p, Content: content})
		}
		return out, nil
	})
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(reads)
	if err != nil {
		return "", fmt.Errorf("encode read_files result: %w", err)
	}
	return string(data), nil
}

// =============================================================================
// install_packages
// =============================================================================

func (b *binding) installPackagesTool() *tools.Tool {
	return &tools.Tool{
		Name:        ToolInstallPackages,
		Description: "Install dependencies with the sandbox package manager",
		Category:    tools.CategoryPackages,
		Execute:     b.executeInstallPackages,
		Schema: tools.ToolSchema{
			Required: []string{"packages"},
			Properties: map[string]tools.Property{
				"packages": {
					Type:        "array",
					Description: "Package names to install",
					Items:       &tools.PropertyItems{Type: "string"},
				},
			},
		},
	}
}

func (b *binding) executeInstallPackages(ctx context.Context, args map[string]any) (string, error) {
	packages, err := stringSlice(args, "packages")
	if err != nil {
		return "", err
	}
	if len(packages) == 0 {
		return "Install failed: no packages given", nil
	}

	name, err := b.begin(ctx, ToolInstallPackages, args, b.Pacing.InstallPackages)
	if err != nil {
		return "", err
	}

	command := b.PackageManager + " install " + strings.Join(packages, " ")
	return steps.Run(ctx, b.Steps, name, func(ctx context.Context) (string, error) {
		sess, err := b.connect(ctx)
		if err != nil {
			return fmt.Sprintf("Install failed: %v", err), nil
		}

		var stderr strings.Builder
		_, err = sess.RunCommand(ctx, command, nil, func(s string) { stderr.WriteString(s) })
		if err != nil {
			logging.ToolsWarn("install %v failed: %v", packages, err)
			return fmt.Sprintf("Install failed: %v\n%s", err, stderr.String()), nil
		}
		return "Installed: " + strings.Join(packages, ", "), nil
	})
}

// =============================================================================
// argument helpers
// =============================================================================

type fileEntry struct {
	Path    string
	Content string
}

func stringArg(args map[string]any, key string) (string, error) {
	s, ok := args[key].(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %s must be a non-empty string", tools.ErrInvalidArgType, key)
	}
	return s, nil
}

func stringSlice(args map[string]any, key string) ([]string, error) {
	switch v := args[key].(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s[%d] must be a string", tools.ErrInvalidArgType, key, i)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s must be a list of strings", tools.ErrInvalidArgType, key)
	}
}

func fileEntries(args map[string]any, key string) ([]fileEntry, error) {
	list, ok := args[key].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a list of {path, content}", tools.ErrInvalidArgType, key)
	}
	out := make([]fileEntry, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] must be an object", tools.ErrInvalidArgType, key, i)
		}
		p, _ := m["path"].(string)
		content, ok := m["content"].(string)
		if p == "" || !ok {
			return nil, fmt.Errorf("%w: %s[%d] needs path and content", tools.ErrInvalidArgType, key, i)
		}
		out = append(out, fileEntry{Path: p, Content: content})
	}
	return out, nil
}
