package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"agentforge/internal/logging"

	"github.com/google/uuid"
)

const (
	metadataFile   = "sandbox.json"
	workspaceDir   = "workspace"
	maxOutputBytes = 50000
)

// LocalOptions configures a LocalManager.
type LocalOptions struct {
	BaseDir        string
	Template       string
	WorkspaceRoot  string // absolute path agents see, e.g. /home/user
	CommandTimeout time.Duration
}

// metadata is persisted next to each sandbox workspace.
type metadata struct {
	ID        string    `json:"id"`
	Template  string    `json:"template"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// LocalManager runs sandboxes as directories on the local machine.
// All state is on disk, so a new process reconnecting by id sees prior files.
type LocalManager struct {
	opts LocalOptions
	mu   sync.Mutex // guards metadata rewrites
}

// NewLocalManager creates a manager rooted at opts.BaseDir.
func NewLocalManager(opts LocalOptions) *LocalManager {
	if opts.WorkspaceRoot == "" {
		opts.WorkspaceRoot = "/home/user"
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 120 * time.Second
	}
	return &LocalManager{opts: opts}
}

// Create allocates a new sandbox directory.
func (m *LocalManager) Create(ctx context.Context) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, &ProvisionError{Template: m.opts.Template, Err: err}
	}

	id := uuid.NewString()
	dir := filepath.Join(m.opts.BaseDir, id)
	if err := os.MkdirAll(filepath.Join(dir, workspaceDir), 0755); err != nil {
		return Handle{}, &ProvisionError{Template: m.opts.Template, Err: err}
	}

	meta := metadata{ID: id, Template: m.opts.Template, Status: StatusReady, CreatedAt: time.Now().UTC()}
	if err := m.writeMetadata(dir, meta); err != nil {
		_ = os.RemoveAll(dir)
		return Handle{}, &ProvisionError{Template: m.opts.Template, Err: err}
	}

	logging.Sandbox("created sandbox %s (template=%s)", id, m.opts.Template)
	return Handle{ID: id}, nil
}

// Connect opens a session on an existing sandbox.
func (m *LocalManager) Connect(ctx context.Context, id string) (Session, error) {
	dir := filepath.Join(m.opts.BaseDir, id)
	meta, err := m.readMetadata(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &ConnectionError{ID: id, Err: ErrNotFound}
		}
		return nil, &ConnectionError{ID: id, Err: err}
	}
	if meta.Status == StatusTerminated {
		return nil, fmt.Errorf("connect %s: %w", id, ErrTerminated)
	}

	logging.SandboxDebug("connected to sandbox %s", id)
	return &localSession{
		id:      id,
		root:    filepath.Join(dir, workspaceDir),
		wsRoot:  m.opts.WorkspaceRoot,
		timeout: m.opts.CommandTimeout,
	}, nil
}

// Kill marks the sandbox terminated and removes its workspace.
func (m *LocalManager) Kill(ctx context.Context, id string) error {
	dir := filepath.Join(m.opts.BaseDir, id)
	meta, err := m.readMetadata(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("kill %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("kill %s: %w", id, err)
	}

	meta.Status = StatusTerminated
	if err := m.writeMetadata(dir, meta); err != nil {
		return fmt.Errorf("kill %s: %w", id, err)
	}
	if err := os.RemoveAll(filepath.Join(dir, workspaceDir)); err != nil {
		return fmt.Errorf("kill %s: remove workspace: %w", id, err)
	}
	return nil
}

func (m *LocalManager) readMetadata(dir string) (metadata, error) {
	var meta metadata
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("corrupt sandbox metadata: %w", err)
	}
	return meta, nil
}

func (m *LocalManager) writeMetadata(dir string, meta metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, metadataFile), data, 0644)
}

type localSession struct {
	id      string
	root    string // on-disk workspace directory
	wsRoot  string // workspace root as seen inside the sandbox
	timeout time.Duration
}

func (s *localSession) ID() string { return s.id }

// GetHost returns the preview URL for a port exposed by the sandbox.
func (s *localSession) GetHost(port int) string {
	return fmt.Sprintf("http://%d-%s.localhost", port, s.id)
}

// resolve maps a sandbox path onto the on-disk workspace. Relative paths are
// workspace-relative; absolute paths must sit under the workspace root.
func (s *localSession) resolve(p string) (string, error) {
	clean := path.Clean(filepath.ToSlash(p))
	if path.IsAbs(clean) {
		if clean != s.wsRoot && !strings.HasPrefix(clean, s.wsRoot+"/") {
			return "", fmt.Errorf("path %s is outside the workspace %s", p, s.wsRoot)
		}
		clean = strings.TrimPrefix(strings.TrimPrefix(clean, s.wsRoot), "/")
		if clean == "" {
			clean = "."
		}
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("path %s escapes the workspace", p)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

func (s *localSession) WriteFile(ctx context.Context, p, content string) error {
	target, err := s.resolve(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	if err := os.WriteFile(target, []byte(content), 0644); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	logging.SandboxDebug("sandbox %s: wrote %s (%d bytes)", s.id, p, len(content))
	return nil
}

func (s *localSession) ReadFile(ctx context.Context, p string) (string, error) {
	target, err := s.resolve(p)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", p, err)
	}
	return string(data), nil
}

// RunCommand executes cmd with sh -c inside the workspace directory.
func (s *localSession) RunCommand(ctx context.Context, cmd string, onStdout, onStderr func(string)) (CommandResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	c := exec.CommandContext(execCtx, "sh", "-c", cmd)
	c.Dir = s.root
	c.Env = append(os.Environ(), "HOME="+s.root)

	var stdout, stderr bytes.Buffer
	c.Stdout = &streamWriter{buf: &stdout, fn: onStdout}
	c.Stderr = &streamWriter{buf: &stderr, fn: onStderr}

	logging.SandboxDebug("sandbox %s: run %q", s.id, cmd)
	err := c.Run()

	result := CommandResult{
		Stdout: truncate(stdout.String()),
		Stderr: truncate(stderr.String()),
	}

	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			result.ExitCode = -1
			return result, fmt.Errorf("command timed out after %s", s.timeout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, &CommandExitError{Command: cmd, Result: result}
		}
		return result, fmt.Errorf("command failed: %w", err)
	}

	logging.SandboxDebug("sandbox %s: command completed (%d bytes stdout)", s.id, stdout.Len())
	return result, nil
}

// streamWriter buffers output and forwards each chunk to fn.
type streamWriter struct {
	buf *bytes.Buffer
	fn  func(string)
}

func (w *streamWriter) Write(p []byte) (int, error) {
	if w.fn != nil {
		w.fn(string(p))
	}
	return w.buf.Write(p)
}

func truncate(s string) string {
	if len(s) > maxOutputBytes {
		return s[:maxOutputBytes] + "\n...[truncated]"
	}
	return s
}
