package sandbox

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// CommandFunc scripts the result of a command in a MemoryManager sandbox.
type CommandFunc func(cmd string) (CommandResult, error)

// MemoryManager is an in-process Manager. It backs dry runs and tests.
type MemoryManager struct {
	// CreateErr, when set, makes every Create fail with a ProvisionError.
	CreateErr error
	// ConnectFailures makes the first N Connect calls fail with a ConnectionError.
	ConnectFailures int
	// OnCommand scripts RunCommand. Nil echoes success with empty output.
	OnCommand CommandFunc

	mu         sync.Mutex
	boxes      map[string]*memoryBox
	creates    int
	connects   int
	kills      int
	commandLog []string
}

type memoryBox struct {
	status Status
	files  map[string]string
}

// NewMemoryManager returns an empty MemoryManager.
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{boxes: make(map[string]*memoryBox)}
}

func (m *MemoryManager) Create(ctx context.Context) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.creates++
	if m.CreateErr != nil {
		return Handle{}, &ProvisionError{Template: "memory", Err: m.CreateErr}
	}
	id := uuid.NewString()
	m.boxes[id] = &memoryBox{status: StatusReady, files: make(map[string]string)}
	return Handle{ID: id}, nil
}

func (m *MemoryManager) Connect(ctx context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connects++
	if m.ConnectFailures > 0 {
		m.ConnectFailures--
		return nil, &ConnectionError{ID: id, Err: fmt.Errorf("not reachable yet")}
	}
	box, ok := m.boxes[id]
	if !ok {
		return nil, &ConnectionError{ID: id, Err: ErrNotFound}
	}
	if box.status == StatusTerminated {
		return nil, fmt.Errorf("connect %s: %w", id, ErrTerminated)
	}
	return &memorySession{id: id, m: m}, nil
}

func (m *MemoryManager) Kill(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.kills++
	box, ok := m.boxes[id]
	if !ok {
		return fmt.Errorf("kill %s: %w", id, ErrNotFound)
	}
	box.status = StatusTerminated
	return nil
}

// Files returns a copy of the sandbox's files keyed by workspace-relative path.
func (m *MemoryManager) Files(id string) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if box, ok := m.boxes[id]; ok {
		return maps.Clone(box.files)
	}
	return nil
}

// Status reports the sandbox lifecycle state.
func (m *MemoryManager) Status(id string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	box, ok := m.boxes[id]
	if !ok {
		return "", false
	}
	return box.status, true
}

// Commands returns every command run so far, in order.
func (m *MemoryManager) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commandLog...)
}

// Counts returns the number of Create, Connect and Kill calls.
func (m *MemoryManager) Counts() (creates, connects, kills int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates, m.connects, m.kills
}

type memorySession struct {
	id string
	m  *MemoryManager
}

func (s *memorySession) ID() string { return s.id }

func (s *memorySession) GetHost(port int) string {
	return fmt.Sprintf("http://%d-%s.localhost", port, s.id)
}

func memoryKey(p string) string {
	p = strings.TrimPrefix(p, "/home/user/")
	return strings.TrimPrefix(p, "./")
}

func (s *memorySession) WriteFile(ctx context.Context, p, content string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.boxes[s.id].files[memoryKey(p)] = content
	return nil
}

func (s *memorySession) ReadFile(ctx context.Context, p string) (string, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	content, ok := s.m.boxes[s.id].files[memoryKey(p)]
	if !ok {
		return "", fmt.Errorf("read %s: no such file", p)
	}
	return content, nil
}

func (s *memorySession) RunCommand(ctx context.Context, cmd string, onStdout, onStderr func(string)) (CommandResult, error) {
	s.m.mu.Lock()
	s.m.commandLog = append(s.m.commandLog, cmd)
	fn := s.m.OnCommand
	s.m.mu.Unlock()

	if fn == nil {
		return CommandResult{}, nil
	}
	result, err := fn(cmd)
	if onStdout != nil && result.Stdout != "" {
		onStdout(result.Stdout)
	}
	if onStderr != nil && result.Stderr != "" {
		onStderr(result.Stderr)
	}
	if err == nil && result.ExitCode != 0 {
		err = &CommandExitError{Command: cmd, Result: result}
	}
	return result, err
}
