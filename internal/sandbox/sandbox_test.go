package sandbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T) *LocalManager {
	t.Helper()
	return NewLocalManager(LocalOptions{
		BaseDir:        t.TempDir(),
		Template:       "agent-builder",
		WorkspaceRoot:  "/home/user",
		CommandTimeout: 10 * time.Second,
	})
}

func TestLocalManager_FilesPersistAcrossReconnects(t *testing.T) {
	ctx := context.Background()
	m := newLocal(t)

	h, err := m.Create(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, h.ID)

	s1, err := m.Connect(ctx, h.ID)
	require.NoError(t, err)
	require.NoError(t, s1.WriteFile(ctx, "app/main.py", "print('hi')"))

	s2, err := m.Connect(ctx, h.ID)
	require.NoError(t, err)

	got, err := s2.ReadFile(ctx, "/home/user/app/main.py")
	require.NoError(t, err)
	assert.Equal(t, "print('hi')", got)
}

func TestLocalSession_RejectsPathsOutsideWorkspace(t *testing.T) {
	ctx := context.Background()
	m := newLocal(t)
	h, err := m.Create(ctx)
	require.NoError(t, err)
	s, err := m.Connect(ctx, h.ID)
	require.NoError(t, err)

	assert.Error(t, s.WriteFile(ctx, "/etc/passwd", "x"))
	assert.Error(t, s.WriteFile(ctx, "../../escape.txt", "x"))
}

func TestLocalSession_RunCommand(t *testing.T) {
	ctx := context.Background()
	m := newLocal(t)
	h, err := m.Create(ctx)
	require.NoError(t, err)
	s, err := m.Connect(ctx, h.ID)
	require.NoError(t, err)

	t.Run("streams stdout", func(t *testing.T) {
		var streamed strings.Builder
		res, err := s.RunCommand(ctx, "echo hello", func(chunk string) { streamed.WriteString(chunk) }, nil)
		require.NoError(t, err)
		assert.Equal(t, "hello\n", res.Stdout)
		assert.Equal(t, "hello\n", streamed.String())
	})

	t.Run("non-zero exit", func(t *testing.T) {
		res, err := s.RunCommand(ctx, "echo oops 1>&2; exit 3", nil, nil)
		var exitErr *CommandExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, 3, exitErr.Result.ExitCode)
		assert.Equal(t, "oops\n", res.Stderr)
	})

	t.Run("runs in workspace", func(t *testing.T) {
		require.NoError(t, s.WriteFile(ctx, "marker.txt", "here"))
		res, err := s.RunCommand(ctx, "cat marker.txt", nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "here", res.Stdout)
	})
}

func TestLocalManager_GetHost(t *testing.T) {
	ctx := context.Background()
	m := newLocal(t)
	h, err := m.Create(ctx)
	require.NoError(t, err)
	s, err := m.Connect(ctx, h.ID)
	require.NoError(t, err)

	assert.Equal(t, "http://3000-"+h.ID+".localhost", s.GetHost(3000))
}

func TestLocalManager_KillThenConnect(t *testing.T) {
	ctx := context.Background()
	m := newLocal(t)
	h, err := m.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Kill(ctx, h.ID))

	_, err = m.Connect(ctx, h.ID)
	assert.ErrorIs(t, err, ErrTerminated)
}

func TestLocalManager_ConnectUnknown(t *testing.T) {
	_, err := newLocal(t).Connect(context.Background(), "missing")

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryManager_ProvisionError(t *testing.T) {
	m := NewMemoryManager()
	m.CreateErr = errors.New("no capacity")

	_, err := m.Create(context.Background())

	var provErr *ProvisionError
	require.ErrorAs(t, err, &provErr)
	assert.Contains(t, err.Error(), "no capacity")
}

func TestConnectWithRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("recovers from transient connection errors", func(t *testing.T) {
		m := NewMemoryManager()
		h, err := m.Create(ctx)
		require.NoError(t, err)
		m.ConnectFailures = 2

		s, err := ConnectWithRetry(ctx, m, h.ID, 3, time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, h.ID, s.ID())

		_, connects, _ := m.Counts()
		assert.Equal(t, 3, connects)
	})

	t.Run("gives up after attempts", func(t *testing.T) {
		m := NewMemoryManager()
		h, err := m.Create(ctx)
		require.NoError(t, err)
		m.ConnectFailures = 5

		_, err = ConnectWithRetry(ctx, m, h.ID, 2, time.Millisecond)
		var connErr *ConnectionError
		assert.ErrorAs(t, err, &connErr)
	})

	t.Run("does not retry terminated sandboxes", func(t *testing.T) {
		m := NewMemoryManager()
		h, err := m.Create(ctx)
		require.NoError(t, err)
		require.NoError(t, m.Kill(ctx, h.ID))

		_, err = ConnectWithRetry(ctx, m, h.ID, 3, time.Millisecond)
		assert.ErrorIs(t, err, ErrTerminated)

		_, connects, _ := m.Counts()
		assert.Equal(t, 1, connects)
	})
}

func TestTerminate_SwallowsErrors(t *testing.T) {
	m := NewMemoryManager()

	assert.NotPanics(t, func() { Terminate(context.Background(), m, "never-created") })

	_, _, kills := m.Counts()
	assert.Equal(t, 1, kills)
}
