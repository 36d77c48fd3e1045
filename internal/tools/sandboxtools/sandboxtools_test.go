package sandboxtools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"agentforge/internal/sandbox"
	"agentforge/internal/steps"
	"agentforge/internal/tools"
	"agentforge/internal/types"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	mgr   *sandbox.MemoryManager
	id    string
	log   *steps.MemoryLog
	state *types.NetworkState
	slept []time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mgr := sandbox.NewMemoryManager()
	h, err := mgr.Create(context.Background())
	require.NoError(t, err)
	return &fixture{mgr: mgr, id: h.ID, log: steps.NewMemoryLog(), state: types.NewNetworkState()}
}

// bind builds a fresh executor and registry, as a resumed run would.
func (f *fixture) bind() *tools.Registry {
	exec := steps.NewExecutor("run-1", f.log, steps.WithSleeper(steps.SleeperFunc(func(ctx context.Context, d time.Duration) error {
		f.slept = append(f.slept, d)
		return nil
	})))
	return Bind(Deps{
		Manager:        f.mgr,
		SandboxID:      f.id,
		Steps:          exec,
		State:          f.state,
		Pacing:         tools.DefaultPacing(),
		ConnectBackoff: time.Millisecond,
	})
}

func files(entries ...string) map[string]any {
	list := make([]any, 0, len(entries)/2)
	for i := 0; i+1 < len(entries); i += 2 {
		list = append(list, map[string]any{"path": entries[i], "content": entries[i+1]})
	}
	return map[string]any{"files": list}
}

func TestBind_ExactlyFourTools(t *testing.T) {
	reg := newFixture(t).bind()
	assert.Equal(t, []string{"install_packages", "read_files", "terminal", "write_files"}, reg.Names())
}

func TestWriteFiles_MergesStateAndSandbox(t *testing.T) {
	f := newFixture(t)
	reg := f.bind()

	res, err := reg.Execute(context.Background(), ToolWriteFiles, files("main.py", "print('hello')", "lib/util.py", "x = 1"))
	require.NoError(t, err)
	assert.Contains(t, res.Result, "Successfully wrote 2 file(s)")

	want := map[string]string{"main.py": "print('hello')", "lib/util.py": "x = 1"}
	if diff := cmp.Diff(want, f.state.Files); diff != "" {
		t.Errorf("state files mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, f.mgr.Files(f.id)); diff != "" {
		t.Errorf("sandbox files mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteFiles_PacingScalesWithBatch(t *testing.T) {
	f := newFixture(t)
	reg := f.bind()

	_, err := reg.Execute(context.Background(), ToolWriteFiles, files("a", "1", "b", "2", "c", "3"))
	require.NoError(t, err)

	require.Len(t, f.slept, 1)
	assert.Equal(t, tools.DefaultPacing().WriteDelay(3), f.slept[0])
}

func TestWriteFiles_NormalizedPathsCollapse(t *testing.T) {
	f := newFixture(t)
	reg := f.bind()
	ctx := context.Background()

	_, err := reg.Execute(ctx, ToolWriteFiles, files("./app/main.py", "v1"))
	require.NoError(t, err)
	_, err = reg.Execute(ctx, ToolWriteFiles, files("/home/user/app/main.py", "v2"))
	require.NoError(t, err)
	_, err = reg.Execute(ctx, ToolWriteFiles, files("App/main.py", "other"))
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"app/main.py": "v2", "App/main.py": "other"}, f.state.Files)
}

func TestWriteFiles_ReplayRebuildsStateWithoutRewriting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.bind().Execute(ctx, ToolWriteFiles, files("main.py", "print(1)"))
	require.NoError(t, err)
	_, connects, _ := f.mgr.Counts()

	// Resume: fresh state, same step log.
	f.state = types.NewNetworkState()
	f.slept = nil
	_, err = f.bind().Execute(ctx, ToolWriteFiles, files("main.py", "print(1)"))
	require.NoError(t, err)

	_, connectsAfter, _ := f.mgr.Counts()
	assert.Equal(t, connects, connectsAfter, "replay must not touch the sandbox")
	assert.Empty(t, f.slept, "replayed pacing must not sleep")
	assert.Equal(t, map[string]string{"main.py": "print(1)"}, f.state.Files)
}

func TestTerminal(t *testing.T) {
	ctx := context.Background()

	t.Run("returns stdout", func(t *testing.T) {
		f := newFixture(t)
		f.mgr.OnCommand = func(cmd string) (sandbox.CommandResult, error) {
			return sandbox.CommandResult{Stdout: "ok\n"}, nil
		}
		res, err := f.bind().Execute(ctx, ToolTerminal, map[string]any{"command": "echo ok"})
		require.NoError(t, err)
		assert.Equal(t, "ok\n", res.Result)
	})

	t.Run("failure becomes text", func(t *testing.T) {
		f := newFixture(t)
		f.mgr.OnCommand = func(cmd string) (sandbox.CommandResult, error) {
			return sandbox.CommandResult{Stdout: "partial", Stderr: "boom", ExitCode: 2}, nil
		}
		res, err := f.bind().Execute(ctx, ToolTerminal, map[string]any{"command": "make"})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(res.Result, "Error:"))
		assert.Contains(t, res.Result, "stdout: partial")
		assert.Contains(t, res.Result, "stderr: boom")
	})

	t.Run("unreachable sandbox becomes text", func(t *testing.T) {
		f := newFixture(t)
		f.mgr.ConnectFailures = 10
		res, err := f.bind().Execute(ctx, ToolTerminal, map[string]any{"command": "ls"})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(res.Result, "Error:"))
	})

	t.Run("same command twice runs twice", func(t *testing.T) {
		f := newFixture(t)
		reg := f.bind()
		for i := 0; i < 2; i++ {
			_, err := reg.Execute(ctx, ToolTerminal, map[string]any{"command": "npm test"})
			require.NoError(t, err)
		}
		assert.Equal(t, []string{"npm test", "npm test"}, f.mgr.Commands())
	})
}

func TestReadFiles_PerFileErrors(t *testing.T) {
	f := newFixture(t)
	reg := f.bind()
	ctx := context.Background()

	_, err := reg.Execute(ctx, ToolWriteFiles, files("present.txt", "hi"))
	require.NoError(t, err)

	res, err := reg.Execute(ctx, ToolReadFiles, map[string]any{"paths": []any{"present.txt", "missing.txt"}})
	require.NoError(t, err)

	var reads []FileRead
	require.NoError(t, json.Unmarshal([]byte(res.Result), &reads))
	require.Len(t, reads, 2)
	assert.Equal(t, "hi", reads[0].Content)
	assert.Empty(t, reads[0].Error)
	assert.NotEmpty(t, reads[1].Error)
}

func TestInstallPackages(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.bind().Execute(ctx, ToolInstallPackages, map[string]any{"packages": []any{"express", "zod"}})
		require.NoError(t, err)
		assert.Equal(t, "Installed: express, zod", res.Result)
		assert.Equal(t, []string{"npm install express zod"}, f.mgr.Commands())
	})

	t.Run("failure", func(t *testing.T) {
		f := newFixture(t)
		f.mgr.OnCommand = func(cmd string) (sandbox.CommandResult, error) {
			return sandbox.CommandResult{}, errors.New("registry offline")
		}
		res, err := f.bind().Execute(ctx, ToolInstallPackages, map[string]any{"packages": []any{"express"}})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(res.Result, "Install failed:"))
	})
}

func TestInvalidArguments(t *testing.T) {
	reg := newFixture(t).bind()

	_, err := reg.Execute(context.Background(), ToolWriteFiles, map[string]any{"files": "main.py"})
	assert.ErrorIs(t, err, tools.ErrInvalidArgType)

	_, err = reg.Execute(context.Background(), ToolReadFiles, map[string]any{"paths": []any{1}})
	assert.ErrorIs(t, err, tools.ErrInvalidArgType)
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "main.py", want: "main.py"},
		{in: "./main.py", want: "main.py"},
		{in: "/main.py", want: "main.py"},
		{in: "/home/user/main.py", want: "main.py"},
		{in: "/home/user/src/../lib/a.py", want: "lib/a.py"},
		{in: "src//app.py", want: "src/app.py"},
		{in: "src\\app.py", want: "src/app.py"},
		{in: "Main.py", want: "Main.py"},
		{in: "/home/username/x", want: "home/username/x"},
		{in: "", wantErr: true},
		{in: "/home/user", wantErr: true},
		{in: "../secret", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizePath("/home/user", tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
