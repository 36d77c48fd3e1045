package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readCategoryLog(t *testing.T, ws string, category Category) string {
	t.Helper()
	name := time.Now().Format("2006-01-02") + "_" + string(category) + ".log"
	data, err := os.ReadFile(filepath.Join(ws, ".agentforge", "logs", name))
	require.NoError(t, err)
	return string(data)
}

func TestInitialize_RequiresWorkspace(t *testing.T) {
	err := Initialize("", Options{})
	assert.Error(t, err)
}

func TestProductionModeWritesNothing(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, Initialize(ws, Options{DebugMode: false}))
	defer CloseAll()

	Tools("should not be written")

	assert.False(t, IsDebugMode())
	_, err := os.Stat(filepath.Join(ws, ".agentforge", "logs"))
	assert.True(t, os.IsNotExist(err), "logs dir must not exist in production mode")
}

func TestDebugModeWritesPerCategoryFiles(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, Initialize(ws, Options{DebugMode: true, Level: "debug"}))

	Tools("terminal executed %s", "ls -la")
	SandboxDebug("connected to %s", "sbx-1")
	CloseAll()

	assert.Contains(t, readCategoryLog(t, ws, CategoryTools), "terminal executed ls -la")
	assert.Contains(t, readCategoryLog(t, ws, CategorySandbox), "connected to sbx-1")
}

func TestCategoryFilter(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, Initialize(ws, Options{
		DebugMode:  true,
		Categories: map[string]bool{"cache": false},
	}))
	defer CloseAll()

	assert.False(t, IsCategoryEnabled(CategoryCache))
	assert.True(t, IsCategoryEnabled(CategoryRouter), "unlisted categories default to enabled")
}

func TestLevelFiltering(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, Initialize(ws, Options{DebugMode: true, Level: "warn"}))

	Router("info line")
	RouterWarn("warn line")
	CloseAll()

	content := readCategoryLog(t, ws, CategoryRouter)
	assert.NotContains(t, content, "info line")
	assert.Contains(t, content, "warn line")
}

func TestWithRunID_JSONFormat(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, Initialize(ws, Options{DebugMode: true, JSONFormat: true}))

	WithRunID(CategoryWorkflow, "run-42").Info("run started")
	CloseAll()

	content := readCategoryLog(t, ws, CategoryWorkflow)
	assert.True(t, strings.Contains(content, `"run_id":"run-42"`), content)
	assert.Contains(t, content, `"msg":"run started"`)
}

func TestTimerStopWithThreshold(t *testing.T) {
	timer := StartTimer(CategoryStore, "noop")
	elapsed := timer.StopWithThreshold(time.Hour)
	assert.GreaterOrEqual(t, elapsed, time.Duration(0))
}
