package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// UNIFIED CONFIG TESTS
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "agentforge", cfg.Name)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, 100, cfg.Cache.Capacity)
	assert.Equal(t, 5*time.Minute, cfg.GetCacheTTL())
	assert.Equal(t, 120*time.Second, cfg.GetRetryDefaultDelay())
	assert.False(t, cfg.Sandbox.TerminateOnSuccess)
}

func TestConfig_SaveLoad(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.LLM.APIKey = "sk-test"
	cfg.Router.MaxIterations = 7
	cfg.Pacing.Terminal = "250ms"

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sk-test", loaded.LLM.APIKey)
	assert.Equal(t, 7, loaded.Router.MaxIterations)
	assert.Equal(t, 250*time.Millisecond, loaded.GetPacing().Terminal)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Store.DatabasePath, cfg.Store.DatabasePath)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm: [unclosed"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Run("GEMINI_API_KEY wins over GOOGLE_API_KEY", func(t *testing.T) {
		t.Setenv("GOOGLE_API_KEY", "google-key")
		t.Setenv("GEMINI_API_KEY", "gemini-key")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "gemini-key", cfg.LLM.APIKey)
	})

	t.Run("store and sandbox paths", func(t *testing.T) {
		t.Setenv("AGENTFORGE_DB", "/tmp/x.db")
		t.Setenv("AGENTFORGE_SANDBOX_DIR", "/tmp/sbx")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "/tmp/x.db", cfg.Store.DatabasePath)
		assert.Equal(t, "/tmp/sbx", cfg.Sandbox.BaseDir)
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "gemini without key", mutate: func(c *Config) {}, wantErr: true},
		{name: "gemini with key", mutate: func(c *Config) { c.LLM.APIKey = "k" }},
		{name: "scripted needs no key", mutate: func(c *Config) { c.LLM.Provider = "scripted" }},
		{name: "unknown provider", mutate: func(c *Config) { c.LLM.Provider = "zai"; c.LLM.APIKey = "k" }, wantErr: true},
		{name: "unknown backend", mutate: func(c *Config) { c.LLM.APIKey = "k"; c.Sandbox.Backend = "k8s" }, wantErr: true},
		{name: "unknown driver", mutate: func(c *Config) { c.LLM.APIKey = "k"; c.Store.Driver = "postgres" }, wantErr: true},
		{name: "iteration ceiling too high", mutate: func(c *Config) { c.LLM.APIKey = "k"; c.Router.MaxIterations = 99 }, wantErr: true},
		{name: "zero capacity", mutate: func(c *Config) { c.LLM.APIKey = "k"; c.Cache.Capacity = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGetPacing_FallsBackOnMalformed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pacing.ReadFiles = "soon"

	assert.Equal(t, 500*time.Millisecond, cfg.GetPacing().ReadFiles)
}
