package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all agentforge configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Remote execution environment
	Sandbox SandboxConfig `yaml:"sandbox"`

	// Minimum spacing before each tool call
	Pacing PacingConfig `yaml:"pacing"`

	// Quota-aware retry around the agent network
	Retry RetryConfig `yaml:"retry"`

	// Agent network router
	Router RouterConfig `yaml:"router"`

	// Response cache
	Cache CacheConfig `yaml:"cache"`

	// Document store
	Store StoreConfig `yaml:"store"`

	// Run dispatch
	Workflow WorkflowConfig `yaml:"workflow"`

	// Trigger endpoint
	Server ServerConfig `yaml:"server"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the agent model.
type LLMConfig struct {
	Provider string `yaml:"provider"` // gemini, scripted
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Timeout  string `yaml:"timeout"`
}

// SandboxConfig configures the sandbox manager.
type SandboxConfig struct {
	Backend        string `yaml:"backend"`  // local, memory
	BaseDir        string `yaml:"base_dir"` // where local sandboxes live
	Template       string `yaml:"template"`
	WorkspaceRoot  string `yaml:"workspace_root"`
	PreviewPort    int    `yaml:"preview_port"`
	PackageManager string `yaml:"package_manager"`
	CommandTimeout string `yaml:"command_timeout"`
	ConnectRetries int    `yaml:"connect_retries"`
	ConnectBackoff string `yaml:"connect_backoff"`

	// TerminateOnSuccess kills the sandbox after a successful run. Failed runs
	// are always terminated.
	TerminateOnSuccess bool `yaml:"terminate_on_success"`
}

// PacingConfig holds the deliberate delays issued before each tool call
// to stay under the compute and LLM providers' rate limits.
type PacingConfig struct {
	Terminal          string `yaml:"terminal"`
	ReadFiles         string `yaml:"read_files"`
	WriteFilesBase    string `yaml:"write_files_base"`
	WriteFilesPerFile string `yaml:"write_files_per_file"`
	InstallPackages   string `yaml:"install_packages"`
	InitialStagger    string `yaml:"initial_stagger"`
}

// RetryConfig configures quota-aware retry.
type RetryConfig struct {
	MaxRetries   int    `yaml:"max_retries"`
	DefaultDelay string `yaml:"default_delay"`
	BaseDelay    string `yaml:"base_delay"`
}

// RouterConfig configures the agent network.
type RouterConfig struct {
	MaxIterations    int    `yaml:"max_iterations"`
	SystemPromptFile string `yaml:"system_prompt_file"`
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	TTL      string `yaml:"ttl"`
	Capacity int    `yaml:"capacity"`
}

// StoreConfig configures the SQLite document store.
type StoreConfig struct {
	Driver       string `yaml:"driver"` // sqlite (modernc), sqlite3 (mattn)
	DatabasePath string `yaml:"database_path"`
}

// WorkflowConfig configures asynchronous run dispatch.
type WorkflowConfig struct {
	MaxConcurrentRuns int `yaml:"max_concurrent_runs"`
}

// ServerConfig configures the HTTP trigger endpoint.
type ServerConfig struct {
	Listen         string `yaml:"listen"`
	MaxConnections int    `yaml:"max_connections"`
	DefaultUserID  string `yaml:"default_user_id"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "agentforge",
		Version: "0.3.0",

		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.5-flash",
			Timeout:  "120s",
		},

		Sandbox: SandboxConfig{
			Backend:        "local",
			BaseDir:        ".agentforge/sandboxes",
			Template:       "agent-builder",
			WorkspaceRoot:  "/home/user",
			PreviewPort:    3000,
			PackageManager: "npm",
			CommandTimeout: "120s",
			ConnectRetries: 3,
			ConnectBackoff: "1s",
		},

		Pacing: PacingConfig{
			Terminal:          "1s",
			ReadFiles:         "500ms",
			WriteFilesBase:    "500ms",
			WriteFilesPerFile: "200ms",
			InstallPackages:   "1500ms",
			InitialStagger:    "1s",
		},

		Retry: RetryConfig{
			MaxRetries:   5,
			DefaultDelay: "120s",
			BaseDelay:    "30s",
		},

		Router: RouterConfig{
			MaxIterations: 15,
		},

		Cache: CacheConfig{
			TTL:      "5m",
			Capacity: 100,
		},

		Store: StoreConfig{
			Driver:       "sqlite",
			DatabasePath: ".agentforge/agentforge.db",
		},

		Workflow: WorkflowConfig{
			MaxConcurrentRuns: 4,
		},

		Server: ServerConfig{
			Listen:         "127.0.0.1:8288",
			MaxConnections: 64,
			DefaultUserID:  "local-user",
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// GEMINI_API_KEY wins over the generic Google key
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}

	if path := os.Getenv("AGENTFORGE_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if dir := os.Getenv("AGENTFORGE_SANDBOX_DIR"); dir != "" {
		c.Sandbox.BaseDir = dir
	}
}

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{"gemini", "scripted"}

// ValidSandboxBackends lists all supported sandbox backends.
var ValidSandboxBackends = []string{"local", "memory"}

// ValidStoreDrivers lists the registered database/sql driver names.
var ValidStoreDrivers = []string{"sqlite", "sqlite3"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !contains(ValidProviders, c.LLM.Provider) {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}
	if c.LLM.Provider == "gemini" && c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set GEMINI_API_KEY or GOOGLE_API_KEY)")
	}
	if !contains(ValidSandboxBackends, c.Sandbox.Backend) {
		return fmt.Errorf("invalid sandbox backend: %s (valid: %v)", c.Sandbox.Backend, ValidSandboxBackends)
	}
	if !contains(ValidStoreDrivers, c.Store.Driver) {
		return fmt.Errorf("invalid store driver: %s (valid: %v)", c.Store.Driver, ValidStoreDrivers)
	}
	if c.Router.MaxIterations < 1 || c.Router.MaxIterations > 50 {
		return fmt.Errorf("router.max_iterations must be between 1 and 50, got %d", c.Router.MaxIterations)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	if c.Cache.Capacity < 1 {
		return fmt.Errorf("cache.capacity must be >= 1")
	}
	if c.Workflow.MaxConcurrentRuns < 1 {
		return fmt.Errorf("workflow.max_concurrent_runs must be >= 1")
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// parseDuration returns def when s is empty or malformed.
func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// GetLLMTimeout returns the per-call LLM timeout.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 120*time.Second)
}

// GetCommandTimeout returns the sandbox command timeout.
func (c *Config) GetCommandTimeout() time.Duration {
	return parseDuration(c.Sandbox.CommandTimeout, 120*time.Second)
}

// GetConnectBackoff returns the delay between sandbox reconnect attempts.
func (c *Config) GetConnectBackoff() time.Duration {
	return parseDuration(c.Sandbox.ConnectBackoff, time.Second)
}

// GetCacheTTL returns the response cache TTL.
func (c *Config) GetCacheTTL() time.Duration {
	return parseDuration(c.Cache.TTL, 5*time.Minute)
}

// GetRetryDefaultDelay returns the first quota backoff when no provider hint exists.
func (c *Config) GetRetryDefaultDelay() time.Duration {
	return parseDuration(c.Retry.DefaultDelay, 120*time.Second)
}

// GetRetryBaseDelay returns the exponential backoff base.
func (c *Config) GetRetryBaseDelay() time.Duration {
	return parseDuration(c.Retry.BaseDelay, 30*time.Second)
}

// Pacing delays, resolved.
type Pacing struct {
	Terminal          time.Duration
	ReadFiles         time.Duration
	WriteFilesBase    time.Duration
	WriteFilesPerFile time.Duration
	InstallPackages   time.Duration
	InitialStagger    time.Duration
}

// GetPacing resolves the pacing section into durations.
func (c *Config) GetPacing() Pacing {
	return Pacing{
		Terminal:          parseDuration(c.Pacing.Terminal, time.Second),
		ReadFiles:         parseDuration(c.Pacing.ReadFiles, 500*time.Millisecond),
		WriteFilesBase:    parseDuration(c.Pacing.WriteFilesBase, 500*time.Millisecond),
		WriteFilesPerFile: parseDuration(c.Pacing.WriteFilesPerFile, 200*time.Millisecond),
		InstallPackages:   parseDuration(c.Pacing.InstallPackages, 1500*time.Millisecond),
		InitialStagger:    parseDuration(c.Pacing.InitialStagger, time.Second),
	}
}
