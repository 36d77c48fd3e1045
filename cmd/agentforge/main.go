package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"agentforge/internal/config"
	"agentforge/internal/logging"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose    bool
	workspace  string
	configPath string

	// Flag and environment binding (AGENTFORGE_*)
	settings = viper.New()

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "agentforge",
	Short: "agentforge - build small apps from a prompt inside a sandbox",
	Long: `agentforge turns a natural language request into a working project.

An AI agent drives a sandboxed environment through four tools (terminal,
write_files, read_files, install_packages) until it reports completion.
The generated files and a preview URL are saved to the project as a fragment.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if settings.GetBool("verbose") {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: <workspace>/.agentforge/config.yaml)")

	settings.SetEnvPrefix("AGENTFORGE")
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()
	for _, name := range []string{"verbose", "workspace", "config"} {
		_ = settings.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(messageCmd)
	rootCmd.AddCommand(usageCmd)
}

// resolveWorkspace returns the absolute workspace directory.
func resolveWorkspace() (string, error) {
	ws := settings.GetString("workspace")
	if ws == "" {
		var err error
		if ws, err = os.Getwd(); err != nil {
			return "", fmt.Errorf("resolve workspace: %w", err)
		}
	}
	return filepath.Abs(ws)
}

// loadConfig resolves the workspace, loads and validates the config, and
// starts category logging.
func loadConfig() (*config.Config, string, error) {
	ws, err := resolveWorkspace()
	if err != nil {
		return nil, "", err
	}

	path := settings.GetString("config")
	if path == "" {
		path = filepath.Join(ws, ".agentforge", "config.yaml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if settings.GetBool("verbose") {
		cfg.Logging.DebugMode = true
	}

	if err := logging.Initialize(ws, logging.Options{
		DebugMode:  cfg.Logging.DebugMode,
		Level:      cfg.Logging.Level,
		JSONFormat: cfg.Logging.JSONFormat,
		Categories: cfg.Logging.Categories,
	}); err != nil {
		return nil, "", err
	}
	logging.Boot("Loaded config from %s", path)
	return cfg, ws, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
