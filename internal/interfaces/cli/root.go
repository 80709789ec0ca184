// Package cli implements the lexner command line: local and remote entity
// extraction, the API server and worker entry points, and schema
// migrations.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/turtacn/LexNER/internal/app"
	"github.com/turtacn/LexNER/internal/config"
	"github.com/turtacn/LexNER/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexNER/pkg/client"
	"github.com/turtacn/LexNER/pkg/errors"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

type cliContextKey struct{}

// RootOptions holds global CLI flags.
type RootOptions struct {
	ConfigPath   string
	LogLevel     string
	OutputFormat string
	Verbose      bool
	NoColor      bool
	Timeout      time.Duration
	ServerAddr   string
}

// CLIContext carries initialized dependencies through the command tree.
type CLIContext struct {
	Config *config.Config
	Logger logging.Logger
	// Client is set when --server points the CLI at a running API.
	Client       *client.Client
	OutputFormat string
	Verbose      bool
	NoColor      bool
	Timeout      time.Duration
}

// NewRootCommand creates the root command with all global flags and
// subcommands.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "lexner",
		Short: "LexNER: named entity recognition for Turkish legal text",
		Long: "LexNER extracts people, organizations, locations, money amounts, dates and\n" +
			"legal references from Turkish legal documents. It runs the pipeline locally\n" +
			"or against a LexNER API server, serves the API and runs the Kafka worker.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return persistentPreRun(cmd, opts)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "config file path (default: ./lexner.yaml)")
	pf.StringVar(&opts.LogLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	pf.StringVarP(&opts.OutputFormat, "output", "o", "text", "output format (text, json, table)")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "enable verbose output")
	pf.BoolVar(&opts.NoColor, "no-color", false, "disable colored output")
	pf.DurationVar(&opts.Timeout, "timeout", 60*time.Second, "global operation timeout")
	pf.StringVar(&opts.ServerAddr, "server", "", "LexNER API address; runs the pipeline locally when empty")

	cmd.AddCommand(
		NewAnalyzeCmd(),
		NewSearchCmd(),
		NewTypesCmd(),
		NewServeCmd(),
		NewWorkerCmd(),
		NewMigrateCmd(),
		NewVersionCmd(),
	)
	return cmd
}

func persistentPreRun(cmd *cobra.Command, opts *RootOptions) error {
	switch strings.ToLower(opts.OutputFormat) {
	case "text", "json", "table":
	default:
		return errors.InvalidParam(fmt.Sprintf("unknown output format %q", opts.OutputFormat))
	}
	if opts.NoColor {
		color.NoColor = true
	}

	cfg, err := initConfig(cmd, opts)
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}
	logger, err := initLogger(opts)
	if err != nil {
		return fmt.Errorf("logger initialization failed: %w", err)
	}

	cliCtx := &CLIContext{
		Config:       cfg,
		Logger:       logger,
		OutputFormat: strings.ToLower(opts.OutputFormat),
		Verbose:      opts.Verbose,
		NoColor:      opts.NoColor,
		Timeout:      opts.Timeout,
	}
	if opts.ServerAddr != "" {
		c, err := client.NewClient(opts.ServerAddr,
			client.WithTimeout(opts.Timeout),
			client.WithUserAgent("lexner-cli/"+Version))
		if err != nil {
			return fmt.Errorf("invalid --server: %w", err)
		}
		cliCtx.Client = c
	}

	cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cliCtx))
	return nil
}

// initConfig loads configuration with priority: flags > env > file >
// defaults. Without --config the first file found on the search path is
// used.
func initConfig(cmd *cobra.Command, opts *RootOptions) (*config.Config, error) {
	if opts.ConfigPath != "" {
		return config.Load(opts.ConfigPath)
	}

	searchPaths := []string{"./lexner.yaml"}
	if homeDir, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(homeDir, ".lexner", "config.yaml"))
	}
	searchPaths = append(searchPaths, "/etc/lexner/config.yaml")

	for _, p := range searchPaths {
		if _, statErr := os.Stat(p); statErr == nil {
			return config.Load(p)
		}
	}
	if opts.Verbose {
		fmt.Fprintln(cmd.ErrOrStderr(), "no config file found, using defaults and LEXNER_* environment")
	}
	return config.LoadFromEnv()
}

// initLogger creates a logger for interactive use, writing to stderr.
// serve and worker replace it with the configured service logger.
func initLogger(opts *RootOptions) (logging.Logger, error) {
	level := strings.ToLower(opts.LogLevel)
	if opts.Verbose {
		level = "debug"
	}
	return logging.NewLogger(logging.LogConfig{
		Level:            level,
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	})
}

// GetCLIContext extracts CLIContext from a command's context.
func GetCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	ctx := cmd.Context()
	if ctx == nil {
		return nil, errors.Internal("command context is nil")
	}
	cliCtx, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || cliCtx == nil {
		return nil, errors.Internal("CLI context not initialized")
	}
	return cliCtx, nil
}

// Execute is the main entry point for the CLI application.
func Execute() error {
	app.Version = Version
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		PrintError(rootCmd, err)
		return err
	}
	return nil
}
