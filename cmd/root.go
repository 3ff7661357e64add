// Package cmd provides the command-line interface for psbg with
// configuration loaded from several sources.
//
// Configuration System:
//
//	Sources are applied with clear precedence:
//	1. Command-line flags (--production, --port, etc.) - highest priority
//	2. Individual environment variables (PSBG_PORT, PSBG_PATH_SRC_HTML, ...)
//	3. Configuration file (--config, PSBG_CONFIG_FILE or .psbg.yml)
//	4. Built-in defaults - lowest priority
//
// Environment Variables:
//
//	PSBG_CONFIG_FILE: Path to a custom configuration file
//	PSBG_PRODUCTION: Build for production
//	PSBG_PORT, PSBG_HOST: Dev server address
//	And every other key following the PSBG_<SECTION>_<KEY> pattern
package cmd

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kohki-shikata/psbg-boilerplate/internal/config"
	perrors "github.com/kohki-shikata/psbg-boilerplate/internal/errors"
	"github.com/kohki-shikata/psbg-boilerplate/internal/logging"
	"github.com/kohki-shikata/psbg-boilerplate/internal/metrics"
	"github.com/kohki-shikata/psbg-boilerplate/internal/pipeline"
	"github.com/kohki-shikata/psbg-boilerplate/internal/tasks"
)

// EnvPrefix prefixes every environment variable psbg reads.
const EnvPrefix = "PSBG"

// app carries the state shared by the commands of one invocation.
type app struct {
	v        *viper.Viper
	cfgFile  string
	cfg      config.Config
	logger   logging.Logger
	recorder *metrics.PrometheusRecorder
}

// Exit codes returned by ExitCode.
const (
	ExitOK     = 0
	ExitFailed = 1
	ExitConfig = 2
	ExitServer = 3
)

// Execute runs the root command and reports a failure through the
// structured logger.
func Execute() error {
	a := newApp()
	root := a.rootCommand()
	err := root.Execute()
	if err != nil {
		a.report(commandContext(root), root, err)
	}
	return err
}

// ExitCode maps the error returned by Execute to a process exit code.
// Configuration problems exit with ExitConfig and a dev server that
// cannot listen with ExitServer.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case perrors.HasErrorType(err, perrors.ErrorTypeConfig),
		perrors.HasErrorType(err, perrors.ErrorTypeValidation):
		return ExitConfig
	case perrors.HasErrorCode(err, perrors.ErrCodeServerFailed):
		return ExitServer
	default:
		return ExitFailed
	}
}

// NewRootCommand builds the command tree. Running it without a
// subcommand is the same as `psbg serve`.
func NewRootCommand() *cobra.Command {
	return newApp().rootCommand()
}

func newApp() *app {
	return &app{v: viper.New()}
}

func (a *app) rootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "psbg",
		Short: "Static site builder with live reload",
		Long: `psbg builds a static website from a source tree: it renders page
templates and Markdown, bundles stylesheets and scripts, optimises images,
writes a sitemap and serves the result with live reload.

Quick Start:
  psbg                  Build, serve and watch (same as psbg serve)
  psbg build            Build once
  psbg build --production
  psbg ship             Build for production and write the zip archive
  psbg config           Print the effective configuration`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.load,
		RunE:              a.runServe,
	}

	addGlobalFlags(rootCmd, a)
	addServerFlags(rootCmd)

	rootCmd.AddCommand(
		newBuildCmd(a),
		newServeCmd(a),
		newWatchCmd(a),
		newShipCmd(a),
		newCleanCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)

	return rootCmd
}

// load reads the configuration and sets up logging and metrics before
// any command runs.
func (a *app) load(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[skipConfigAnnotation] == "true" {
		return nil
	}

	// Priority: --config flag, then PSBG_CONFIG_FILE, then .psbg.yml.
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else if envConfigFile := os.Getenv(EnvPrefix + "_CONFIG_FILE"); envConfigFile != "" {
		a.v.SetConfigFile(envConfigFile)
	} else {
		a.v.AddConfigPath(".")
		a.v.SetConfigType("yaml")
		a.v.SetConfigName(".psbg")
	}

	config.SetDefaults(a.v)
	a.v.SetEnvPrefix(EnvPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	if err := bindFlags(a.v, cmd); err != nil {
		return err
	}

	explicit := a.cfgFile != "" || os.Getenv(EnvPrefix+"_CONFIG_FILE") != ""
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !errors.As(err, &notFound) {
			return configReadError(err)
		}
	}

	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	lc := cfg.LoggerConfig()
	lc.Output = cmd.ErrOrStderr()
	a.logger = logging.NewLogger(lc)
	if used := a.v.ConfigFileUsed(); used != "" {
		a.logger.Debug(commandContext(cmd), "Using config file", "path", used)
	}

	a.recorder = metrics.NewPrometheusRecorder(nil)
	return nil
}

// report logs err once the command has returned. Before the
// configuration is loaded there is no configured logger yet, so a default
// one writing to stderr is used.
func (a *app) report(ctx context.Context, cmd *cobra.Command, err error) {
	logger := a.logger
	if logger == nil {
		lc := logging.DefaultConfig()
		lc.Output = cmd.ErrOrStderr()
		logger = logging.NewLogger(lc)
	}
	perrors.NewErrorHandler(logger).Handle(ctx, err)
}

// builder creates the task builder for the loaded configuration.
func (a *app) builder() (*tasks.Builder, error) {
	runner := pipeline.NewRunner(a.logger, pipeline.WithRecorder(a.recorder))
	return tasks.New(a.cfg, runner, a.logger)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
