package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/yoanbernabeu/nbexec/internal/config"
	"github.com/yoanbernabeu/nbexec/internal/logging"
	"github.com/yoanbernabeu/nbexec/internal/metrics"
)

var (
	// Version is set at build time
	Version = "dev"
)

// globalOptions holds the persistent flags
type globalOptions struct {
	verbose     bool
	cfgFile     string
	logFormat   string
	logLevel    string
	metricsAddr string
	yes         bool // skip confirmations
}

// app is the state shared by every subcommand of one invocation
type app struct {
	opts globalOptions

	cfg       *config.GlobalConfig
	logger    *slog.Logger
	registry  *prometheus.Registry
	collector *metrics.Collector
	server    *metrics.Server

	out    io.Writer
	errOut io.Writer
}

var rootCmd = newRootCmd()

// Execute runs the root command and reports its error on stderr
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		printError(rootCmd.ErrOrStderr(), "%v", err)
	}
	return err
}

// GetRootCmd returns the root command, for documentation generation
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "nbexec",
		Short: "Run shell commands concurrently without blocking",
		Long: `nbexec runs shell commands as child processes driven by a single
event loop. Output is collected without blocking, and each command
yields exactly one result: exit code, merged stdout/stderr, timing.

Quick start:
  nbexec run -- "uptime" "df -h"        # Run commands concurrently
  nbexec host add web deploy@web.local  # Register a host
  nbexec ssh web "systemctl status app" # Run a command remotely

Commands:
  run           Run local commands concurrently
  ssh           Run a command on a remote host through ssh
  host          Manage named hosts
  keys          List discovered SSH private keys

Environment Variables:
  NBEXEC_CONFIG        Config file path
  NBEXEC_SSH_KEY_PATH  Default SSH private key`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.teardown()
		},
	}

	flags := root.PersistentFlags()
	flags.BoolVarP(&a.opts.verbose, "verbose", "v", false, "Show detailed logs")
	flags.StringVar(&a.opts.cfgFile, "config", "", "Config file (default: ~/.config/nbexec/config.yaml)")
	flags.StringVar(&a.opts.logFormat, "log-format", "", "Log format: text or json")
	flags.StringVar(&a.opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&a.opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")
	flags.BoolVarP(&a.opts.yes, "yes", "y", false, "Skip confirmations")

	root.SetVersionTemplate(`nbexec {{.Version}}
`)

	root.AddCommand(
		newRunCmd(a),
		newSSHCmd(a),
		newHostCmd(a),
		newKeysCmd(a),
	)

	return root
}

// setup loads the config and builds the logger and metrics for one invocation
func (a *app) setup(cmd *cobra.Command) error {
	a.out = cmd.OutOrStdout()
	a.errOut = cmd.ErrOrStderr()

	cfg, err := config.LoadGlobalConfig(a.opts.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	// Flags override the config file
	format := firstNonEmpty(a.opts.logFormat, cfg.Log.Format)
	level := firstNonEmpty(a.opts.logLevel, cfg.Log.Level)
	if _, err := logging.ParseLevel(level); err != nil {
		return err
	}
	a.logger = logging.New(a.errOut, format, level, a.opts.verbose)
	slog.SetDefault(a.logger)

	a.registry = prometheus.NewRegistry()
	a.collector = metrics.NewCollector(a.registry)

	addr := firstNonEmpty(a.opts.metricsAddr, cfg.MetricsAddr)
	if addr != "" {
		a.server = metrics.NewServer(addr, a.registry, a.logger)
		if err := a.server.Start(); err != nil {
			return err
		}
	}

	return nil
}

func (a *app) teardown() error {
	if a.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop metrics server: %w", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
