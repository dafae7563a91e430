// Package cli contains the scour command tree.
package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/FranksOps/scour/internal/config"
	"github.com/FranksOps/scour/internal/logger"
)

var version = "dev"

// SetVersion sets the version string reported by `scour version`.
func SetVersion(v string) {
	version = v
}

// app holds state shared by every subcommand once the root pre-run has
// loaded configuration.
type app struct {
	cfgFile     string
	logLevel    string
	logFormat   string
	metricsPort int

	cfg    *config.Config
	logger *slog.Logger
}

// Execute builds the command tree and runs it against os.Args.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "scour",
		Short: "Search result scraper",
		Long: `scour fetches image and web search result pages and extracts
structured results from them.

Example usage:
  scour images red panda            # Image result URLs from Google
  scour images --save-dir out cats  # Download and decode the images too
  scour web golang generics         # Organic results from Bing
  scour serve                       # JSON API on :8080
  scour history --kind web          # Recorded queries
  scour report --format html        # Summary of recorded queries`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is ./scour.yaml)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&a.logFormat, "log-format", "", "log format: text or json")
	flags.IntVar(&a.metricsPort, "metrics-port", 0, "serve Prometheus metrics on this port (0 disables)")

	root.AddCommand(
		newImagesCmd(a),
		newWebCmd(a),
		newShellCmd(a),
		newServeCmd(a),
		newHistoryCmd(a),
		newReportCmd(a),
		newVersionCmd(),
	)
	return root
}

// setup loads configuration, applies flag overrides and installs the logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = a.logFormat
	}
	if flags.Changed("metrics-port") {
		cfg.Metrics.Port = a.metricsPort
	}

	l, err := logger.Setup(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = l

	l.Debug("configuration loaded",
		"fingerprint", cfg.HTTP.Fingerprint,
		"storage", cfg.Storage.Driver,
		"charset", cfg.Engines.Charset,
	)
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "scour", version)
			return err
		},
	}
}

// joinQuery rebuilds a query from positional args. Whitespace is stripped
// later, so this only matters for what gets logged.
func joinQuery(args []string) string {
	return strings.Join(args, " ")
}
