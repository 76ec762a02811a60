// Package main provides the duckprof command line and Flight server.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/TFMV/duckprof/cmd/duckprof/config"
	"github.com/TFMV/duckprof/pkg/infrastructure/metrics"
	"github.com/TFMV/duckprof/pkg/report"
)

var (
	// Version information (set by build flags)
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// app carries state shared by the commands of one invocation.
type app struct {
	v          *viper.Viper
	configFile string
	format     string

	cfg       *config.Config
	logger    zerolog.Logger
	logCloser io.Closer
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree on a fresh viper instance.
func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "duckprof",
		Short: "DuckDB query performance analyzer",
		Long: `duckprof runs SQL against DuckDB, profiles it, classifies the dominant
operator and records findings and remediation templates in an analysis log.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.logCloser != nil {
				return a.logCloser.Close()
			}
			return nil
		},
	}

	d := config.DefaultConfig()
	flags := root.PersistentFlags()
	flags.StringVarP(&a.configFile, "config", "c", "", "config file path")
	flags.StringVarP(&a.format, "format", "f", report.FormatTable, "output format (table, json, arrow)")
	flags.String("database", d.TargetDatabase, "target DuckDB database path")
	flags.String("log-database", "", "analysis log database path (defaults to the target database)")
	flags.String("artifacts-dir", d.ArtifactsDir, "directory for rendered charts")
	flags.String("log-level", d.LogLevel, "log level (debug, info, warn, error)")
	flags.Duration("query-timeout", d.QueryTimeout, "per-analysis timeout, 0 for none")
	flags.String("server", "", "run analyze, list, show and summarize against a duckprof server")
	flags.String("token", "", "bearer token for --server")

	bindFlags(a.v, flags, map[string]string{
		"target_database": "database",
		"log_database":    "log-database",
		"artifacts_dir":   "artifacts-dir",
		"log_level":       "log-level",
		"query_timeout":   "query-timeout",
		"remote.address":  "server",
		"remote.token":    "token",
	})

	root.AddCommand(
		newServeCmd(a),
		newAnalyzeCmd(a),
		newListCmd(a),
		newShowCmd(a),
		newSummarizeCmd(a),
		newWorkloadCmd(a),
		newResetCmd(a),
		newTokenCmd(a),
		newVersionCmd(),
	)
	return root
}

// bindFlags binds config keys to flags.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Errorf("failed to bind flag %s: %w", name, err))
		}
	}
}

// setup loads the configuration and the logger, which writes to the
// command's stderr.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.v, a.configFile)
	if err != nil {
		return err
	}
	if _, err := report.ParseFormat(a.format); err != nil {
		return err
	}

	a.cfg = cfg
	a.logger, a.logCloser = setupLogging(cfg.LogLevel, cfg.LogFile, cmd.ErrOrStderr())
	return nil
}

// open loads the configuration and builds a local engine.
func (a *app) open(ctx context.Context, cmd *cobra.Command) (*engine, error) {
	if err := a.setup(cmd); err != nil {
		return nil, err
	}
	return a.openEngine(ctx)
}

// openEngine builds an engine without metrics export.
func (a *app) openEngine(ctx context.Context) (*engine, error) {
	return newEngine(ctx, a.cfg, a.logger, metrics.NewNoOpCollector())
}

// writer returns the report writer for the selected format.
func (a *app) writer(cmd *cobra.Command) (*report.Writer, error) {
	return report.NewWriter(a.format, cmd.OutOrStdout(), a.logger)
}

// signalContext cancels on interrupt so a running analysis is logged as cancelled.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "duckprof\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", commit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
