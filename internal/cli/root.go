// Package cli implements the crypto-risk command line: analyze, optimize,
// visualize, serve and history.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"crypto-risk/internal/config"
	"crypto-risk/internal/cryptocompare"
	"crypto-risk/internal/logger"
)

// app is the state shared by every subcommand once flags are parsed.
type app struct {
	version    string
	configPath string
	quiet      bool
	verbose    bool
	logLevel   string

	cfg *config.Config
	out io.Writer

	// newSource builds the remote price API client.
	newSource func(cfg *config.Config) cryptocompare.Source
}

func defaultSource(cfg *config.Config) cryptocompare.Source {
	return cryptocompare.NewClient(cryptocompare.Config{
		BaseURL:        cfg.API.BaseURL,
		APIKey:         cfg.API.Key,
		Timeout:        cfg.API.Timeout,
		RetryAttempts:  cfg.API.RetryAttempts,
		RetryDelay:     cfg.API.RetryDelay,
		RequestsPerSec: cfg.API.RequestsPerSec,
	})
}

// NewRootCmd creates the root command with every subcommand attached.
func NewRootCmd(version string) *cobra.Command {
	a := &app{version: version, out: os.Stdout, newSource: defaultSource}

	root := &cobra.Command{
		Use:   "crypto-risk",
		Short: "Crypto portfolio risk metrics and mean-variance optimization",
		Long: `crypto-risk loads a portfolio of crypto holdings, fetches daily closes from
CryptoCompare (cached in SQLite) and reports volatility, Sharpe ratio,
historical VaR, correlations and optimal mean-variance allocations.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "config.yml", "Configuration file path")
	pf.BoolVarP(&a.quiet, "quiet", "q", false, "Only log warnings and errors")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
	pf.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides config)")
	root.MarkFlagsMutuallyExclusive("quiet", "verbose")

	root.AddCommand(
		newAnalyzeCmd(a),
		newOptimizeCmd(a),
		newVisualizeCmd(a),
		newServeCmd(a),
		newHistoryCmd(a),
		newVersionCmd(a),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute(version string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd(version).ExecuteContext(ctx); err != nil {
		logger.Error("CLI", err.Error())
		return 1
	}
	return 0
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, found, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	switch {
	case a.quiet:
		cfg.Logging.Level = "warn"
	case a.verbose:
		cfg.Logging.Level = "debug"
	case a.logLevel != "":
		cfg.Logging.Level = a.logLevel
	}
	logger.Init(cfg.Logging)
	if !found {
		logger.Warn("Config", fmt.Sprintf("%s not found, using defaults", a.configPath))
	}
	a.cfg = cfg
	a.out = cmd.OutOrStdout()
	return nil
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.out, "crypto-risk %s\n", a.version)
		},
	}
}
