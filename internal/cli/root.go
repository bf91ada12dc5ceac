// Package cli implements the memberd command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tutu-network/memberledger/internal/daemon"
	"github.com/tutu-network/memberledger/internal/infra/observability"
)

var (
	cfgFile  string
	dataDir  string
	logLevel string
	envFile  string
)

var rootCmd = &cobra.Command{
	Use:   "memberd",
	Short: "Membership ledger: certificates, reward credits and a fee reserve",
	Long: `memberd runs a membership registry backed by a local SQLite journal.

Members hold a non-fungible member card. Holding a card authorizes task
rewards in reward credits, and a fixed dual reward in reward and bonus
credits. Anyone may top up the fee reserve.

Commands other than "serve" open the journal directly. Stop the server
before running them against the same data directory.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.memberledger/config.toml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "journal directory (overrides storage.data_dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig resolves the effective configuration from the env file, the
// config file, the environment and the command line, in that order.
func loadConfig() (daemon.Config, error) {
	if err := daemon.LoadEnvFiles(envFile); err != nil {
		return daemon.Config{}, err
	}
	cfg, err := daemon.Load(cfgFile)
	if err != nil {
		return daemon.Config{}, err
	}
	if dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// newLogger builds the process logger. One-shot commands only log warnings
// unless --log-level asks for more.
func newLogger(cfg daemon.Config, oneShot bool) (*zap.Logger, error) {
	level := cfg.Log.Level
	if oneShot && logLevel == "" {
		level = "warn"
	}
	return observability.NewLogger(cfg.Log.Env, level)
}

// openLocal opens the journal in the configured data directory.
func openLocal(ctx context.Context, cfg daemon.Config) (*daemon.Daemon, error) {
	logger, err := newLogger(cfg, true)
	if err != nil {
		return nil, err
	}
	d, err := daemon.New(ctx, cfg, logger)
	if err != nil {
		if errors.Is(err, daemon.ErrNoOwner) {
			return nil, fmt.Errorf("%w\nRun: memberd init --owner <account>", err)
		}
		return nil, err
	}
	return d, nil
}

// withLocal runs fn against a freshly opened journal.
func withLocal(cmd *cobra.Command, fn func(ctx context.Context, d *daemon.Daemon) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	d, err := openLocal(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()
	return fn(ctx, d)
}
