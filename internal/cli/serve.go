package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tutu-network/memberledger/internal/daemon"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "", "listen host (overrides api.host)")
	serveCmd.Flags().Int("port", 0, "listen port (overrides api.port)")
	serveCmd.Flags().String("owner", "", "owner account used when the journal is empty")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and supply snapshot scheduler",
	Long: `Run the HTTP API and the supply snapshot scheduler.

The API does not authenticate callers. The account, signer and owner named
in a request body are taken as given, so anyone who can reach the listener
can act as any member or as the registry owner. Bind it to loopback (the
default) or put it behind a proxy that only admits trusted callers.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if h, _ := cmd.Flags().GetString("host"); h != "" {
		cfg.API.Host = h
	}
	if p, _ := cmd.Flags().GetInt("port"); p != 0 {
		cfg.API.Port = p
	}
	if o, _ := cmd.Flags().GetString("owner"); o != "" {
		cfg.Registry.Owner = o
	}

	logger, err := newLogger(cfg, false)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := daemon.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	logger.Info("registry ready",
		zap.String("registry", d.Registry.Address().String()),
		zap.String("owner", d.Registry.Owner().String()),
		zap.String("data_dir", d.DB.Path()))
	return d.Run(ctx)
}
