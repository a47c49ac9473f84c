package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/canonica-labs/dealquery/internal/app"
	"github.com/canonica-labs/dealquery/internal/observability"
)

func (c *CLI) newServeCmd() *cobra.Command {
	var (
		addr string
		demo bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the transactions gateway",
		Long: `Run the HTTP gateway serving /api/v1/transactions.

Startup fails if the configured database is unreachable. SIGINT or SIGTERM
shuts the server down gracefully.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				c.cfg.Server.Addr = addr
			}
			if demo {
				c.cfg.Database.Demo = true
			}
			return c.runServe(cmd)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&demo, "demo", false, "seed the demo data set (in-memory databases only)")
	return cmd
}

func (c *CLI) runServe(cmd *cobra.Command) error {
	level := c.cfg.Logging.Level
	if c.debug {
		level = "debug"
	}
	log := observability.NewLogger(c.errOut, level, c.cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, c.cfg, log, app.Options{Version: Version})
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Run(ctx)
}
