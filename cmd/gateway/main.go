// Package main is the entrypoint for the dealquery gateway server.
// The gateway serves the flexible transactions endpoint: it authenticates
// requests, compiles query parameters into parameterized SQL and runs them
// against the configured data store.
//
// Startup fails if the data store is unavailable.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/canonica-labs/dealquery/internal/app"
	"github.com/canonica-labs/dealquery/internal/config"
	"github.com/canonica-labs/dealquery/internal/observability"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Parse command line flags
	var (
		configPath = flag.String("config", "", "config file (default: ./dealq.yaml or ~/.dealq/dealq.yaml)")
		addr       = flag.String("addr", "", "HTTP listen address (overrides server.addr)")
		demo       = flag.Bool("demo", false, "seed the demo data set (in-memory databases only)")
		showHelp   = flag.Bool("help", false, "Show help message")
		showVer    = flag.Bool("version", false, "Show version")
	)
	flag.Parse()

	if *showHelp {
		flag.Usage()
		return nil
	}

	if *showVer {
		fmt.Printf("dealquery-gateway %s (commit: %s, built: %s)\n", version, commit, date)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *demo {
		cfg.Database.Demo = true
	}

	log := observability.NewLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	log.Info("starting dealquery gateway", "version", version, "commit", commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log, app.Options{Version: version})
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}
	defer a.Close()

	return a.Run(ctx)
}
