// Package cli provides the command-line interface for dealquery.
// Commands compile and run transaction queries locally, or talk to a
// running gateway when an endpoint is configured.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/canonica-labs/dealquery/internal/app"
	"github.com/canonica-labs/dealquery/internal/config"
	"github.com/canonica-labs/dealquery/internal/errors"
	"github.com/canonica-labs/dealquery/internal/executor"
	"github.com/canonica-labs/dealquery/internal/observability"
	"github.com/canonica-labs/dealquery/internal/query"
	"github.com/canonica-labs/dealquery/internal/service"
)

// Exit codes
const (
	ExitSuccess    = 0
	ExitValidation = 1
	ExitAuth       = 2
	ExitEngine     = 3
	ExitInternal   = 4
)

// CLI holds the command-line interface state.
type CLI struct {
	rootCmd *cobra.Command
	cfg     *config.Config

	out    io.Writer
	errOut io.Writer

	// Global flags
	configPath string
	endpoint   string
	token      string
	jsonOutput bool
	quiet      bool
	debug      bool
}

// New creates a new CLI instance.
func New() *CLI {
	cli := &CLI{out: os.Stdout, errOut: os.Stderr}
	cli.rootCmd = cli.newRootCmd()
	return cli
}

// SetOutput redirects command output and error messages.
func (c *CLI) SetOutput(out, errOut io.Writer) {
	c.out = out
	c.errOut = errOut
}

// SetArgs overrides os.Args for the next Execute.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// Execute runs the CLI and returns the process exit code.
func (c *CLI) Execute() int {
	c.rootCmd.SetOut(c.out)
	c.rootCmd.SetErr(c.errOut)
	if err := c.rootCmd.Execute(); err != nil {
		c.errorf("Error: %v\n", err)
		return ExitCode(err)
	}
	return ExitSuccess
}

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	switch errors.CodeOf(err) {
	case errors.CodeValidation, errors.CodeNotFound:
		return ExitValidation
	case errors.CodeAuth, errors.CodeForbidden:
		return ExitAuth
	case errors.CodeEngine, errors.CodeTimeout, errors.CodeRateLimit:
		return ExitEngine
	default:
		return ExitInternal
	}
}

func (c *CLI) newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dealq",
		Short: "dealq - transaction query translation engine",
		Long: `dealq translates flat URL query parameters into parameterized SQL over
the transactions schema and serves the flexible transactions endpoint.

Query arguments are raw query strings, for example:
  dealq compile 'type=Buyback&country=UK&count_only=true'
  dealq query --demo 'select=transactionId,year&year>=2020&page_size=5'

Without --endpoint, commands compile and run against the configured
database. With --endpoint, commands call a running gateway.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.initConfig()
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default: ~/.dealq/dealq.yaml)")
	cmd.PersistentFlags().StringVar(&c.endpoint, "endpoint", "", "gateway endpoint, e.g. http://localhost:8080")
	cmd.PersistentFlags().StringVar(&c.token, "token", "", "API token (overrides config)")
	cmd.PersistentFlags().BoolVar(&c.jsonOutput, "json", false, "machine-readable JSON output")
	cmd.PersistentFlags().BoolVar(&c.quiet, "quiet", false, "suppress non-essential output")
	cmd.PersistentFlags().BoolVar(&c.debug, "debug", false, "verbose debug logs")

	cmd.AddCommand(c.newServeCmd())
	cmd.AddCommand(c.newCompileCmd())
	cmd.AddCommand(c.newExplainCmd())
	cmd.AddCommand(c.newQueryCmd())
	cmd.AddCommand(c.newSchemaCmd())
	cmd.AddCommand(c.newExamplesCmd())
	cmd.AddCommand(c.newReferenceCmd())
	cmd.AddCommand(c.newAuditCmd())
	cmd.AddCommand(c.newDoctorCmd())
	cmd.AddCommand(c.newVersionCmd())

	return cmd
}

func (c *CLI) initConfig() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	c.cfg = cfg

	// Override with flags
	if c.endpoint != "" {
		c.cfg.Client.Endpoint = c.endpoint
	}
	if c.token != "" {
		c.cfg.Client.Token = c.token
	}
	c.cfg.Client.Endpoint = strings.TrimRight(c.cfg.Client.Endpoint, "/")

	return nil
}

// remote reports whether commands should call a gateway.
func (c *CLI) remote() bool {
	return c.cfg != nil && c.cfg.Client.Endpoint != ""
}

// logger writes process logs to stderr; local commands only surface
// warnings unless --debug is set.
func (c *CLI) logger(level string) *slog.Logger {
	if c.debug {
		level = "debug"
	}
	return observability.NewLogger(c.errOut, level, "text")
}

// localService opens the configured data store and wraps it in a
// transaction service. The caller must close the returned adapter.
func (c *CLI) localService(ctx context.Context, demo bool) (*service.TransactionService, executor.Adapter, error) {
	reg, err := app.LoadRegistry(c.cfg)
	if err != nil {
		return nil, nil, err
	}
	comp, err := app.NewCompiler(c.cfg, reg)
	if err != nil {
		return nil, nil, err
	}
	db, err := executor.Connect(ctx, c.cfg.Executor())
	if err != nil {
		return nil, nil, err
	}
	if demo || c.cfg.Database.Demo {
		if err := app.SeedDemo(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
	}
	_, authz := app.Authentication(c.cfg.Auth)
	svc, err := service.New(comp, db, service.Options{
		Logger:     c.logger("warn"),
		Authorizer: authz,
	})
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return svc, db, nil
}

// parseQueryArg accepts a raw query string, optionally with a leading "?"
// or a full URL.
func parseQueryArg(arg string) (query.Params, error) {
	if _, raw, ok := strings.Cut(arg, "?"); ok {
		arg = raw
	}
	return query.ParseRawQuery(arg)
}

// Helper functions for output

func (c *CLI) printf(format string, args ...interface{}) {
	if !c.quiet {
		fmt.Fprintf(c.out, format, args...)
	}
}

func (c *CLI) println(args ...interface{}) {
	if !c.quiet {
		fmt.Fprintln(c.out, args...)
	}
}

func (c *CLI) errorf(format string, args ...interface{}) {
	fmt.Fprintf(c.errOut, format, args...)
}

func (c *CLI) debugf(format string, args ...interface{}) {
	if c.debug {
		fmt.Fprintf(c.errOut, "[DEBUG] "+format, args...)
	}
}

func (c *CLI) outputJSON(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newGatewayClient creates a new gateway client with current config.
func (c *CLI) newGatewayClient() *GatewayClient {
	client := NewGatewayClient(c.cfg.Client.Endpoint, c.cfg.Client.Token)
	if c.cfg.Client.Timeout > 0 {
		client.httpClient.Timeout = c.cfg.Client.Timeout
	}
	return client
}
