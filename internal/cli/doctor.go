package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/canonica-labs/dealquery/internal/app"
	"github.com/canonica-labs/dealquery/internal/errors"
	"github.com/canonica-labs/dealquery/internal/executor"
)

const doctorTimeout = 5 * time.Second

func (c *CLI) newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run system diagnostics",
		Long: `Run system diagnostics.

Checks:
  - configuration
  - schema artifact
  - documented examples compile
  - database connectivity
  - gateway readiness (when an endpoint is configured)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runDoctor(cmd.Context())
		},
	}
}

func (c *CLI) runDoctor(ctx context.Context) error {
	if !c.jsonOutput {
		c.println("dealquery System Diagnostics")
		c.println("============================")
		c.println("")
	}

	checks := []DiagnosticCheck{
		c.checkConfig(),
		c.checkSchema(),
		c.checkExamples(ctx),
		c.checkDatabase(ctx),
	}
	if c.remote() {
		checks = append(checks, c.checkGateway(ctx))
	}

	allPassed := true
	for _, check := range checks {
		if !check.Passed {
			allPassed = false
		}
		if !c.jsonOutput {
			c.printCheck(check)
		}
	}

	if c.jsonOutput {
		if err := c.outputJSON(map[string]interface{}{
			"checks":     checks,
			"all_passed": allPassed,
		}); err != nil {
			return err
		}
	} else {
		c.println("")
		if allPassed {
			c.println("✓ All checks passed")
		} else {
			c.println("✗ Some checks failed - see above for details")
		}
	}

	if !allPassed {
		return fmt.Errorf("diagnostics failed")
	}
	return nil
}

// DiagnosticCheck represents a single diagnostic check result.
type DiagnosticCheck struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (c *CLI) printCheck(check DiagnosticCheck) {
	status := "✗"
	if check.Passed {
		status = "✓"
	}
	c.printf("%s %s: %s\n", status, check.Name, check.Message)
	if check.Details != "" && !check.Passed {
		c.printf("  → %s\n", check.Details)
	}
}

func (c *CLI) checkConfig() DiagnosticCheck {
	check := DiagnosticCheck{Name: "Configuration"}
	if err := c.cfg.Validate(); err != nil {
		check.Message = "Invalid configuration"
		check.Details = err.Error()
		return check
	}
	check.Passed = true
	check.Message = fmt.Sprintf("driver %s, cache %s, audit %s", c.cfg.Database.Driver, c.cfg.Cache.Backend, c.cfg.Audit.Backend)
	return check
}

func (c *CLI) checkSchema() DiagnosticCheck {
	check := DiagnosticCheck{Name: "Schema"}
	reg, err := app.LoadRegistry(c.cfg)
	if err != nil {
		check.Message = "Schema artifact failed to load"
		check.Details = firstLine(err.Error())
		return check
	}
	source := "embedded"
	if c.cfg.Engine.SchemaPath != "" {
		source = c.cfg.Engine.SchemaPath
	}
	check.Passed = true
	check.Message = fmt.Sprintf("%d fields, %d roles (%s)", len(reg.Fields()), len(reg.Edges()), source)
	return check
}

func (c *CLI) checkExamples(ctx context.Context) DiagnosticCheck {
	check := DiagnosticCheck{Name: "Examples"}
	svc, db, err := c.localService(ctx, false)
	if err != nil {
		check.Message = "Cannot build the transaction service"
		check.Details = firstLine(err.Error())
		return check
	}
	defer db.Close()

	results := svc.CheckExamples()
	for _, r := range results {
		if !r.OK {
			check.Message = fmt.Sprintf("example %q does not compile", r.Name)
			check.Details = firstLine(r.Error)
			return check
		}
	}
	check.Passed = true
	check.Message = fmt.Sprintf("%d examples compile", len(results))
	return check
}

func (c *CLI) checkDatabase(ctx context.Context) DiagnosticCheck {
	check := DiagnosticCheck{Name: "Database"}
	db, err := executor.Connect(ctx, c.cfg.Executor())
	if err != nil {
		check.Message = "Cannot open database"
		check.Details = err.Error()
		return check
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, doctorTimeout)
	defer cancel()
	if err := db.Ping(ctx); err != nil {
		check.Message = fmt.Sprintf("%s unreachable", db.Name())
		check.Details = firstLine(err.Error())
		return check
	}
	check.Passed = true
	check.Message = fmt.Sprintf("%s reachable", db.Name())
	return check
}

func (c *CLI) checkGateway(ctx context.Context) DiagnosticCheck {
	check := DiagnosticCheck{Name: "Gateway"}
	ctx, cancel := context.WithTimeout(ctx, doctorTimeout)
	defer cancel()

	ready, err := c.newGatewayClient().GetReadiness(ctx)
	if err != nil {
		check.Message = "Cannot reach gateway"
		if qe, ok := errors.As(err); ok {
			check.Details = qe.Reason
		} else {
			check.Details = err.Error()
		}
		return check
	}
	if ready.Status != "ready" {
		check.Message = fmt.Sprintf("Gateway not ready at %s", c.cfg.Client.Endpoint)
		check.Details = fmt.Sprintf("%v", ready.Checks)
		return check
	}
	check.Passed = true
	check.Message = fmt.Sprintf("Ready at %s", c.cfg.Client.Endpoint)
	return check
}
