package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/canonica-labs/dealquery/internal/errors"
	"github.com/canonica-labs/dealquery/internal/service"
	"github.com/canonica-labs/dealquery/pkg/models"
)

// withService runs fn against the gateway's catalogue when remote, or a
// locally opened service otherwise. client is nil in local mode.
func (c *CLI) withService(ctx context.Context, fn func(svc *service.TransactionService, client *GatewayClient) error) error {
	if c.remote() {
		return fn(nil, c.newGatewayClient())
	}
	svc, db, err := c.localService(ctx, false)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(svc, nil)
}

func (c *CLI) newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect the field registry",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "fields [field]",
		Short: "List queryable fields, or describe one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return c.runSchemaFields(cmd.Context(), name)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "roles",
		Short: "List join roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runSchemaRoles(cmd.Context())
		},
	})
	return cmd
}

func (c *CLI) runSchemaFields(ctx context.Context, name string) error {
	var fields []models.FieldInfo
	err := c.withService(ctx, func(svc *service.TransactionService, client *GatewayClient) error {
		var err error
		if client != nil {
			fields, err = client.Fields(ctx)
			return err
		}
		fields = svc.Fields()
		return nil
	})
	if err != nil {
		return err
	}

	if name != "" {
		f, ok := findField(fields, name)
		if !ok {
			return errors.NewUnknownField("", name)
		}
		fields = []models.FieldInfo{f}
	}

	if c.jsonOutput {
		return c.outputJSON(fields)
	}
	if name != "" {
		f := fields[0]
		c.printf("Name:      %s\n", f.Name)
		if len(f.Aliases) > 0 {
			c.printf("Aliases:   %s\n", strings.Join(f.Aliases, ", "))
		}
		c.printf("Role:      %s\n", f.Role)
		c.printf("Column:    %s.%s\n", f.Table, f.Column)
		c.printf("Type:      %s\n", f.Type)
		if f.Enum != "" {
			c.printf("Enum:      %s\n", f.Enum)
		}
		c.printf("Operators: %s\n", strings.Join(f.Operators, ", "))
		return nil
	}

	c.printf("%-32s %-20s %-10s %s\n", "FIELD", "ROLE", "TYPE", "OPERATORS")
	for _, f := range fields {
		c.printf("%-32s %-20s %-10s %s\n", f.Name, f.Role, f.Type, strings.Join(f.Operators, ","))
	}
	return nil
}

func findField(fields []models.FieldInfo, name string) (models.FieldInfo, bool) {
	for _, f := range fields {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
		for _, a := range f.Aliases {
			if strings.EqualFold(a, name) {
				return f, true
			}
		}
	}
	return models.FieldInfo{}, false
}

func (c *CLI) runSchemaRoles(ctx context.Context) error {
	var roles []models.RoleInfo
	err := c.withService(ctx, func(svc *service.TransactionService, client *GatewayClient) error {
		var err error
		if client != nil {
			roles, err = client.Roles(ctx)
			return err
		}
		roles = svc.Roles()
		return nil
	})
	if err != nil {
		return err
	}

	if c.jsonOutput {
		return c.outputJSON(roles)
	}
	c.printf("%-20s %-32s %-18s %s\n", "ROLE", "TABLE", "ALIAS", "PARENT")
	for _, r := range roles {
		parent := r.Parent
		if r.Fanout {
			parent += " (fan-out)"
		}
		c.printf("%-20s %-32s %-18s %s\n", r.Role, r.Table, r.Alias, parent)
	}
	return nil
}

func (c *CLI) newExamplesCmd() *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "examples",
		Short: "List documented requests",
		Long: `List documented requests. With --check every example is compiled against
the field registry and failures are reported.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if check {
				return c.runCheckExamples(cmd.Context())
			}
			return c.runExamples(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "compile every example")
	return cmd
}

func (c *CLI) runExamples(ctx context.Context) error {
	var examples []models.Example
	err := c.withService(ctx, func(svc *service.TransactionService, client *GatewayClient) error {
		var err error
		if client != nil {
			examples, err = client.Examples(ctx)
			return err
		}
		examples = svc.Examples()
		return nil
	})
	if err != nil {
		return err
	}

	if c.jsonOutput {
		return c.outputJSON(examples)
	}
	for _, ex := range examples {
		c.printf("%s\n  %s\n  %s\n\n", ex.Name, ex.Description, ex.URL)
	}
	return nil
}

func (c *CLI) runCheckExamples(ctx context.Context) error {
	var checks []models.ExampleCheck
	err := c.withService(ctx, func(svc *service.TransactionService, client *GatewayClient) error {
		var err error
		if client != nil {
			checks, err = client.CheckExamples(ctx)
			return err
		}
		checks = svc.CheckExamples()
		return nil
	})
	if err != nil {
		return err
	}

	failed := 0
	for _, ch := range checks {
		if !ch.OK {
			failed++
		}
	}

	if c.jsonOutput {
		if err := c.outputJSON(checks); err != nil {
			return err
		}
	} else {
		for _, ch := range checks {
			if ch.OK {
				c.printf("✓ %s (%s)\n", ch.Name, ch.Mode)
				continue
			}
			c.printf("✗ %s: %s\n", ch.Name, firstLine(ch.Error))
		}
	}

	if failed > 0 {
		return errors.NewValidation("", fmt.Sprintf("%d of %d examples failed to compile", failed, len(checks)))
	}
	return nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func (c *CLI) newReferenceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reference [enum]",
		Short: "List enum reference values",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return c.runReference(cmd.Context(), name)
		},
	}
}

func (c *CLI) runReference(ctx context.Context, name string) error {
	var ref map[string][]models.ReferenceValue
	err := c.withService(ctx, func(svc *service.TransactionService, client *GatewayClient) error {
		var err error
		if client != nil {
			ref, err = client.Reference(ctx)
			return err
		}
		ref = svc.Reference()
		return nil
	})
	if err != nil {
		return err
	}

	if name != "" {
		values, ok := ref[name]
		if !ok {
			return errors.NewValidation("", fmt.Sprintf("unknown enum %q", name))
		}
		ref = map[string][]models.ReferenceValue{name: values}
	}

	if c.jsonOutput {
		return c.outputJSON(ref)
	}
	names := make([]string, 0, len(ref))
	for n := range ref {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		c.printf("%s:\n", n)
		for _, v := range ref[n] {
			c.printf("  %6d  %s\n", v.ID, v.Name)
		}
	}
	return nil
}

func (c *CLI) newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the gateway's audit trail",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "summary",
		Short: "Show aggregate audit counts",
		Long:  `Show aggregate audit counts from a running gateway. Individual requests are never listed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runAuditSummary(cmd.Context())
		},
	})
	return cmd
}

func (c *CLI) runAuditSummary(ctx context.Context) error {
	summary, err := c.newGatewayClient().GetAuditSummary(ctx)
	if err != nil {
		return err
	}

	if c.jsonOutput {
		return c.outputJSON(summary)
	}
	c.printf("Accepted: %d\n", summary.AcceptedCount)
	c.printf("Rejected: %d\n", summary.RejectedCount)
	c.printf("Errors:   %d\n", summary.ErrorCount)
	if len(summary.TopRejectionKeys) > 0 {
		c.println("Top rejection keys:")
		for _, k := range summary.TopRejectionKeys {
			c.printf("  %-24s %d\n", k.Key, k.Count)
		}
	}
	return nil
}
