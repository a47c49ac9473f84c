package cli

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/canonica-labs/dealquery/internal/app"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// VersionInfo describes this binary and, when known, the gateway it talks to.
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`

	// Schema summarizes the schema artifact this binary compiles against.
	Schema string `json:"schema,omitempty"`

	Server ServerVersion `json:"server"`
}

// ServerVersion is the gateway half of VersionInfo.
type ServerVersion struct {
	Version string `json:"version,omitempty"`
	Status  string `json:"status"`
}

func (c *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Display version information",
		Long:  `Display CLI version information, and the gateway's when an endpoint is configured.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := c.versionInfo(cmd.Context())
			if c.jsonOutput {
				return c.outputJSON(info)
			}
			c.printVersion(info)
			return nil
		},
	}
}

func (c *CLI) versionInfo(ctx context.Context) VersionInfo {
	info := VersionInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Server:    ServerVersion{Status: "not configured"},
	}
	if reg, err := app.LoadRegistry(c.cfg); err == nil {
		info.Schema = fmt.Sprintf("%d fields, %d roles", len(reg.Fields()), len(reg.Edges()))
	}

	if !c.remote() {
		return info
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	health, err := c.newGatewayClient().GetHealthInfo(ctx)
	if err != nil {
		c.debugf("health check failed: %v\n", err)
		info.Server.Status = "unavailable"
		return info
	}
	info.Server = ServerVersion{Version: health.Version, Status: health.Status}
	return info
}

func (c *CLI) printVersion(info VersionInfo) {
	c.printf("dealq %s\n", info.Version)
	c.printf("  Commit:   %s\n", info.GitCommit)
	c.printf("  Built:    %s\n", info.BuildDate)
	c.printf("  Go:       %s (%s)\n", info.GoVersion, info.Platform)
	if info.Schema != "" {
		c.printf("  Schema:   %s\n", info.Schema)
	}

	c.println("")
	c.println("Server:")
	if info.Server.Version != "" {
		c.printf("  Version: %s\n", info.Server.Version)
	}
	c.printf("  Status:  %s\n", info.Server.Status)
}

// SetVersionInfo sets the version information (called from main).
func SetVersionInfo(version, commit, date string) {
	for dst, v := range map[*string]string{&Version: version, &GitCommit: commit, &BuildDate: date} {
		if v != "" {
			*dst = v
		}
	}
}

// GetVersionString returns a formatted version string.
func GetVersionString() string {
	return fmt.Sprintf("dealq version %s (commit: %s, built: %s)", Version, GitCommit, BuildDate)
}
