// Package main is the entrypoint for the dealq CLI.
package main

import (
	"os"

	"github.com/canonica-labs/dealquery/internal/cli"
)

var (
	version = ""
	commit  = ""
	date    = ""
)

func main() {
	cli.SetVersionInfo(version, commit, date)
	os.Exit(cli.New().Execute())
}
