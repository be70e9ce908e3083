// Package cli provides the command-line interface for ntr-runner.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/ntr-runner/pkg/config"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Enable verbose logging",
		EnvVars: []string{"NTR_VERBOSE"},
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "ntr-runner",
		Usage:   "Scripted UI runs against an Appium-controlled Android terminal",
		Version: Version,
		Description: `ntr-runner opens an Appium session, runs a fixed plan of UI steps
against the app and reports the outcome of every step.

Examples:
  ntr-runner run
  ntr-runner run --plan signup.yaml --device CAA25040001
  ntr-runner run --start-server -e PHONE=4066720123
  ntr-runner --no-ansi run --driver mock
  ntr-runner validate signup.yaml`,
		Flags: GlobalFlags,
		Before: func(c *cli.Context) error {
			if c.Bool("no-ansi") {
				colorsEnabled = false
			}
			return nil
		},
		Commands: []*cli.Command{
			runCommand,
			validateCommand,
		},
	}
}

// Execute runs the CLI.
func Execute() {
	// .env in the working directory feeds flag EnvVars
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
