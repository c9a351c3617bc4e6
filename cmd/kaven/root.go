// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for kaven.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the kaven command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kaven",
		Short: "Install licensed modules into your project",
		Long: TitleStyle.Render("kaven") + SubtitleStyle.Render(" - Install licensed modules into your project") + `

kaven installs marketplace modules into an existing project: it verifies
the signed module package, checks that you are entitled to it, copies its
files, injects code at the anchors your project exposes, and merges the
module's schema into your Prisma schema. A failed install leaves the
project exactly as it was.

` + SubtitleStyle.Render("Examples:") + `
  kaven auth login --email you@example.com
  kaven module add payments          Install the 'payments' module
  kaven module add payments --dry-run
  kaven module list                  List installed modules
  kaven module remove payments       Undo an install
  kaven db generate                  Rebuild the merged schema`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&app.cfgFile, "config", "", "config file (default is $HOME/.config/kaven/config.cue)")
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	rootCmd.AddCommand(
		newModuleCommand(app),
		newAuthCommand(app),
		newDBCommand(app),
		newConfigCommand(app),
		newVersionCommand(app),
	)
	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI and exits with the code the outcome maps to.
// SIGINT and SIGTERM cancel the command context, which rolls back an
// install in progress.
func Execute() {
	app := NewApp(Dependencies{})
	err := fang.Execute(
		context.Background(),
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt, syscall.SIGTERM),
		fang.WithErrorHandler(func(w io.Writer, _ fang.Styles, err error) {
			renderError(w, err, app.verbose, app.stylePath())
		}),
	)
	os.Exit(exitCode(err))
}

// usageArgs turns argument validation failures into usage errors.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return usageError(err)
		}
		return nil
	}
}
