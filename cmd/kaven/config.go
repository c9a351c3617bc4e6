// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bychrisr/kaven-cli/internal/config"
)

// newConfigCommand creates the `kaven config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect kaven configuration",
		Long: `Inspect kaven configuration.

Configuration is read from config.cue in the user config directory:
  - Linux: ~/.config/kaven/config.cue
  - macOS: ~/Library/Application Support/kaven/config.cue
  - Windows: %APPDATA%\kaven\config.cue

KAVEN_* environment variables override the file, e.g. KAVEN_API_BASE_URL
or KAVEN_REGISTRY_DIR.`,
	}

	cfgCmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show the effective configuration as CUE",
			Args:  usageArgs(cobra.NoArgs),
			RunE: func(cmd *cobra.Command, _ []string) error {
				return showConfig(cmd.Context(), app)
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Show the configuration file path",
			Args:  usageArgs(cobra.NoArgs),
			RunE: func(_ *cobra.Command, _ []string) error {
				return showConfigPath(app)
			},
		},
	)
	return cfgCmd
}

func showConfig(ctx context.Context, app *App) error {
	if err := app.load(ctx); err != nil {
		return err
	}
	source := "defaults"
	if app.cfgPath != "" {
		source = app.cfgPath
	}
	fmt.Fprintln(app.stderr, SubtitleStyle.Render("# source: "+source))
	fmt.Fprint(app.stdout, config.GenerateCUE(app.cfg))
	return nil
}

func showConfigPath(app *App) error {
	if app.cfgFile != "" {
		fmt.Fprintln(app.stdout, app.cfgFile)
		return nil
	}
	dir, err := config.ConfigDir()
	if err != nil {
		return commandError("locate configuration", "", err)
	}
	fmt.Fprintln(app.stdout, filepath.Join(dir, config.ConfigFileName+"."+config.ConfigFileExt))
	return nil
}
