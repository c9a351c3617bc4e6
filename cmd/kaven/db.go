// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// newDBCommand creates the `kaven db` command tree.
func newDBCommand(app *App) *cobra.Command {
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the project schema",
	}
	dbCmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Rebuild the merged Prisma schema",
		Long: `Rebuild the merged Prisma schema from the base schema and the schema
fragments of every installed module, in install order.

The base and output paths come from the [schema] table of kaven.toml. The
output is left untouched when a fragment conflicts with the base schema.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDBGenerate(cmd.Context(), app)
		},
	})
	return dbCmd
}

func runDBGenerate(ctx context.Context, app *App) error {
	if err := app.load(ctx); err != nil {
		return err
	}
	proj, err := app.project()
	if err != nil {
		return commandError("generate schema", "", err)
	}
	res, err := app.localInstaller(proj).Generate(ctx)
	if err != nil {
		return commandError("generate schema", proj.Config.Schema.Output, err)
	}
	if !res.Changed {
		fmt.Fprintf(app.stdout, "%s is up to date\n", CmdStyle.Render(res.Output))
		return nil
	}
	fmt.Fprintf(app.stdout, "%s Wrote %s (%d module fragments)\n", SuccessStyle.Render("✓"), CmdStyle.Render(res.Output), res.Fragments)
	return nil
}
