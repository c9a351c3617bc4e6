// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/bychrisr/kaven-cli/internal/installer"
	"github.com/bychrisr/kaven-cli/internal/project"
)

type moduleAddOptions struct {
	license string
	dryRun  bool
	force   bool
}

// newModuleCommand creates the `kaven module` command tree.
func newModuleCommand(app *App) *cobra.Command {
	moduleCmd := &cobra.Command{
		Use:   "module",
		Short: "Install, remove and list modules",
		Long: `Install, remove and list the marketplace modules of the current project.

The project is the nearest directory, starting from the working directory,
that contains a kaven.toml file. Installed modules are recorded in
` + project.StateDirName + "/" + project.StateFileName + ` next to it.`,
	}

	var addOpts moduleAddOptions
	addCmd := &cobra.Command{
		Use:   "add <slug>",
		Short: "Install a module and its module dependencies",
		Long: `Install a module and the modules it depends on.

The install runs in stages: resolving, verifying, gating, fetching,
staging, applying and committed. Nothing is written to the project before
the staging stage has planned every change, and a failure while applying
restores every file that was touched.

Examples:
  kaven module add payments
  kaven module add payments --license KAVEN-ABCD-EFGH-IJKL
  kaven module add payments --dry-run`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModuleAdd(cmd.Context(), app, args[0], addOpts)
		},
	}
	addCmd.Flags().StringVar(&addOpts.license, "license", "", "license key to install with (overrides KAVEN_LICENSE_KEY)")
	addCmd.Flags().BoolVar(&addOpts.dryRun, "dry-run", false, "print the planned changes without writing anything")
	addCmd.Flags().BoolVar(&addOpts.force, "force", false, "reapply a module that is already installed")

	removeCmd := &cobra.Command{
		Use:   "remove <slug>",
		Short: "Uninstall a module",
		Long: `Uninstall a module: injected blocks are removed, patched text is
restored, copied files are deleted and the schema is regenerated.

A module other installed modules depend on cannot be removed.`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModuleRemove(cmd.Context(), app, args[0])
		},
	}

	var listJSON bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List installed modules",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runModuleList(cmd.Context(), app, listJSON)
		},
	}
	listCmd.Flags().BoolVar(&listJSON, "json", false, "print the installed module records as JSON")

	moduleCmd.AddCommand(addCmd, removeCmd, listCmd)
	return moduleCmd
}

func runModuleAdd(ctx context.Context, app *App, slug string, opts moduleAddOptions) error {
	if err := app.load(ctx); err != nil {
		return err
	}
	proj, err := app.project()
	if err != nil {
		return commandError("install module", slug, err)
	}
	client := app.apiClient()
	session, err := app.session(ctx, client, opts.license)
	if err != nil {
		return commandError("install module", slug, err)
	}
	mgr, err := app.installer(proj, client)
	if err != nil {
		return commandError("install module", slug, err)
	}

	res, err := mgr.Install(ctx, slug, installer.InstallOptions{
		Session: session,
		DryRun:  opts.dryRun,
		Force:   opts.force,
	})
	if err != nil {
		return commandError("install module", slug, err)
	}

	w := app.stdout
	switch {
	case res.AlreadyInstalled:
		fmt.Fprintf(w, "%s is already installed (use --force to reapply)\n", CmdStyle.Render(slug))
	case res.DryRun:
		renderPlan(w, res.Plan)
	default:
		for _, rec := range res.Installed {
			fmt.Fprintf(w, "%s Installed %s %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(rec.Slug), rec.Version)
		}
	}
	return nil
}

// renderPlan prints what a dry run would change.
func renderPlan(w io.Writer, plan *installer.Plan) {
	fmt.Fprintln(w, TitleStyle.Render("Dry run:")+SubtitleStyle.Render(" no files were changed"))
	for _, mp := range plan.Modules {
		fmt.Fprintf(w, "\n%s %s\n", CmdStyle.Render(mp.Slug), mp.Version)
		for _, f := range mp.Files {
			fmt.Fprintf(w, "  copy    %s\n", f)
		}
		for _, ip := range mp.Injections {
			if ip.Present {
				fmt.Fprintf(w, "  inject  %s [%s] %s\n", ip.File, ip.Key, SubtitleStyle.Render("(already present)"))
				continue
			}
			fmt.Fprintf(w, "  inject  %s [%s]\n", ip.File, ip.Key)
		}
		for _, frag := range mp.SchemaFragments {
			fmt.Fprintf(w, "  schema  %s\n", frag)
		}
	}
	if plan.Schema != "" {
		fmt.Fprintf(w, "\n%s %s\n", SubtitleStyle.Render("schema output:"), plan.Schema)
	}
}

func runModuleRemove(ctx context.Context, app *App, slug string) error {
	if err := app.load(ctx); err != nil {
		return err
	}
	proj, err := app.project()
	if err != nil {
		return commandError("remove module", slug, err)
	}
	rec, err := app.localInstaller(proj).Remove(ctx, slug)
	if err != nil {
		return commandError("remove module", slug, err)
	}
	fmt.Fprintf(app.stdout, "%s Removed %s %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(rec.Slug), rec.Version)
	return nil
}

func runModuleList(ctx context.Context, app *App, asJSON bool) error {
	if err := app.load(ctx); err != nil {
		return err
	}
	proj, err := app.project()
	if err != nil {
		return commandError("list modules", "", err)
	}
	records, err := app.localInstaller(proj).List()
	if err != nil {
		return commandError("list modules", proj.Root, err)
	}

	if asJSON {
		enc := json.NewEncoder(app.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	if len(records) == 0 {
		fmt.Fprintln(app.stdout, SubtitleStyle.Render("No modules installed."))
		return nil
	}
	fmt.Fprint(app.stdout, renderModuleTable(records))
	return nil
}

func renderModuleTable(records []*project.InstalledModuleRecord) string {
	rows := [][]string{{"MODULE", "VERSION", "DEPENDS ON", "INSTALLED"}}
	for _, rec := range records {
		deps := strings.Join(rec.DependsOn, ", ")
		if deps == "" {
			deps = "-"
		}
		rows = append(rows, []string{rec.Slug, rec.Version, deps, rec.InstalledAt.Local().Format("2006-01-02 15:04")})
	}

	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	var sb strings.Builder
	for r, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			style := tableCellStyle
			if r == 0 {
				style = tableHeaderStyle
			}
			cells[i] = style.Width(widths[i] + 2).Render(cell)
		}
		sb.WriteString(strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, cells...), " "))
		sb.WriteString("\n")
	}
	return sb.String()
}
