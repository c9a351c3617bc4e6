// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

type loginOptions struct {
	email         string
	passwordStdin bool
}

// newAuthCommand creates the `kaven auth` command tree.
func newAuthCommand(app *App) *cobra.Command {
	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage marketplace credentials",
		Long: `Manage marketplace credentials.

Tokens are kept in the operating system's secret store. When it is not
available they are written to an encrypted file readable only by you.
CI pipelines can set KAVEN_ACCESS_TOKEN or KAVEN_LICENSE_KEY instead of
logging in.`,
	}

	var opts loginOptions
	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the marketplace",
		Long: `Log in to the marketplace and store the issued tokens.

Examples:
  kaven auth login --email you@example.com
  echo "$PASSWORD" | kaven auth login --email you@example.com --password-stdin`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogin(cmd.Context(), app, opts)
		},
	}
	loginCmd.Flags().StringVar(&opts.email, "email", "", "account email")
	loginCmd.Flags().BoolVar(&opts.passwordStdin, "password-stdin", false, "read the password from stdin without prompting")

	authCmd.AddCommand(
		loginCmd,
		&cobra.Command{
			Use:   "logout",
			Short: "Remove stored credentials",
			Args:  usageArgs(cobra.NoArgs),
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runLogout(cmd.Context(), app)
			},
		},
		&cobra.Command{
			Use:   "whoami",
			Short: "Show the logged-in account",
			Args:  usageArgs(cobra.NoArgs),
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runWhoami(cmd.Context(), app)
			},
		},
	)
	return authCmd
}

func runLogin(ctx context.Context, app *App, opts loginOptions) error {
	email := strings.TrimSpace(opts.email)
	if email == "" {
		return usageError(errors.New("--email is required"))
	}
	if err := app.load(ctx); err != nil {
		return err
	}
	if !opts.passwordStdin {
		fmt.Fprint(app.stderr, "Password: ")
	}
	password, err := readPassword(app.stdin)
	if err != nil {
		return commandError("log in", email, err)
	}

	mgr, err := app.authManager(app.apiClient())
	if err != nil {
		return commandError("log in", email, err)
	}
	user, err := mgr.Login(ctx, email, password)
	if err != nil {
		return commandError("log in", email, err)
	}
	fmt.Fprintf(app.stdout, "%s Logged in as %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(user.Email))
	return nil
}

// readPassword reads the first line of r.
func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("empty password")
	}
	return password, nil
}

func runLogout(ctx context.Context, app *App) error {
	if err := app.load(ctx); err != nil {
		return err
	}
	mgr, err := app.authManager(app.apiClient())
	if err != nil {
		return commandError("log out", "", err)
	}
	if err := mgr.Logout(); err != nil {
		return commandError("log out", "", err)
	}
	fmt.Fprintln(app.stdout, "Logged out.")
	return nil
}

func runWhoami(ctx context.Context, app *App) error {
	if err := app.load(ctx); err != nil {
		return err
	}
	mgr, err := app.authManager(app.apiClient())
	if err != nil {
		return commandError("read credentials", "", err)
	}
	user, err := mgr.Whoami()
	if err != nil {
		return commandError("read credentials", "", err)
	}
	if user.ID != "" {
		fmt.Fprintf(app.stdout, "%s %s\n", user.Email, SubtitleStyle.Render("("+user.ID+")"))
		return nil
	}
	fmt.Fprintln(app.stdout, user.Email)
	return nil
}
