package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewLogoutCmd creates the logout command
func NewLogoutCmd(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget the stored tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogout(cmd.Context(), g, cmd.OutOrStdout())
		},
	}
}

func runLogout(ctx context.Context, g *Globals, out io.Writer) error {
	s, err := openSession(g)
	if err != nil {
		return err
	}

	if !s.client.IsAuthenticated() {
		fmt.Fprintf(out, "Not logged in to %s.\n", s.url)
		return nil
	}

	// Tokens are cleared even when the backend does not answer
	s.machine.Logout(ctx)

	fmt.Fprintf(out, "✓ Logged out of %s\n", s.url)
	return nil
}
