package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/planboo/photoreview/internal/directus"
)

// NewWhoamiCmd creates the whoami command
func NewWhoamiCmd(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user and their access",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWhoami(cmd.Context(), g, cmd.OutOrStdout())
		},
	}
}

func runWhoami(ctx context.Context, g *Globals, out io.Writer) error {
	s, err := openSession(g)
	if err != nil {
		return err
	}

	state := s.machine.CheckAuth(ctx)
	if !state.IsAuthenticated {
		return errNotLoggedIn
	}

	fmt.Fprintf(out, "Email:  %s\n", state.User.Email)
	fmt.Fprintf(out, "ID:     %s\n", state.User.ID)
	fmt.Fprintf(out, "Role:   %s\n", roleLabel(state.User.Role))
	if state.IsAdmin {
		fmt.Fprintln(out, "Admin:  yes")
	} else {
		fmt.Fprintln(out, "Admin:  no")
	}
	fmt.Fprintf(out, "Server: %s\n", s.url)

	return nil
}

func roleLabel(role directus.RoleRef) string {
	switch r := role.(type) {
	case directus.IdentifiedRole:
		if r.Name != "" {
			return r.Name
		}
		return r.ID
	case directus.LegacyRole:
		return string(r)
	}
	return "none"
}
