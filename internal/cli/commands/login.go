package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/planboo/photoreview/internal/cli/userconfig"
)

// NewLoginCmd creates the login command
func NewLoginCmd(g *Globals) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with a Directus backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd.Context(), g, cmd.OutOrStdout(), email, password)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (or set PHOTOREVIEW_EMAIL)")
	cmd.Flags().StringVar(&password, "password", "", "Password (or set PHOTOREVIEW_PASSWORD, will prompt if not provided)")

	return cmd
}

func runLogin(ctx context.Context, g *Globals, out io.Writer, email, password string) error {
	// Check for environment variables (useful for CI/CD)
	if email == "" {
		email = os.Getenv("PHOTOREVIEW_EMAIL")
	}
	if password == "" {
		password = os.Getenv("PHOTOREVIEW_PASSWORD")
	}

	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("email is required (use --email flag or PHOTOREVIEW_EMAIL env var)")
	}

	s, err := openSession(g)
	if err != nil {
		return err
	}

	// Prompt for password if not provided via flag or env var
	if password == "" {
		// Check if stdin is a terminal (not piped)
		if !term.IsTerminal(int(syscall.Stdin)) {
			return fmt.Errorf("password is required in non-interactive mode (use --password flag or PHOTOREVIEW_PASSWORD env var)")
		}
		fmt.Fprint(out, "Password: ")
		bytePassword, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = string(bytePassword)
		fmt.Fprintln(out) // New line after password input
	}

	fmt.Fprintf(out, "Logging in to %s...\n", s.url)

	if err := s.machine.Login(ctx, email, password); err != nil {
		return errors.New(s.machine.Snapshot().Error)
	}
	state := s.machine.Snapshot()

	if err := userconfig.SetLastLogin(s.url, email); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to remember login")
	}

	fmt.Fprintln(out, "✓ Login successful!")
	fmt.Fprintf(out, "  User: %s\n", state.User.Email)
	if state.IsAdmin {
		fmt.Fprintln(out, "  Access: Admin")
	} else {
		fmt.Fprintln(out, "  Access: Limited (photo review requires admin access)")
	}

	return nil
}
