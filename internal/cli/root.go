package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/planboo/photoreview/internal/cli/commands"
)

var version = "dev" // Will be set during build

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	globals := &commands.Globals{}

	rootCmd := &cobra.Command{
		Use:   "photoreview",
		Short: "Photo Review - review and comment on project photos",
		Long: `Photo Review CLI - Sign in to a Directus backend and review photos.

Photos of the cooks, mixtures and fields collections are listed together,
commented on in bulk, and watched for changes as they happen. Photo review
requires an admin account.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&globals.DirectusURL, "url", "", "Directus URL (or set DIRECTUS_URL, defaults to the last login)")
	rootCmd.PersistentFlags().BoolVarP(&globals.Verbose, "verbose", "v", false, "Print debug logs")

	// Add version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "photoreview version %s\n", version)
		},
	})

	// Add all subcommands
	rootCmd.AddCommand(commands.NewLoginCmd(globals))
	rootCmd.AddCommand(commands.NewLogoutCmd(globals))
	rootCmd.AddCommand(commands.NewWhoamiCmd(globals))
	rootCmd.AddCommand(commands.NewPhotosCmd(globals))
	rootCmd.AddCommand(commands.NewWatchCmd(globals))

	return rootCmd
}

// Execute runs the root command
func Execute() error {
	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
