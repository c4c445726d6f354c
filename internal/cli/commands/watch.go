package commands

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/planboo/photoreview/internal/cli/collectionselect"
	"github.com/planboo/photoreview/internal/realtime"
)

type watchOptions struct {
	collection string
	count      int
	// interactive allows the collection prompt when no collection is named.
	interactive bool
}

// NewWatchCmd creates the watch command
func NewWatchCmd(g *Globals) *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch [collection]",
		Short: "Stream photo changes as they happen",
		Long: `Stream create, update and delete events of the photo collections.

Without a collection argument you are asked which collection to watch when
running in a terminal; otherwise every photo collection is watched.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.collection = args[0]
			}
			opts.interactive = term.IsTerminal(int(syscall.Stdin))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runWatch(ctx, g, cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().IntVar(&opts.count, "count", 0, "Exit after this many events (0 means run until interrupted)")

	return cmd
}

func runWatch(ctx context.Context, g *Globals, out io.Writer, opts watchOptions) error {
	sources, err := collectionselect.ResolveCollections(opts.collection, opts.interactive)
	if err != nil {
		return err
	}

	s, err := openSession(g)
	if err != nil {
		return err
	}
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}

	link, err := realtime.New(s.url, s.client, realtime.Options{Logger: s.logger})
	if err != nil {
		return err
	}
	if err := link.Connect(ctx); err != nil {
		return fmt.Errorf("failed to open realtime connection: %w", err)
	}
	defer link.Disconnect(context.Background())

	var subs []*realtime.Subscription
	names := make([]string, 0, len(sources))
	for _, source := range sources {
		collectionSubs, err := link.SubscribeAll(ctx, string(source), &realtime.Query{Fields: []string{"id"}})
		if err != nil {
			return err
		}
		subs = append(subs, collectionSubs...)
		names = append(names, string(source))
	}

	fmt.Fprintf(out, "Watching %s on %s (Ctrl+C to stop)...\n", strings.Join(names, ", "), s.url)

	events := realtime.Merge(subs...)
	seen := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("realtime connection lost")
			}
			fmt.Fprintf(out, "%s  %-9s %-7s %s\n",
				time.Now().Format(time.TimeOnly),
				ev.Collection,
				ev.Event,
				strings.Join(ev.IDs(), ", "),
			)
			seen++
			if opts.count > 0 && seen >= opts.count {
				return nil
			}
		}
	}
}
