package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/planboo/photoreview/internal/photos"
)

// NewPhotosCmd creates the photos command group
func NewPhotosCmd(g *Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "photos",
		Short: "Review photos across the cooks, mixtures and fields collections",
	}

	cmd.AddCommand(newPhotosListCmd(g))
	cmd.AddCommand(newPhotosCommentCmd(g))

	return cmd
}

type listOptions struct {
	filters photos.PhotoFilters
	types   []string
	asJSON  bool
}

func newPhotosListCmd(g *Globals) *cobra.Command {
	var opts listOptions

	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List photos",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPhotosList(cmd.Context(), g, cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.filters.ProjectID, "project", "", "Only photos of this project")
	cmd.Flags().StringVar(&opts.filters.Company, "company", "", "Only photos of this company")
	cmd.Flags().StringSliceVar(&opts.types, "type", nil, "Photo types to include (cook, mixture, field)")
	cmd.Flags().StringSliceVar(&opts.filters.Name, "name", nil, "Names to include")
	cmd.Flags().StringVar(&opts.filters.DateFrom, "from", "", "Created on or after (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&opts.filters.DateTo, "to", "", "Created on or before (YYYY-MM-DD or RFC3339)")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print JSON instead of a table")

	return cmd
}

func runPhotosList(ctx context.Context, g *Globals, out io.Writer, opts listOptions) error {
	filters := opts.filters
	for _, t := range opts.types {
		filters.Type = append(filters.Type, photos.PhotoType(t))
	}
	if err := filters.Validate(); err != nil {
		return err
	}

	s, err := openSession(g)
	if err != nil {
		return err
	}
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}

	gallery, err := s.photos.FetchGallery(ctx, filters)
	if err != nil {
		return fmt.Errorf("failed to load photos: %w", err)
	}
	for i := range gallery {
		if gallery[i].FileURL != "" {
			gallery[i].FileURL = s.url + gallery[i].FileURL
		}
	}

	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(gallery)
	}

	if len(gallery) == 0 {
		fmt.Fprintln(out, "No photos found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ITEM\tTYPE\tNAME\tPROJECT\tCOMPANY\tCREATED")
	fmt.Fprintln(w, "────\t────\t────\t───────\t───────\t───────")

	for _, p := range gallery {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			p.Key(),
			p.Type,
			p.Name,
			p.ProjectID,
			p.Company,
			p.DateCreated,
		)
	}

	w.Flush()

	fmt.Fprintf(out, "\n%d photos\n", len(gallery))
	return nil
}

func newPhotosCommentCmd(g *Globals) *cobra.Command {
	var items []string
	var comment string

	cmd := &cobra.Command{
		Use:   "comment",
		Short: "Set one comment on several photos",
		Example: `  photoreview photos comment --item cooks:12 --item fields:3 --comment "Blurry, retake"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPhotosComment(cmd.Context(), g, cmd.OutOrStdout(), items, comment)
		},
	}

	cmd.Flags().StringArrayVar(&items, "item", nil, "Photo to comment on, as collection:id (repeatable)")
	cmd.Flags().StringVar(&comment, "comment", "", "Comment text")

	return cmd
}

func runPhotosComment(ctx context.Context, g *Globals, out io.Writer, items []string, comment string) error {
	if len(items) == 0 {
		return fmt.Errorf("at least one --item is required")
	}
	if comment == "" {
		return fmt.Errorf("--comment is required")
	}

	refs := make([]photos.ItemRef, 0, len(items))
	for _, item := range items {
		ref, err := photos.ParseItemRef(item)
		if err != nil {
			return err
		}
		refs = append(refs, ref)
	}

	s, err := openSession(g)
	if err != nil {
		return err
	}
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}

	for i := range refs {
		refs[i].CommentField = s.photos.CommentField(refs[i].Source)
	}

	if err := s.photos.BulkUpdateComments(ctx, refs, comment); err != nil {
		return fmt.Errorf("failed to apply comment: %w", err)
	}

	fmt.Fprintf(out, "✓ Comment applied to %d photos\n", len(refs))
	return nil
}
