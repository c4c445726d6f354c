package photos

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/planboo/photoreview/internal/directus"
)

// PageSize caps how many records are read per collection.
const PageSize = 50

const fallbackCommentField = "comment"

// Backend is the slice of the Directus client the service needs.
type Backend interface {
	ReadItems(ctx context.Context, collection string, q directus.Query) ([]directus.Item, error)
	ReadFiles(ctx context.Context, q directus.Query) ([]directus.Item, error)
	UpdateItems(ctx context.Context, collection string, ids []string, data map[string]any) error
	AssetURL(fileID string) string
}

// Service aggregates photo records of the three collections.
type Service struct {
	backend Backend
	fields  FieldMaps
}

func NewService(backend Backend, fields FieldMaps) *Service {
	if fields == nil {
		fields = DefaultFieldMaps()
	}
	return &Service{backend: backend, fields: fields}
}

// BuildFilter returns the backend filter for one collection.
func (s *Service) BuildFilter(source Source, f PhotoFilters) directus.Filter {
	return BuildFilter(s.fields[source], f)
}

// CommentField is the field comments are written to for a collection.
func (s *Service) CommentField(source Source) string {
	return s.fields[source].Comment
}

// FetchPhotos reads every collection in parallel and concatenates the
// results in collection order, each newest first. Any failed collection
// fails the whole fetch.
func (s *Service) FetchPhotos(ctx context.Context, f PhotoFilters) ([]NormalizedPhoto, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	results := make([][]NormalizedPhoto, len(Sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, source := range Sources {
		g.Go(func() error {
			fm := s.fields[source]
			rows, err := s.backend.ReadItems(gctx, string(source), directus.Query{
				Filter: BuildFilter(fm, f),
				Fields: fm.readFields(),
				Limit:  PageSize,
				Sort:   []string{"-" + fm.DateCreated},
			})
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", source, err)
			}
			results[i] = normalize(source, fm, rows)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var photos []NormalizedPhoto
	for _, r := range results {
		photos = append(photos, r...)
	}
	return photos, nil
}

func normalize(source Source, fm FieldMap, rows []directus.Item) []NormalizedPhoto {
	photos := make([]NormalizedPhoto, 0, len(rows))
	for _, row := range rows {
		photos = append(photos, NormalizedPhoto{
			ID:           directus.Stringify(row["id"]),
			Source:       source,
			Type:         PhotoType(directus.Stringify(row[fm.Type])),
			Name:         directus.Stringify(row[fm.Name]),
			FileID:       directus.Stringify(row[fm.File]),
			ProjectID:    directus.Stringify(row[fm.ProjectID]),
			Company:      directus.Stringify(row[fm.Company]),
			DateCreated:  directus.Stringify(row[fm.DateCreated]),
			CommentField: fm.Comment,
		})
	}
	return photos
}

// FetchFileURLs maps file ids to asset URLs. Blank and repeated ids are
// ignored; nothing is requested when no id is left.
func (s *Service) FetchFileURLs(ctx context.Context, fileIDs []string) (map[string]string, error) {
	urls := map[string]string{}

	seen := make(map[string]struct{}, len(fileIDs))
	ids := make([]string, 0, len(fileIDs))
	for _, id := range fileIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return urls, nil
	}

	files, err := s.backend.ReadFiles(ctx, directus.Query{
		Filter: directus.Filter{"id": map[string]any{"_in": ids}},
		Fields: []string{"id", "filename_disk"},
		Limit:  len(ids),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read files: %w", err)
	}

	for _, file := range files {
		id := directus.Stringify(file["id"])
		if id != "" {
			urls[id] = s.backend.AssetURL(id)
		}
	}
	return urls, nil
}

// AttachFileURLs sets FileURL on every photo whose file has a URL.
func AttachFileURLs(photos []NormalizedPhoto, urls map[string]string) []NormalizedPhoto {
	out := make([]NormalizedPhoto, len(photos))
	for i, p := range photos {
		if u, ok := urls[p.FileID]; ok {
			p.FileURL = u
		}
		out[i] = p
	}
	return out
}

// FetchGallery fetches photos and attaches their file URLs.
func (s *Service) FetchGallery(ctx context.Context, f PhotoFilters) ([]NormalizedPhoto, error) {
	photos, err := s.FetchPhotos(ctx, f)
	if err != nil {
		return nil, err
	}

	fileIDs := make([]string, 0, len(photos))
	for _, p := range photos {
		fileIDs = append(fileIDs, p.FileID)
	}
	urls, err := s.FetchFileURLs(ctx, fileIDs)
	if err != nil {
		return nil, err
	}
	return AttachFileURLs(photos, urls), nil
}

type commentGroup struct {
	source Source
	field  string
	ids    []string
}

// BulkUpdateComments sets comment on every item, with one update per
// collection. All updates run concurrently; every failure is returned.
func (s *Service) BulkUpdateComments(ctx context.Context, items []ItemRef, comment string) error {
	var groups []*commentGroup
	bySource := map[Source]*commentGroup{}
	for _, item := range items {
		if err := validate.Struct(item); err != nil {
			return fmt.Errorf("invalid item %s:%s: %w", item.Source, item.ID, err)
		}
		g, ok := bySource[item.Source]
		if !ok {
			field := item.CommentField
			if field == "" {
				field = fallbackCommentField
			}
			g = &commentGroup{source: item.Source, field: field}
			bySource[item.Source] = g
			groups = append(groups, g)
		}
		g.ids = append(g.ids, item.ID)
	}

	errs := make([]error, len(groups))
	var g errgroup.Group
	for i, group := range groups {
		g.Go(func() error {
			err := s.backend.UpdateItems(ctx, string(group.source), group.ids, map[string]any{group.field: comment})
			if err != nil {
				errs[i] = fmt.Errorf("failed to update %s: %w", group.source, err)
			}
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}
