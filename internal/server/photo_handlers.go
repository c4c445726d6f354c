package server

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/planboo/photoreview/internal/photos"
	"github.com/planboo/photoreview/internal/realtime"
	"github.com/planboo/photoreview/internal/sessions"
)

const sseHeartbeat = 25 * time.Second

// changeMessage is the data of a "change" server-sent event.
type changeMessage struct {
	Collection string   `json:"collection"`
	Event      string   `json:"event"`
	IDs        []string `json:"ids"`
}

// redirectHome is where the admin gate sends sessions it does not authorize.
// "/" would bounce a session that still believes it is an admin back here.
func redirectHome(c *gin.Context) {
	c.Redirect(http.StatusFound, "/home")
}

// bindFilters reads gallery filters from the query string. Blank values, as
// sent by an empty form field, are dropped.
func bindFilters(c *gin.Context) (photos.PhotoFilters, error) {
	var filters photos.PhotoFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		return filters, err
	}

	types := filters.Type[:0]
	for _, t := range filters.Type {
		if strings.TrimSpace(string(t)) != "" {
			types = append(types, t)
		}
	}
	filters.Type = types

	names := filters.Name[:0]
	for _, n := range filters.Name {
		if strings.TrimSpace(n) != "" {
			names = append(names, n)
		}
	}
	filters.Name = names

	return filters, filters.Validate()
}

func (s *Server) photoViews(list []photos.NormalizedPhoto) []photoView {
	views := make([]photoView, 0, len(list))
	for _, p := range list {
		view := photoView{
			Key:       p.Key(),
			Type:      p.Type,
			Name:      p.Name,
			ProjectID: p.ProjectID,
			Company:   p.Company,
		}
		if p.FileURL != "" {
			view.FileURL = s.config.Directus.URL + p.FileURL
		}
		views = append(views, view)
	}
	return views
}

func (s *Server) photosPage(c *gin.Context) {
	entry, _ := getEntry(c)

	filters, err := bindFilters(c)
	if err != nil {
		s.renderGallery(c, entry, http.StatusBadRequest, filters, err.Error(), "")
		return
	}

	var notice string
	if n, err := strconv.Atoi(c.Query("updated")); err == nil && n > 0 {
		notice = "Comment applied to " + strconv.Itoa(n) + " photos"
	}
	s.renderGallery(c, entry, http.StatusOK, filters, "", notice)
}

func (s *Server) renderGallery(c *gin.Context, entry *sessions.Entry, status int, filters photos.PhotoFilters, errMsg, notice string) {
	params := photosParams{
		Nav:     navFor(entry.Machine.Snapshot()),
		Filters: filters,
		Error:   errMsg,
		Notice:  notice,
	}

	// Invalid filters are shown back without querying
	if filters.Validate() == nil {
		gallery, err := entry.Photos.FetchGallery(c.Request.Context(), filters)
		if err != nil {
			s.logger.Error().Err(err).Str("session_id", entry.ID).Msg("Failed to fetch photos")
			if params.Error == "" {
				params.Error = "Failed to load photos"
				status = http.StatusBadGateway
			}
		} else {
			params.Photos = s.photoViews(gallery)
		}
	}

	s.render(c, status, photosTemplate, params)
}

func (s *Server) applyComment(c *gin.Context) {
	entry, _ := getEntry(c)

	keys := c.PostFormArray("item")
	comment := strings.TrimSpace(c.PostForm("comment"))

	if len(keys) == 0 {
		s.renderGallery(c, entry, http.StatusBadRequest, photos.PhotoFilters{}, "Select photos to comment", "")
		return
	}
	if comment == "" {
		s.renderGallery(c, entry, http.StatusBadRequest, photos.PhotoFilters{}, "Comment is required", "")
		return
	}

	refs := make([]photos.ItemRef, 0, len(keys))
	for _, key := range keys {
		ref, err := photos.ParseItemRef(key)
		if err != nil {
			s.renderGallery(c, entry, http.StatusBadRequest, photos.PhotoFilters{}, err.Error(), "")
			return
		}
		ref.CommentField = entry.Photos.CommentField(ref.Source)
		refs = append(refs, ref)
	}

	if err := entry.Photos.BulkUpdateComments(c.Request.Context(), refs, comment); err != nil {
		s.logger.Error().Err(err).Str("session_id", entry.ID).Int("items", len(refs)).Msg("Failed to apply comment")
		s.renderGallery(c, entry, http.StatusBadGateway, photos.PhotoFilters{}, "Failed to apply comment", "")
		return
	}

	s.logger.Info().Str("session_id", entry.ID).Int("items", len(refs)).Msg("Comment applied")
	c.Redirect(http.StatusSeeOther, "/photos?updated="+strconv.Itoa(len(refs)))
}

// photoEvents streams realtime changes of the photo collections as
// server-sent events until the client goes away.
func (s *Server) photoEvents(c *gin.Context) {
	entry, _ := getEntry(c)
	ctx := c.Request.Context()
	log := s.logger.With().Str("session_id", entry.ID).Logger()

	if err := entry.Realtime.Connect(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to open realtime channel")
		c.Status(http.StatusServiceUnavailable)
		return
	}

	var subs []*realtime.Subscription
	for _, source := range photos.Sources {
		collectionSubs, err := entry.Realtime.SubscribeAll(ctx, string(source), &realtime.Query{Fields: []string{"id"}})
		if err != nil {
			log.Warn().Err(err).Str("collection", string(source)).Msg("Failed to subscribe")
			for _, sub := range subs {
				_ = sub.Unsubscribe()
			}
			c.Status(http.StatusServiceUnavailable)
			return
		}
		subs = append(subs, collectionSubs...)
	}
	events := realtime.Merge(subs...)

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("change", changeMessage{
				Collection: ev.Collection,
				Event:      ev.Event,
				IDs:        ev.IDs(),
			})
			return true
		case <-heartbeat.C:
			c.SSEvent("heartbeat", time.Now().Unix())
			return true
		case <-ctx.Done():
			return false
		}
	})
}
