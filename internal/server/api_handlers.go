package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/planboo/photoreview/internal/authstate"
	"github.com/planboo/photoreview/internal/directus"
	"github.com/planboo/photoreview/internal/photos"
)

// SessionResponse is the auth state of the caller's session
type SessionResponse struct {
	Status          authstate.Status `json:"status"`
	IsAuthenticated bool             `json:"isAuthenticated"`
	IsAdmin         bool             `json:"isAdmin"`
	Error           string           `json:"error,omitempty"`
	User            *UserDetail      `json:"user,omitempty"`
}

// UserDetail represents user information returned in responses
type UserDetail struct {
	ID    string      `json:"id"`
	Email string      `json:"email"`
	Role  *RoleDetail `json:"role,omitempty"`
}

// RoleDetail is the user's role. Legacy roles carry only an id.
type RoleDetail struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	AdminAccess *bool  `json:"adminAccess,omitempty"`
}

// PhotosResponse lists gallery photos
type PhotosResponse struct {
	Photos []photos.NormalizedPhoto `json:"photos"`
	Count  int                      `json:"count"`
}

// CommentRequest sets one comment on several photos
type CommentRequest struct {
	Items   []CommentItem `json:"items" binding:"required,min=1,dive"`
	Comment string        `json:"comment" binding:"required"`
}

// CommentItem addresses one photo
type CommentItem struct {
	ID     string        `json:"id" binding:"required"`
	Source photos.Source `json:"source" binding:"required,oneof=cooks mixtures fields"`
}

func userDetail(user *directus.User) *UserDetail {
	if user == nil {
		return nil
	}
	detail := &UserDetail{ID: user.ID, Email: user.Email}
	switch role := user.Role.(type) {
	case directus.IdentifiedRole:
		detail.Role = &RoleDetail{ID: role.ID, Name: role.Name, AdminAccess: role.AdminAccess}
	case directus.LegacyRole:
		detail.Role = &RoleDetail{ID: string(role)}
	}
	return detail
}

// @Summary Current session
// @Tags auth
// @Produce json
// @Success 200 {object} SessionResponse
// @Router /api/session [get]
func (s *Server) getSession(c *gin.Context) {
	state := currentState(c)
	c.JSON(http.StatusOK, SessionResponse{
		Status:          state.Status,
		IsAuthenticated: state.IsAuthenticated,
		IsAdmin:         state.IsAdmin,
		Error:           state.Error,
		User:            userDetail(state.User),
	})
}

func (s *Server) gateRejected(c *gin.Context) {
	respondWithError(c, s.logger, http.StatusForbidden, errors.New("admin gate rejected session"), "Admin access required")
}

// @Summary List photos
// @Tags photos
// @Produce json
// @Param projectId query string false "Project"
// @Param company query string false "Company"
// @Param type query []string false "Photo type"
// @Param name query []string false "Name"
// @Param dateFrom query string false "Created on or after"
// @Param dateTo query string false "Created on or before"
// @Success 200 {object} PhotosResponse
// @Failure 400 {object} map[string]interface{}
// @Failure 502 {object} map[string]interface{}
// @Router /api/photos [get]
func (s *Server) listPhotos(c *gin.Context) {
	entry, _ := getEntry(c)

	filters, err := bindFilters(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	gallery, err := entry.Photos.FetchGallery(c.Request.Context(), filters)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", entry.ID).Msg("Failed to fetch photos")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to load photos"})
		return
	}

	for i := range gallery {
		if gallery[i].FileURL != "" {
			gallery[i].FileURL = s.config.Directus.URL + gallery[i].FileURL
		}
	}

	c.JSON(http.StatusOK, PhotosResponse{Photos: gallery, Count: len(gallery)})
}

// @Summary Comment on photos
// @Tags photos
// @Accept json
// @Produce json
// @Param request body CommentRequest true "Comment request"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Failure 502 {object} map[string]interface{}
// @Router /api/photos/comments [post]
func (s *Server) updateComments(c *gin.Context) {
	entry, _ := getEntry(c)

	var req CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	refs := make([]photos.ItemRef, 0, len(req.Items))
	for _, item := range req.Items {
		refs = append(refs, photos.ItemRef{
			ID:           item.ID,
			Source:       item.Source,
			CommentField: entry.Photos.CommentField(item.Source),
		})
	}

	if err := entry.Photos.BulkUpdateComments(c.Request.Context(), refs, req.Comment); err != nil {
		s.logger.Error().Err(err).Str("session_id", entry.ID).Int("items", len(refs)).Msg("Failed to update comments")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to update comments"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": len(refs)})
}
