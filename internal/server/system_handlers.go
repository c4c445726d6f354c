package server

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/planboo/photoreview/internal/sysinfo"
)

// SystemInfoResponse describes the running service
type SystemInfoResponse struct {
	Version        string          `json:"version"`
	GoVersion      string          `json:"go_version"`
	DirectusURL    string          `json:"directus_url"`
	ActiveSessions int             `json:"active_sessions"`
	Host           sysinfo.Metrics `json:"host"`
}

// @Router /health [get]
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	database := "ok"
	if sqlDB, err := s.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		status = http.StatusServiceUnavailable
		database = "unavailable"
	}

	c.JSON(status, gin.H{
		"status":    "online",
		"database":  database,
		"timestamp": time.Now().UTC(),
		"service":   "photoreview",
	})
}

// @Summary Get service information
// @Tags system
// @Produce json
// @Success 200 {object} SystemInfoResponse
// @Router /api/system/info [get]
func (s *Server) getSystemInfo(c *gin.Context) {
	c.JSON(http.StatusOK, SystemInfoResponse{
		Version:        s.version,
		GoVersion:      runtime.Version(),
		DirectusURL:    s.config.Directus.URL,
		ActiveSessions: s.registry.Len(),
		Host:           sysinfo.GetMetrics(s.config.Database.URL),
	})
}
