// Package server is the routing shell of the photo review application: the
// server-rendered pages, the JSON API and the realtime event stream.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/planboo/photoreview/internal/adminguard"
	"github.com/planboo/photoreview/internal/auth"
	"github.com/planboo/photoreview/internal/authstate"
	"github.com/planboo/photoreview/internal/config"
	"github.com/planboo/photoreview/internal/database"
	"github.com/planboo/photoreview/internal/photos"
	"github.com/planboo/photoreview/internal/realtime"
	"github.com/planboo/photoreview/internal/sessions"
)

// Server represents the HTTP server
type Server struct {
	router   *gin.Engine
	db       *gorm.DB
	config   *config.Config
	logger   zerolog.Logger
	registry *sessions.Registry
	gate     *adminguard.Gate
	limiter  *loginLimiter
	metrics  *metrics
	sweeper  *cron.Cron
	version  string
}

// New creates a new server instance
func New(cfg *config.Config, zlog zerolog.Logger, version string) (*Server, error) {
	db, err := database.Open(cfg.Database.URL, zlog)
	if err != nil {
		return nil, err
	}
	return newServer(cfg, db, zlog, version)
}

func newServer(cfg *config.Config, db *gorm.DB, zlog zerolog.Logger, version string) (*Server, error) {
	// The session signing secret is generated on first start and kept in the
	// database, so sessions survive restarts.
	secret, err := sessions.LoadOrCreateSecret(db)
	if err != nil {
		return nil, err
	}
	auth.InitializeJWT(secret)

	fieldMaps := photos.DefaultFieldMaps()
	if cfg.Photos.FieldMapFile != "" {
		fieldMaps, err = photos.LoadFieldMaps(cfg.Photos.FieldMapFile)
		if err != nil {
			return nil, err
		}
		zlog.Info().Str("path", cfg.Photos.FieldMapFile).Msg("Loaded photo field map")
	}

	m := newMetrics()
	policy := authstate.NewAdminPolicy(cfg.Directus.AdminRoleIDs...)

	registry := sessions.NewRegistry(sessions.NewStore(db), sessions.Options{
		DirectusURL: cfg.Directus.URL,
		HTTPClient:  &http.Client{Timeout: cfg.Directus.Timeout},
		Policy:      policy,
		Realtime: realtime.Options{
			ReconnectDelay: cfg.Realtime.ReconnectDelay,
			MaxReconnects:  cfg.Realtime.MaxReconnects,
		},
		FieldMaps: fieldMaps,
		Observer:  m.observeDirectus,
		Logger:    zlog,

		RecheckInterval: cfg.Server.AuthRecheckInterval,
	})
	m.registerActiveSessions(registry.Len)

	server := &Server{
		db:       db,
		config:   cfg,
		logger:   zlog,
		registry: registry,
		gate:     adminguard.New(policy, zlog),
		limiter:  newLoginLimiter(cfg.Server.LoginRatePerSec, cfg.Server.LoginRateBurst),
		metrics:  m,
		version:  version,
	}

	if err := server.setupRouter(); err != nil {
		return nil, err
	}

	return server, nil
}

// setupRouter configures the Gin router with routes and middleware
func (s *Server) setupRouter() error {
	gin.SetMode(gin.ReleaseMode)

	s.router = gin.New()

	// Only listed proxies may speak for the client address (login throttling)
	if err := s.router.SetTrustedProxies(s.config.Server.TrustedProxies); err != nil {
		return fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}

	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(s.metrics.middleware())

	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", s.metrics.handler())

	// Everything below knows its session
	app := s.router.Group("/")
	app.Use(s.sessionMiddleware())
	{
		app.GET("/", s.landing)
		app.GET("/login", s.loginPage)
		app.POST("/login", s.limiter.middleware(s.loginThrottled), s.login)
		app.POST("/logout", s.logout)
		app.GET("/home", s.home)

		photoRoutes := app.Group("/photos")
		photoRoutes.Use(requireAdminPage(), s.gate.Middleware(gateClient, redirectHome))
		{
			photoRoutes.GET("", s.photosPage)
			photoRoutes.POST("/comment", s.applyComment)
			photoRoutes.GET("/events", s.photoEvents)
		}
	}

	api := s.router.Group("/api")
	api.Use(cors.New(cors.Config{
		AllowOrigins:     s.allowOrigins(),
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	api.Use(s.sessionMiddleware())
	{
		api.GET("/session", s.getSession)
		api.GET("/system/info", requireAdminAPI(s.logger), s.gate.Middleware(gateClient, s.gateRejected), s.getSystemInfo)

		photoAPI := api.Group("/photos")
		photoAPI.Use(requireAdminAPI(s.logger), s.gate.Middleware(gateClient, s.gateRejected))
		{
			photoAPI.GET("", s.listPhotos)
			photoAPI.POST("/comments", s.updateComments)
		}
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/")
	})

	return nil
}

func (s *Server) allowOrigins() []string {
	if len(s.config.Server.AllowOrigins) > 0 {
		return s.config.Server.AllowOrigins
	}
	return []string{"http://localhost:5173"}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	port := fmt.Sprintf(":%d", s.config.Server.Port)

	sweeper, err := sessions.StartSweeper(s.registry, s.config.Server.SessionTTL, s.logger)
	if err != nil {
		return err
	}
	s.sweeper = sweeper

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	srv := &http.Server{
		Addr:              port,
		Handler:           s.router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: /photos/events streams for as long as the page is open
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		s.logger.Info().Str("port", port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	<-sigChan
	s.logger.Info().Msg("Received shutdown signal, shutting down gracefully...")

	stopped := s.sweeper.Stop()
	<-stopped.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Realtime links first, so event streams end and Shutdown is not held up
	s.registry.Close(shutdownCtx)

	s.logger.Info().Msg("Shutting down HTTP server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down HTTP server")
		return err
	}

	s.logger.Info().Msg("Server shutdown complete")

	// Close database connection to flush WAL writes
	if sqlDB, err := s.db.DB(); err == nil {
		s.logger.Info().Msg("Closing database connection...")
		if err := sqlDB.Close(); err != nil {
			s.logger.Error().Err(err).Msg("Error closing database")
		} else {
			s.logger.Info().Msg("Database closed successfully")
		}
	}

	return nil
}
