package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/alichu45/socialbot/internal/config"
	"github.com/alichu45/socialbot/internal/platform"
	"github.com/alichu45/socialbot/internal/service"
)

type Server struct {
	Config *config.Config
	DB     *gorm.DB
	Router *gin.Engine
	Logger *zap.Logger
	Server *http.Server

	// Services
	Registry     *platform.Registry
	Credentials  *service.CredentialStore
	Dispatcher   *service.Dispatcher
	Ingestor     *service.Ingestor
	Matcher      *service.Matcher
	Analytics    *service.AnalyticsService
	Monitoring   *service.MonitoringService
	StatsUpdater *service.StatsUpdater
	Auth         *service.AuthService
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	// Set gin mode
	gin.SetMode(cfg.Server.Mode)

	// Initialize database
	db, err := service.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	srv, err := assemble(cfg, db, logger)
	if err != nil {
		return nil, err
	}

	return srv, nil
}

// assemble wires every component onto a ready database. Split from
// NewServer so tests can hand in their own database.
func assemble(cfg *config.Config, db *gorm.DB, logger *zap.Logger) (*Server, error) {
	registry := platform.NewRegistry(logger)
	for _, adapter := range []platform.Adapter{
		platform.NewTwitterAdapter(logger),
		platform.NewFacebookAdapter(logger),
		platform.NewInstagramAdapter(logger),
		platform.NewTikTokAdapter(logger),
		platform.NewThreadsAdapter(logger),
	} {
		if err := registry.Register(adapter); err != nil {
			return nil, fmt.Errorf("failed to register adapter: %w", err)
		}
	}

	credentials := service.NewCredentialStore(db, &cfg.Platforms, logger)
	monitoring := service.NewMonitoringService(db, logger)
	analytics := service.NewAnalyticsService(db, logger)

	statsInterval, err := time.ParseDuration(cfg.Stats.Interval)
	if err != nil {
		return nil, fmt.Errorf("invalid stats interval: %w", err)
	}

	srv := &Server{
		Config:       cfg,
		DB:           db,
		Router:       gin.New(),
		Logger:       logger,
		Registry:     registry,
		Credentials:  credentials,
		Dispatcher:   service.NewDispatcher(&cfg.Scheduler, db, logger, registry, credentials, monitoring),
		Ingestor:     service.NewIngestor(&cfg.Ingest, db, logger, registry, credentials, monitoring),
		Matcher:      service.NewMatcher(&cfg.Matcher, db, logger, registry, credentials, monitoring),
		Analytics:    analytics,
		Monitoring:   monitoring,
		StatsUpdater: service.NewStatsUpdater(analytics, logger, statsInterval),
		Auth:         service.NewAuthService(logger, cfg.Auth.TOTPSecret),
	}

	// Setup middleware and routes
	srv.setupMiddleware()
	srv.setupRoutes()

	return srv, nil
}

func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.Router.Use(gin.Recovery())

	// Logger middleware
	s.Router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
	}))

	// CORS middleware
	s.Router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Auth-Code")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})
}

func (s *Server) setupRoutes() {
	// Health check
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	// API routes
	api := s.Router.Group("/api/v1")
	{
		posts := api.Group("/posts")
		{
			posts.POST("", s.Auth.Middleware(), s.handleSchedulePost)
			posts.POST("/:id/reschedule", s.Auth.Middleware(), s.handleReschedulePost)
			posts.GET("/due", s.handleListDuePosts)
		}

		accounts := api.Group("/accounts")
		{
			accounts.GET("/:id/inbox", s.handleInboxStatus)
		}

		api.GET("/analytics", s.handleAnalytics)
		api.GET("/errors/recent", s.handleRecentErrors)
	}
}

func (s *Server) Start(ctx context.Context) error {
	// Start the engine loops before accepting traffic
	if err := s.Dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}
	if err := s.Ingestor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start ingestor: %w", err)
	}
	if err := s.Matcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start matcher: %w", err)
	}
	if s.Config.Stats.IsEnabled() {
		s.StatsUpdater.Start(ctx)
	}

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)

	s.Server = &http.Server{
		Addr:    addr,
		Handler: s.Router,
	}

	s.Logger.Info("Starting HTTP server", zap.String("addr", addr))

	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		return s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	}

	return s.Server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	// Stop the loops first so no dispatch starts mid-shutdown
	s.Dispatcher.Stop()
	s.Ingestor.Stop()
	s.Matcher.Stop()
	if s.Config.Stats.IsEnabled() {
		s.StatsUpdater.Stop()
	}

	if s.Server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return s.Server.Shutdown(shutdownCtx)
}
