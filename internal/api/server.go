// Package api exposes the assessment and history services over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/heartrisk-server/internal/domain"
	"github.com/heartrisk-server/internal/middleware"
	"github.com/heartrisk-server/internal/service"
)

const (
	shutdownTimeout = 30 * time.Second
	requestTimeout  = 30 * time.Second
)

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	assessments   *service.AssessmentService
	history       *service.HistoryService
	log           *logrus.Logger
	router        *gin.Engine
	server        *http.Server
	version       string
}

// NewServer creates a new HTTP server instance
func NewServer(configManager domain.ConfigManager, assessments *service.AssessmentService, history *service.HistoryService, logger *logrus.Logger) *Server {
	cfg := configManager.GetConfig()

	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.AuditLogger(logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(corsMiddleware(cfg.CORS))
	router.Use(middleware.RequestTimeout(requestTimeout))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst).Middleware())
	}

	server := &Server{
		configManager: configManager,
		assessments:   assessments,
		history:       history,
		log:           logger,
		router:        router,
		version:       cfg.MCP.ServerVersion,
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = shutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.log.Info("Shutting down HTTP server")
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.GET("/health", s.handleHealth)

	// API v1 routes
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/reference", s.handleReference)
		v1.POST("/analyze", s.handleAnalyze)
		v1.POST("/analysis", s.handleAnalysis)
		v1.POST("/abnormal", s.handleAbnormal)

		h := v1.Group("/history")
		h.GET("", s.handleListHistory)
		h.DELETE("", s.handleDeleteAllHistory)
		h.GET("/export", s.handleExportHistory)
		h.POST("/import", s.handleImportHistory)
		h.GET("/:id", s.handleGetHistory)
		h.DELETE("/:id", s.handleDeleteHistory)
	}
}

// corsMiddleware builds the CORS handler from configuration. A "*" origin
// allows every origin.
func corsMiddleware(cfg domain.CORSConfig) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Correlation-ID"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "X-Correlation-ID"},
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}
	for _, o := range origins {
		if o == "*" {
			config.AllowAllOrigins = true
			config.AllowCredentials = false
			return cors.New(config)
		}
	}
	config.AllowOrigins = origins
	return cors.New(config)
}

// respondError maps service errors to HTTP status codes and APIError bodies.
func (s *Server) respondError(c *gin.Context, err error) {
	requestID := c.GetString(middleware.CorrelationIDKey)

	var verrs domain.ValidationErrors
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verrs):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  domain.NewAPIError(domain.ErrValidation, "Submission failed validation", err.Error(), requestID),
			"fields": verrs,
		})
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  domain.NewAPIError(domain.ErrValidation, "Submission failed validation", err.Error(), requestID),
			"fields": domain.ValidationErrors{verr},
		})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": domain.NewAPIError(domain.ErrNotFoundCode, "Record not found", err.Error(), requestID),
		})
	case errors.Is(err, domain.ErrPredictionUnavailable):
		s.log.WithError(err).WithField("correlation_id", requestID).Warn("Prediction service failure")
		c.JSON(http.StatusBadGateway, gin.H{
			"error": domain.NewAPIError(domain.ErrPrediction, "Prediction service unavailable", err.Error(), requestID),
		})
	case errors.Is(err, domain.ErrInvalidRiskLevel), errors.Is(err, domain.ErrInvalidConfidence):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": domain.NewAPIError(domain.ErrInvalidInput, "Invalid prediction result", err.Error(), requestID),
		})
	default:
		s.log.WithError(err).WithField("correlation_id", requestID).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": domain.NewAPIError(domain.ErrInternalServer, "Internal server error", "", requestID),
		})
	}
}

// badRequest responds with an INVALID_INPUT error.
func (s *Server) badRequest(c *gin.Context, message string, err error) {
	details := ""
	if err != nil {
		details = err.Error()
	}
	c.JSON(http.StatusBadRequest, gin.H{
		"error": domain.NewAPIError(domain.ErrInvalidInput, message, details, c.GetString(middleware.CorrelationIDKey)),
	})
}
