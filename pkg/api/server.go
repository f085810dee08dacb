package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"cpdispatch/pkg/api/middleware"
	"cpdispatch/pkg/coordination"
	"cpdispatch/pkg/storage"
)

// Server encapsulates the HTTP API server and its dependencies.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	logger     *zap.Logger

	runs        storage.RunStore
	queue       storage.BatchQueue
	logs        storage.LogStore
	coordinator coordination.Coordinator
	now         func() time.Time
}

// Config holds API server configuration. Queue is required for submissions,
// LogStore for log retrieval and Coordinator for the leader endpoint.
type Config struct {
	Port        string
	RunStore    storage.RunStore
	Queue       storage.BatchQueue
	LogStore    storage.LogStore
	Coordinator coordination.Coordinator
	Logger      *zap.Logger
	RateLimit   middleware.RateLimiterConfig
}

// NewServer creates a new API server with all dependencies.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.RunStore == nil {
		cfg.RunStore = storage.NopRunStore{}
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit = middleware.DefaultRateLimiterConfig()
	}

	router := gin.New()

	// Middleware stack (order matters)
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.TracingMiddleware("cpdispatch-api"))
	router.Use(requestLogger(cfg.Logger))
	router.Use(middleware.BodySizeLimitMiddleware(1 << 20))

	s := &Server{
		router:      router,
		logger:      cfg.Logger,
		runs:        cfg.RunStore,
		queue:       cfg.Queue,
		logs:        cfg.LogStore,
		coordinator: cfg.Coordinator,
		now:         time.Now,
	}
	s.registerRoutes(middleware.NewRateLimiter(cfg.RateLimit))

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("starting api server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down api server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes(limiter *middleware.RateLimiter) {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		runs := v1.Group("/runs")
		{
			runs.POST("", limiter.Middleware(), s.submitRun)
			runs.GET("/:id", s.getRun)
			runs.GET("/:id/jobs/:name/log", s.getJobLog)
		}

		cluster := v1.Group("/cluster")
		{
			cluster.GET("/leader", s.getLeader)
		}
	}
}

// requestLogger logs one line per request.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", middleware.RequestID(c)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Error("request failed", fields...)
			return
		}
		logger.Info("request", fields...)
	}
}

// healthCheck reports which backends are wired. Submissions need the queue.
func (s *Server) healthCheck(c *gin.Context) {
	_, nopRuns := s.runs.(storage.NopRunStore)
	deps := map[string]bool{
		"run_store":   !nopRuns,
		"queue":       s.queue != nil,
		"log_store":   s.logs != nil,
		"coordinator": s.coordinator != nil,
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if s.queue == nil {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":       status,
		"dependencies": deps,
		"timestamp":    s.now().UTC(),
	})
}
