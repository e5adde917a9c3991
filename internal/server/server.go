// Package server is the HTTP surface: batch submission, single-item
// download and the per-session gallery.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mahirjain10/go-resizer/internal/metrics"
	"github.com/mahirjain10/go-resizer/internal/types"
)

// Batcher resolves the files of one submission.
type Batcher interface {
	ResolveAll(ctx context.Context, files []types.SourceFile, opts types.TransformOptions) (types.BatchResult, error)
	Stream(ctx context.Context, files []types.SourceFile, opts types.TransformOptions, emit func(types.BatchItem) error) error
}

// Fetcher looks up an already derived asset.
type Fetcher interface {
	Fetch(ctx context.Context, key string, opts types.TransformOptions) (types.AssetRecord, error)
}

type Config struct {
	Addr           string
	MaxFiles       int
	MaxUploadBytes int64
	// DeviceID scopes cache keys when a request carries no X-Device-ID header.
	DeviceID     string
	SessionTTL   time.Duration
	SessionLimit int
	// Gatherer backs GET /metrics; the default gatherer when nil.
	Gatherer prometheus.Gatherer
}

type Server struct {
	cfg        Config
	batches    Batcher
	assets     Fetcher
	sessions   *Sessions
	observer   *metrics.Observer
	logger     *slog.Logger
	engine     *gin.Engine
	httpServer *http.Server
	startTime  time.Time
}

func New(cfg Config, batches Batcher, assets Fetcher, observer *metrics.Observer, logger *slog.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":3000"
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 10
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 32 << 20
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	if cfg.SessionLimit <= 0 {
		cfg.SessionLimit = 1024
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = slog.Default()
	}

	engine := gin.New()
	engine.MaxMultipartMemory = cfg.MaxUploadBytes
	engine.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		cfg:       cfg,
		batches:   batches,
		assets:    assets,
		sessions:  NewSessions(cfg.SessionLimit, cfg.SessionTTL),
		observer:  observer,
		logger:    logger,
		engine:    engine,
		startTime: time.Now(),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Minute,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{})))

	app := s.engine.Group("/")
	app.Use(s.sessions.middleware())
	{
		app.POST("/resize", s.limitBody(), s.handleResize)
		app.GET("/download/:index", s.handleDownload)
		app.GET("/gallery", s.handleGallery)
	}
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.cfg.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) limitBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)
		c.Next()
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"bytes", c.Writer.Size(),
			"duration", time.Since(start))
	}
}
