package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/amaumene/gostreamd/internal/api/handlers"
	"github.com/amaumene/gostreamd/internal/api/middleware"
	"github.com/amaumene/gostreamd/internal/config"
	"github.com/amaumene/gostreamd/internal/grant"
	"github.com/amaumene/gostreamd/internal/metrics"
	"github.com/amaumene/gostreamd/internal/models"
	"github.com/amaumene/gostreamd/internal/services/catalog"
	"github.com/amaumene/gostreamd/internal/services/origin"
	"github.com/sirupsen/logrus"
)

// Server represents the HTTP server
type Server struct {
	server *http.Server
	logger *logrus.Logger
}

// Deps carries the collaborators the server's handlers need.
type Deps struct {
	Catalog   *catalog.Client
	Origin    *origin.Client
	Issuer    *grant.Issuer
	DB        *models.Database
	Collector *metrics.Collector
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, deps Deps, logger *logrus.Logger) *Server {
	s := &Server{logger: logger}

	mux := http.NewServeMux()
	s.setupRoutes(mux, cfg, deps)

	handler := middleware.Logging(deps.Collector.Middleware(mux), logger)

	s.server = &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: handler,
		// Write timeout stays generous: segment proxying streams bodies.
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(mux *http.ServeMux, cfg *config.Config, deps Deps) {
	// Streaming
	streamHandler := handlers.NewStreamHandler(deps.Catalog, cfg, s.logger)
	mux.HandleFunc("GET /stream/{titleId}/manifest.m3u8", streamHandler.Master)
	mux.HandleFunc("GET /stream/{titleId}/info", streamHandler.Info)
	mux.HandleFunc("GET /stream/{titleId}/{quality}/index.m3u8", streamHandler.VariantPlaylist)

	segmentHandler := handlers.NewSegmentHandler(deps.Origin, cfg, deps.Collector, s.logger)
	mux.Handle("GET /stream/{titleId}/{quality}/{segment}", segmentHandler)

	// Downloads
	downloadHandler := handlers.NewDownloadHandler(deps.Issuer, deps.Catalog, cfg, deps.Collector, s.logger)
	mux.Handle("GET /download/{titleId}", downloadHandler)

	// Watch progress
	progressHandler := handlers.NewProgressHandler(deps.DB, s.logger)
	mux.HandleFunc("GET /progress/{titleId}", progressHandler.Get)
	mux.HandleFunc("PUT /progress/{titleId}", progressHandler.Put)
	mux.HandleFunc("GET /continue-watching", progressHandler.ContinueWatching)

	// Operational
	healthHandler := handlers.NewHealthHandler(s.logger)
	mux.Handle("GET /health", healthHandler)

	statusHandler := handlers.NewStatusHandler(deps.Origin, deps.DB, s.logger)
	mux.Handle("GET /status", statusHandler)

	mux.Handle("GET /metrics", deps.Collector.Handler())
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("port", s.server.Addr).Info("Starting HTTP server")

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
