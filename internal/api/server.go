package api

import (
	"context"
	"net/http"
	"time"

	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/config"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/api/handlers"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/api/middleware"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/metrics"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/search"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/services"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Server represents the HTTP server
type Server struct {
	config     config.Config
	router     *gin.Engine
	httpServer *http.Server
	engine     *services.Engine
	views      *services.Views
	search     *search.ElasticClient
	collector  *metrics.Metrics
	tracer     tracing.Tracer
}

// NewServer creates a new HTTP server
func NewServer(
	cfg config.Config,
	engine *services.Engine,
	views *services.Views,
	searchClient *search.ElasticClient,
	collector *metrics.Metrics,
	tracer tracing.Tracer,
) *Server {
	server := &Server{
		config:    cfg,
		engine:    engine,
		views:     views,
		search:    searchClient,
		collector: collector,
		tracer:    tracer,
	}

	server.router = server.setupRouter()
	server.httpServer = &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      server.router,
		ReadTimeout:  cfg.ServerTimeout,
		WriteTimeout: cfg.ServerTimeout,
	}

	return server
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	if s.config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.Metrics(s.collector))

	eventsHandler := handlers.NewEventsHandler(s.engine, s.views, s.search, s.tracer)
	eventsHandler.RegisterRoutes(router)

	metricsHandler := handlers.NewMetricsHandler(s.collector, s.tracer)
	metricsHandler.RegisterRoutes(router)

	return router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.ServerAddress).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
