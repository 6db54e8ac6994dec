package api

import (
	"context"
	"net/http"
	"time"

	"example.com/backstage/services/library/config"
	"example.com/backstage/services/library/internal/api/handlers"
	"example.com/backstage/services/library/internal/metrics"
	"example.com/backstage/services/library/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 5 * time.Second

// Services groups the operations exposed over HTTP
type Services struct {
	IssueNotes handlers.IssueNotePlacer
	Search     handlers.IssueNoteSearcher
	Returns    handlers.ReturnPlacer
	Members    handlers.MemberManager
}

// Server represents the HTTP server
type Server struct {
	config     config.Config
	router     *gin.Engine
	httpServer *http.Server
	services   Services
	metrics    *metrics.Metrics
	tracer     tracing.Tracer
	checks     map[string]handlers.Pinger
}

// NewServer creates a new HTTP server. checks lists the dependencies
// reported by /health.
func NewServer(
	cfg config.Config,
	svc Services,
	m *metrics.Metrics,
	tracer tracing.Tracer,
	checks map[string]handlers.Pinger,
) *Server {
	server := &Server{
		config:   cfg,
		services: svc,
		metrics:  m,
		tracer:   tracer,
		checks:   checks,
	}

	server.router = server.setupRouter()
	server.httpServer = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      server.router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	return server
}

// Router exposes the configured router
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestID(), Logger())

	if app := s.tracer.Application(); app != nil {
		router.Use(nrgin.Middleware(app))
	}
	if s.config.MetricsEnabled {
		router.Use(Metrics(s.metrics))
	}
	if s.config.Server.CorsEnabled {
		router.Use(CORS(s.config.Server.CorsOrigins))
	}

	handlers.NewIssueNoteHandler(s.services.IssueNotes, s.services.Search).RegisterRoutes(router)
	handlers.NewReturnHandler(s.services.Returns).RegisterRoutes(router)
	handlers.NewMemberHandler(s.services.Members).RegisterRoutes(router)
	handlers.NewMetricsHandler(s.metrics, s.checks).RegisterRoutes(router)

	return router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.Server.Address).Msg("Starting HTTP server")

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

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
