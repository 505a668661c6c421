package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kozaktomas/facegate/internal/config"
	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/logging"
	"github.com/kozaktomas/facegate/internal/web/handlers"
	"github.com/kozaktomas/facegate/internal/web/middleware"
)

// Deps are the collaborators the server routes requests to.
type Deps struct {
	Flows handlers.FlowOptions
	// Accounts backs the account area and statistics; usually the same store as Flows.Deps.Store.
	Accounts database.Repository
	Model    handlers.ModelGate
}

// Server represents the web server
type Server struct {
	config         *config.Config
	router         *chi.Mux
	httpServer     *http.Server
	logger         *zap.Logger
	sessionManager *middleware.SessionManager
	enrollments    *handlers.EnrollmentHandler
	verifications  *handlers.VerificationHandler
	stopJanitors   context.CancelFunc
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, deps Deps, logger *zap.Logger) *Server {
	r := chi.NewRouter()
	logger = logging.OrNop(logger)

	sessionManager := middleware.NewSessionManager(cfg.Web.SessionSecret)
	deps.Flows.Sessions = sessionManager
	deps.Flows.Logger = logger

	s := &Server{
		config:         cfg,
		router:         r,
		logger:         logger,
		sessionManager: sessionManager,
		enrollments:    handlers.NewEnrollmentHandler(deps.Flows),
		verifications:  handlers.NewVerificationHandler(deps.Flows),
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(2 * time.Minute))
	r.Use(middleware.CORS(cfg.Web.AllowedOrigins))
	r.Use(middleware.SecurityHeaders())

	s.setupRoutes(deps)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 3 * time.Minute, // model loading and SSE
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the idle flow janitors and the HTTP server.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.stopJanitors = cancel
	handlers.RunJanitors(ctx, s.enrollments, s.verifications)

	s.logger.Info("starting web server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, closing every open flow.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down web server")

	if s.sessionManager != nil {
		s.sessionManager.Stop()
	}

	err := s.httpServer.Shutdown(ctx)
	if s.stopJanitors != nil {
		s.stopJanitors()
	}
	if err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
