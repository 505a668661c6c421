package web

import (
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/facegate/internal/web/handlers"
	"github.com/kozaktomas/facegate/internal/web/middleware"
	"github.com/kozaktomas/facegate/internal/web/static"
)

func (s *Server) setupRoutes(deps Deps) {
	authHandler := handlers.NewAuthHandler(s.sessionManager)
	configHandler := handlers.NewConfigHandler(s.config)
	modelHandler := handlers.NewModelHandler(deps.Model)
	accountHandler := handlers.NewAccountHandler(deps.Accounts, s.logger)
	statsHandler := handlers.NewStatsHandler(deps.Accounts, s.enrollments, s.verifications, s.logger)

	// Health check (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/logout", authHandler.Logout)
		r.Get("/auth/status", authHandler.Status)

		r.Get("/config", configHandler.Get)

		r.Get("/model/status", modelHandler.Status)
		r.Post("/model/warm", modelHandler.Warm)
		r.Get("/model/events", modelHandler.Events)

		r.Route("/enrollments", func(r chi.Router) {
			r.Post("/", s.enrollments.Start)
			r.Get("/{id}", s.enrollments.Get)
			r.Delete("/{id}", s.enrollments.Delete)
			r.Post("/{id}/begin", s.enrollments.Begin)
			r.Post("/{id}/capture", s.enrollments.Capture)
			r.Get("/{id}/frame", s.enrollments.Frame)
			r.Post("/{id}/proceed", s.enrollments.Proceed)
			r.Post("/{id}/details", s.enrollments.Submit)
			r.Post("/{id}/cancel", s.enrollments.Cancel)
		})

		r.Route("/verifications", func(r chi.Router) {
			r.Post("/", s.verifications.Start)
			r.Get("/{id}", s.verifications.Get)
			r.Delete("/{id}", s.verifications.Delete)
			r.Post("/{id}/camera", s.verifications.OpenCamera)
			r.Post("/{id}/capture", s.verifications.Capture)
			r.Post("/{id}/retry", s.verifications.Retry)
			r.Post("/{id}/cancel", s.verifications.Cancel)
		})

		// Protected account area
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(s.sessionManager))

			r.Get("/account", accountHandler.Get)
			r.Get("/stats", statsHandler.Get)
		})
	})

	// Serve static files for frontend (SPA)
	s.router.Get("/*", s.serveSPA)
}

var contentTypes = map[string]string{
	".html": "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".js":   "application/javascript; charset=utf-8",
	".json": "application/json",
	".svg":  "image/svg+xml",
	".png":  "image/png",
	".ico":  "image/x-icon",
}

// serveSPA serves the embedded single-page application, falling back to
// index.html for client-side routes.
func (s *Server) serveSPA(w http.ResponseWriter, r *http.Request) {
	fs := static.GetFileSystem()
	p := r.URL.Path
	if p == "/" {
		p = "/index.html"
	}

	f, err := fs.Open(p)
	if err != nil {
		p = "/index.html"
		f, err = fs.Open(p)
	}
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil || stat.IsDir() {
		http.NotFound(w, r)
		return
	}

	contentType, ok := contentTypes[strings.ToLower(path.Ext(p))]
	if !ok {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, f)
}
