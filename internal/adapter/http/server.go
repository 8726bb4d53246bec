// Package adapthttp implements the HTTP adapter for the application.
package adapthttp

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"lumitrack/internal/app"
	"lumitrack/internal/metrics"
)

// Server is the driving HTTP adapter that routes requests to application
// services.
type Server struct {
	sessions       *app.SessionService
	creds          *app.CredentialService
	ingest         *app.IngestService
	export         *app.ExportService
	oidc           *OIDC
	log            zerolog.Logger
	maxUploadBytes int64
}

// New creates a Server wired to the given application services. oidc may be
// nil when SSO is not configured.
func New(sessions *app.SessionService, creds *app.CredentialService, ingest *app.IngestService, export *app.ExportService, oidc *OIDC, log zerolog.Logger, maxUploadBytes int64) *Server {
	return &Server{
		sessions:       sessions,
		creds:          creds,
		ingest:         ingest,
		export:         export,
		oidc:           oidc,
		log:            log,
		maxUploadBytes: maxUploadBytes,
	}
}

// Handler returns the root http.Handler for the application.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)

	r.Get("/metrics", metrics.Handler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/ping", s.handlePing)
		r.Post("/login", s.handleLogin)
		// Logout sits outside requireSession: revoking an already revoked
		// token must succeed rather than bounce off the auth gate.
		r.Post("/logout", s.handleLogout)
		r.Get("/sso/login", s.handleSSOLogin)
		r.Get("/sso/callback", s.handleSSOCallback)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Get("/checkToken", s.handleCheckToken)
			r.Post("/createUser", s.handleCreateUser)
			r.Post("/deleteUser", s.handleDeleteUser)
			r.Post("/uploadData", s.handleUploadData)
			r.Get("/exportData", s.handleExportData)
			r.Post("/getDancerFiberData", s.handleDancerFiberData)
			r.Post("/getDancerLEDData", s.handleDancerLEDData)
		})
	})

	return r
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
