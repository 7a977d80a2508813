package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/havenpoint/crisis-response-platform/internal/http/handlers"
	httpmiddleware "github.com/havenpoint/crisis-response-platform/internal/http/middleware"
	"github.com/havenpoint/crisis-response-platform/pkg/logging"
)

// Config carries the wired handlers and cross-cutting settings.
type Config struct {
	Logger          *logging.Logger
	AdminJWTSecret  string
	Assess          *handlers.AssessHandler
	Protocols       *handlers.ProtocolHandler
	AdminThresholds *handlers.AdminThresholdHandler
}

// New assembles the HTTP surface.
func New(cfg Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Post("/assess", cfg.Assess.Assess)
		v1.Route("/protocols/{instanceID}", func(p chi.Router) {
			p.Get("/", cfg.Protocols.Get)
			p.Post("/respond", cfg.Protocols.Respond)
			p.Post("/cancel", cfg.Protocols.Cancel)
		})
		v1.Get("/users/{userID}/protocols", cfg.Protocols.ListForUser)
	})

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(httpmiddleware.AdminJWT(cfg.AdminJWTSecret))
		admin.Post("/thresholds/feedback", cfg.AdminThresholds.Feedback)
	})

	return r
}
