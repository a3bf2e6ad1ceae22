package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/atmx/weather-edge/internal/metrics"
)

// NewRouter mounts the service, the hub and the operational endpoints.
// hub may be nil. requestTimeout applies to the read endpoints only; a
// triggered cycle is bounded by the service's own timeout.
func NewRouter(svc *Service, hub *WSHub, requestTimeout time.Duration) chi.Router {
	if requestTimeout <= 0 {
		requestTimeout = 15 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	// CORS middleware for dashboard cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"weather-edge"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for admissions and settlements.
		if hub != nil {
			r.Get("/ws", hub.HandleWS)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))

			r.Get("/portfolio", svc.GetPortfolio)
			r.Get("/positions", svc.ListPositions)
			r.Get("/positions/{marketID}", svc.GetPosition)
			r.Get("/history", svc.GetHistory)
			r.Get("/cycles/last", svc.GetLastCycle)
		})

		// On-demand cycle; scheduling stays outside the process.
		r.Post("/cycle", svc.RunCycle)
	})

	return r
}
