package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"gtg-gateway/internal/handlers"
	"gtg-gateway/internal/metrics"
	"gtg-gateway/internal/middleware"
	"gtg-gateway/pkg/logging/logging"
)

type Handlers struct {
	Photos  *handlers.PhotoHandler
	Places  *handlers.PlacesHandler
	Weather *handlers.WeatherHandler

	// Health, when set, is checked by /healthz (backend connections).
	Health func(ctx context.Context) error
}

// DefaultRequestTimeout leaves room for a photo that waits out backoff and host cooldowns.
const DefaultRequestTimeout = 45 * time.Second

func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, h Handlers, timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	r.Use(metrics.Middleware)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())
	r.Use(middleware.Timeout(timeout))

	r.Route("/v1", func(r chi.Router) {
		if h.Photos != nil {
			r.Get("/photos/{ref}", h.Photos.Photo)
			r.Get("/session/budget", h.Photos.Budget)
			r.Put("/session/pages/{page}/limit", h.Photos.SetPageLimit)
		}
		if h.Places != nil {
			r.Get("/places", h.Places.List)
			r.Get("/places/search", h.Places.Search)
			r.Get("/places/{id}", h.Places.Details)
		}
		if h.Weather != nil {
			r.Get("/weather", h.Weather.Daily)
		}
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if h.Health != nil {
			if err := h.Health(r.Context()); err != nil {
				logging.OrNop(baseLogger).Warn("health check failed", zap.Error(err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("unavailable"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", metrics.Handler())
}
