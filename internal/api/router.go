package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hackgods/practitioner-booking/internal/logger"
)

type RouterConfig struct {
	Service        BookingService
	Health         *HealthHandler
	Log            *logger.Logger
	RequestTimeout time.Duration
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Log
	if log == nil {
		log = logger.Discard()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log))
	r.Use(middleware.Recoverer)

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}

	r.Route("/bookings", func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
		}
		r.Get("/", listBookingsHandler(cfg.Service, log))
		r.Post("/", createBookingHandler(cfg.Service, log))
		r.Put("/", updateBookingHandler(cfg.Service, log))
		r.Delete("/", cancelBookingHandler(cfg.Service, log))
	})

	return r
}
