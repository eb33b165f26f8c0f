package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-queue-scheduling/internal/metrics"
)

type RouterConfig struct {
	Engine        Executor
	Postgres      Pinger
	Redis         redis.Cmdable
	Logger        zerolog.Logger
	DefaultTenant string
	Env           string
	Version       string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoveryMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", metrics.Handler())

	h := &handlers{exec: cfg.Engine, logger: cfg.Logger}

	r.Group(func(r chi.Router) {
		r.Use(TenantMiddleware(cfg.DefaultTenant))

		r.Route("/queues/{doctorID}/{date}", func(r chi.Router) {
			r.Get("/", h.getQueue)
			r.Post("/entries", h.enqueue)
			r.Get("/snapshot", h.snapshot)
			r.Put("/order", h.reorder)
		})

		r.Route("/appointments/{id}", func(r chi.Router) {
			r.Post("/confirm", h.confirm)
			r.Post("/start", h.start)
			r.Post("/emergency", h.emergency)
			r.Post("/complete", h.complete)
			r.Get("/position", h.locate)
		})

		r.Route("/waitlist", func(r chi.Router) {
			r.Post("/", h.addWaitlist)
			r.Get("/", h.listWaitlist)
			r.Get("/metrics", h.waitlistMetrics)
			r.Post("/process", h.processWaitlist)
			r.Patch("/{id}", h.updateWaitlist)
			r.Delete("/{id}", h.removeWaitlist)
		})

		r.Get("/locations/{locationID}/stats", h.locationStats)
	})

	return r
}
