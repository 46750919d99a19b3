package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mkarlsen/sendlater/internal/config"
	"github.com/mkarlsen/sendlater/internal/storage"
)

// TickSource reports scheduler liveness for the health endpoint.
type TickSource interface {
	LastTick() time.Time
}

type Server struct {
	cfg    config.ServerConfig
	store  storage.Storage
	ticks  TickSource
	router *chi.Mux
	log    zerolog.Logger
	http   *http.Server
}

func NewServer(cfg config.ServerConfig, store storage.Storage, ticks TickSource, log zerolog.Logger) *Server {
	s := &Server{
		cfg:   cfg,
		store: store,
		ticks: ticks,
		log:   log,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))

	msgHandler := NewMessageHandler(s.store)
	healthHandler := NewHealthHandler(s.store, s.ticks)

	// Liveness and metrics — no auth
	r.Get("/health", healthHandler.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.cfg.AuthToken != "" {
			r.Use(AuthMiddleware(s.cfg.AuthToken))
		}

		r.Post("/messages", msgHandler.Create)
		r.Get("/messages", msgHandler.List)
		r.Get("/messages/{id}", msgHandler.Get)
		r.Patch("/messages/{id}", msgHandler.Update)
		r.Post("/messages/{id}/cancel", msgHandler.Cancel)
		r.Post("/messages/{id}/send-now", msgHandler.SendNow)
		r.Get("/messages/{id}/attempts", msgHandler.ListAttempts)

		r.Get("/stats", healthHandler.Stats)
	})

	return r
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
