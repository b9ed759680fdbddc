package http

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/signalix/gateway/internal/auth"
	"github.com/signalix/gateway/internal/http/handlers"
	"github.com/signalix/gateway/internal/middleware"
)

// RouterConfig carries the handlers and auth settings of the API
type RouterConfig struct {
	Sessions *handlers.SessionHandler
	Messages *handlers.MessageHandler
	Health   *handlers.HealthHandler

	Keys *auth.KeySet
	// JWT is optional; nil disables bearer token auth.
	JWT *auth.JWTService
	// SendLimiter throttles message sends per session; nil disables it.
	SendLimiter *middleware.RateLimiter

	Logger zerolog.Logger
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(chimw.Recoverer)

	r.Get("/health", cfg.Health.ServeHTTP)

	// Protected routes (require API key or operator JWT)
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(cfg.Keys, cfg.JWT))

		r.Get("/sessions", cfg.Sessions.HandleList)
		r.Post("/sessions/add", cfg.Sessions.HandleAdd)
		r.Get("/sessions-history", cfg.Sessions.HandleHistory)

		// Single-session era routes kept for existing clients.
		r.Get("/status", cfg.Sessions.HandleLegacyStatus)
		r.Get("/qr", cfg.Sessions.HandleLegacyQR)

		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Use(middleware.RequireTenant("id"))
			r.Get("/", cfg.Sessions.HandleFind)
			r.Delete("/", cfg.Sessions.HandleDelete)
			r.Get("/status", cfg.Sessions.HandleStatus)
			r.Get("/qr", cfg.Sessions.HandleQR)
		})

		r.Route("/{id}", func(r chi.Router) {
			r.Use(middleware.RequireTenant("id"))
			r.Group(func(r chi.Router) {
				if cfg.SendLimiter != nil {
					r.Use(middleware.RateLimitMiddleware(cfg.SendLimiter, middleware.SessionKey))
				}
				r.Post("/messages/send", cfg.Messages.HandleSend)
				r.Post("/messages/send/bulk", cfg.Messages.HandleSendBulk)
			})
			r.Get("/chats", cfg.Messages.HandleChats)
			r.Get("/chats/{jid}", cfg.Messages.HandleChats)
		})
	})

	return r
}
