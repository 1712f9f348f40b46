package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"parallax-connect/internal/handlers"
	"parallax-connect/internal/middleware"
	"parallax-connect/internal/websocket"
)

func New(
	auth *middleware.Auth,
	authHandler *handlers.AuthHandler,
	chatHandler *handlers.ChatHandler,
	sessionsHandler *handlers.SessionsHandler,
	modelsHandler *handlers.ModelsHandler,
	wsHub *websocket.Hub,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	// Auth rate limiter (10 req/min per IP)
	authLimiter := middleware.NewRateLimiter(10, time.Minute)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {

		r.Route("/auth", func(r chi.Router) {
			r.Use(authLimiter.Middleware)
			r.Post("/token", authHandler.Token)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware)

			r.Route("/chat", func(r chi.Router) {
				r.Post("/", chatHandler.Send)
				r.Post("/stream", chatHandler.Stream)
				r.Post("/new", chatHandler.NewChat)
				r.Put("/private", chatHandler.SetPrivate)
				r.Post("/editing", chatHandler.Editing)
			})

			r.Get("/history", chatHandler.History)

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", sessionsHandler.List)
				r.Get("/search", sessionsHandler.List)
				r.Delete("/", sessionsHandler.DeleteAllExcept)
				r.Get("/{id}", sessionsHandler.Get)
				r.Post("/{id}/load", sessionsHandler.Load)
				r.Delete("/{id}", sessionsHandler.Delete)
				r.Put("/{id}/title", sessionsHandler.Rename)
				r.Put("/{id}/important", sessionsHandler.ToggleImportant)
			})

			r.Get("/models", modelsHandler.List)
		})

		// WebSocket authenticates itself via token query param
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}
