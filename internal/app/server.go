package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/markdave123-py/Groundwise/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/Groundwise/internal/api/middlewares"
	"github.com/markdave123-py/Groundwise/internal/config"
	"github.com/markdave123-py/Groundwise/internal/metrics"
	"github.com/markdave123-py/Groundwise/internal/services"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, users *services.UserService, chat handlers.ChatService, m metrics.Metrics) *Server {
	return &Server{httpServer: &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           NewRouter(cfg, users, chat, m),
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

func NewRouter(cfg *config.Config, users *services.UserService, chat handlers.ChatService, m metrics.Metrics) http.Handler {
	authHandler := handlers.NewAuthHandler(users, cfg.JWTSecret)
	chatHandler := handlers.NewChatHandler(chat)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Method(http.MethodGet, "/metrics", m.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Group(func(public chi.Router) {
			public.Use(middleware.Timeout(60 * time.Second))
			public.Post("/signup", authHandler.Signup)
			public.Post("/login", authHandler.Login)
		})

		api.Group(func(protected chi.Router) {
			protected.Use(appMiddleware.JWT(cfg.JWTSecret))

			// Answers stream for as long as the model writes, so only the
			// other endpoints get a deadline.
			protected.With(appMiddleware.RateLimit(cfg.AskRatePerMinute)).
				Post("/chat/sessions/{sessionID}/ask", chatHandler.Ask)

			protected.Group(func(rest chi.Router) {
				rest.Use(middleware.Timeout(60 * time.Second))
				rest.Post("/chat/sessions", chatHandler.CreateSession)
				rest.Get("/chat/sessions", chatHandler.ListSessions)
				rest.Get("/chat/sessions/{sessionID}", chatHandler.GetSession)
				rest.Post("/chat/sessions/{sessionID}/export", chatHandler.Export)
				rest.Get("/chat/sessions/{sessionID}/export", chatHandler.DownloadExport)
				rest.Post("/chat/responses/{responseID}/cancel", chatHandler.CancelResponse)
				rest.Get("/chat/search", chatHandler.Search)
			})
		})
	})

	return r
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	logrus.WithField("addr", s.httpServer.Addr).Info("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logrus.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
