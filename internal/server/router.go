package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"projectchat/internal/middleware"
	"projectchat/internal/user"
)

// NewRouter assembles the full HTTP surface: public auth routes and the
// JWT-protected chat routes. Shared by cmd/server and the integration tests.
func NewRouter(userHandler *user.Handler, auth *middleware.AuthMiddleware, chatHandler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)

	// Protected routes (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(auth.Handle)
		r.Get("/ws", chatHandler.ServeWs)
		r.Get("/api/rooms/{roomID}/messages", chatHandler.GetRoomHistory)
	})

	return r
}
