package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/wakegate/internal/httpserver/deps"
	"github.com/MrSnakeDoc/wakegate/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/wakegate/internal/httpserver/mw"
)

func init() { Register(registerWake) }

// registerWake mounts the catch-all for every method. Any path that is not an
// internal route belongs to a proxied service.
func registerWake(r chi.Router, d deps.Deps) {
	h := handlers.Wake(d)
	sub := r.With(mw.RateLimit(d.RateLimit))
	sub.Handle("/", h)
	sub.Handle("/*", h)
}
