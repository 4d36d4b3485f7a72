package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/wakegate/internal/httpserver/deps"
	"github.com/MrSnakeDoc/wakegate/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/wakegate/internal/httpserver/mw"
)

func init() { Register(registerStatus) }

func registerStatus(r chi.Router, d deps.Deps) {
	r.With(
		mw.EnforceHost(d.AdminHosts, d.TrustProxy, d.Logger),
		mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger),
	).Get("/_wakegate/status", handlers.Status(d))
}
