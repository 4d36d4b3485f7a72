package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/wakegate/internal/httpserver/deps"
	"github.com/MrSnakeDoc/wakegate/internal/logger"
	"github.com/MrSnakeDoc/wakegate/internal/render"
)

// TemplateHeader names the template a preview was rendered with.
const TemplateHeader = "X-Wakegate-Template"

// Preview renders <name>.html, or the default page for name, without waking anything.
func Preview(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")

		page := render.Page{ServiceName: name, Message: "Preview of the waking page"}
		if svc, ok := d.Registry.Get(name); ok {
			page.ServiceURL = svc.URL()
		}

		// Tells operators whether <name>.html exists or the default page is shown.
		tmpl := render.DefaultTemplate
		if d.Renderer.Has(name) {
			tmpl = name
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set(TemplateHeader, tmpl)
		if err := d.Renderer.Render(w, name, page); err != nil {
			if errors.Is(err, render.ErrInvalidName) {
				http.Error(w, "invalid template name", http.StatusBadRequest)
				return
			}
			d.Logger.Error("failed to render preview",
				logger.String("template", name),
				logger.Error(err))
			http.Error(w, "Internal error", http.StatusInternalServerError)
		}
	}
}
