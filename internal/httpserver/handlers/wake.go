package handlers

import (
	"bytes"
	"math"
	"net/http"
	"strconv"

	"github.com/MrSnakeDoc/wakegate/internal/dispatch"
	"github.com/MrSnakeDoc/wakegate/internal/httpserver/deps"
	"github.com/MrSnakeDoc/wakegate/internal/logger"
	"github.com/MrSnakeDoc/wakegate/internal/render"
	"github.com/MrSnakeDoc/wakegate/internal/utils"
)

// Wake is the catch-all handler: every request that is not an internal route
// is resolved by hostname and answered with a redirect, a wait page or an error.
func Wake(d deps.Deps) http.HandlerFunc {
	retryAfter := int(math.Ceil(d.RetryAfter.Seconds()))

	return func(w http.ResponseWriter, r *http.Request) {
		dir := d.Dispatcher.Dispatch(r.Context(), dispatch.Inbound{
			Host:     utils.RequestHost(r, d.TrustProxy),
			Path:     r.URL.Path,
			Method:   r.Method,
			ClientIP: utils.ClientIP(r, d.TrustProxy),
		})

		switch dir.Kind {
		case dispatch.KindRedirect:
			w.Header().Set("Cache-Control", "no-store")
			http.Redirect(w, r, dir.Location, dir.Status)

		case dispatch.KindNotFound:
			writeJSON(w, dir.Status, messageResponse{Message: dir.Message})

		case dispatch.KindWaitPage:
			if retryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			}
			respond(w, r, d, dir, retryAfter)

		default:
			respond(w, r, d, dir, 0)
		}
	}
}

// respond writes the service page for browsers and a JSON body for everything else.
func respond(w http.ResponseWriter, r *http.Request, d deps.Deps, dir dispatch.Directive, refresh int) {
	svc := dir.Service

	if !wantsHTML(r) {
		writeJSON(w, dir.Status, messageResponse{
			Message:     dir.Message,
			ServiceName: svc.ID,
			ServiceURL:  svc.URL(),
		})
		return
	}

	var buf bytes.Buffer
	err := d.Renderer.Render(&buf, svc.ID, render.Page{
		ServiceName: svc.ID,
		ServiceURL:  svc.URL(),
		Message:     dir.Message,
		State:       dir.Decision.State.String(),
		RetryAfter:  refresh,
	})
	if err != nil {
		d.Logger.Error("failed to render page",
			logger.String("service", svc.ID),
			logger.Error(err))
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(dir.Status)
	_, _ = buf.WriteTo(w)
}
