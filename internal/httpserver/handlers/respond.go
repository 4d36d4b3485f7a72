package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
)

type messageResponse struct {
	Message     string `json:"message"`
	ServiceName string `json:"service_name,omitempty"`
	ServiceURL  string `json:"service_url,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// wantsHTML reports whether the client accepts text/html (browsers do, API clients mostly don't).
func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
