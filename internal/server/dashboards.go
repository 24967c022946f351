package server

import (
	"encoding/json"
	"net/http"

	"github.com/joshp123/homesafe/internal/core"
)

// DashboardsHandler serves dashboard JSON from an in-memory map. The
// /dashboards/ root lists the available paths.
func DashboardsHandler(dashboards map[string][]byte) http.Handler {
	index, _ := json.Marshal(map[string]any{"dashboards": core.DashboardPaths(dashboards)})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		data, ok := dashboards[r.URL.Path]
		if !ok && r.URL.Path == "/dashboards/" {
			data, ok = index, true
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	})
}
