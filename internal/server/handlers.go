package server

import (
	"encoding/json"
	"net/http"

	"github.com/joshp123/homesafe/internal/core"
)

type pluginHealth struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthHandler reports plugin health. It answers 503 when any plugin is in
// the ERROR state.
func HealthHandler(plugins []core.Plugin) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		code := http.StatusOK
		out := struct {
			Status  string         `json:"status"`
			Plugins []pluginHealth `json:"plugins"`
		}{Status: "ok", Plugins: make([]pluginHealth, 0, len(plugins))}

		for _, p := range plugins {
			health := p.Health()
			if health == core.HealthError {
				code = http.StatusServiceUnavailable
				out.Status = "error"
			}
			out.Plugins = append(out.Plugins, pluginHealth{
				ID:      p.ID(),
				Status:  string(health),
				Message: p.HealthMessage(),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(out)
	})
}
