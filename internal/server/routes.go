// Package server wires HTTP handlers into a ServeMux for the geoshare
// application via routing helpers.
package server

import (
	"net/http"

	"github.com/rs/cors"

	"github.com/Tyrowin/geoshare/internal/metrics"
)

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
// prom may be nil, in which case no metrics endpoint is mounted.
func SetupRoutes(hub *Hub, cfg *Config, app *metrics.AppMetrics, prom *metrics.Metrics) *http.ServeMux {
	sessionsCORS := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet},
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.Handle("/ws", NewWebSocketHandler(hub, cfg, app))
	mux.Handle("/api/sessions", sessionsCORS.Handler(SessionsHandler(hub)))
	mux.HandleFunc("/test", TestPageHandler)
	if prom != nil {
		mux.Handle(prom.Endpoint, prom.Handler())
	}
	return mux
}
