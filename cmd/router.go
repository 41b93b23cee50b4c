package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/angeloszaimis/api-gateway/internal/httpmw"
	"github.com/angeloszaimis/api-gateway/internal/tracing"
)

const maxBodyBytes = 10 << 20

func setupRouter(gw *gateway) http.Handler {
	r := chi.NewRouter()

	r.Use(httpmw.Recover(gw.logger, !gw.cfg.IsProduction(), gw.prom.IncPanic))
	r.Use(httpmw.SecurityHeaders)
	r.Use(httpmw.RequestID)
	r.Use(httpmw.RealIP(gw.cfg.Server.TrustedPrefixes()))
	r.Use(tracing.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   gw.cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{httpmw.RequestIDHeader, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if gw.limiter != nil {
		r.Use(gw.limiter.Middleware)
	}
	r.Use(httpmw.AccessLog(gw.logger))
	r.Use(httpmw.MaxBody(maxBodyBytes))
	r.Use(middleware.Compress(5))

	r.Get("/health", gw.info.Health)
	r.Get("/gateway/info", gw.info.GatewayInfo)
	r.Get("/health/services", gw.monitor.ServicesHealthHandler(gw.logger))
	r.Get("/health/circuits", gw.monitor.CircuitsHandler())
	r.Get("/monitoring/dashboard", gw.monitor.DashboardHandler(gw.logger))
	r.Get("/monitoring/traffic", gw.collector.Handler(gw.pool))
	r.Method(http.MethodGet, "/metrics", gw.prom.HandlerWithCircuits(gw.breakers))

	r.Handle("/api", gw.handler)
	r.Handle("/api/*", gw.handler)

	r.NotFound(gw.info.NotFound)
	r.MethodNotAllowed(gw.info.NotFound)

	return r
}
