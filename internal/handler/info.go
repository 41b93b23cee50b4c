package handler

import (
	"net/http"
	"time"

	"github.com/angeloszaimis/api-gateway/internal/httpjson"
	"github.com/angeloszaimis/api-gateway/internal/registry"
)

const (
	GatewayName    = "API Gateway"
	GatewayVersion = "1.0.0"
)

var gatewayEndpoints = Endpoints{
	Health:        "/health",
	Info:          "/gateway/info",
	Monitoring:    "/monitoring/dashboard",
	ServiceHealth: "/health/services",
	Circuits:      "/health/circuits",
}

type Endpoints struct {
	Health        string `json:"health"`
	Info          string `json:"info"`
	Monitoring    string `json:"monitoring"`
	ServiceHealth string `json:"serviceHealth"`
	Circuits      string `json:"circuits"`
}

type serviceSummary struct {
	Name   string `json:"name"`
	Prefix string `json:"prefix"`
	URL    string `json:"url"`
}

type HealthResponse struct {
	Status      string           `json:"status"`
	Timestamp   time.Time        `json:"timestamp"`
	Environment string           `json:"environment"`
	Services    []serviceSummary `json:"services"`
}

type serviceInfo struct {
	Name        string `json:"name"`
	Prefix      string `json:"prefix"`
	HealthCheck string `json:"healthCheck"`
}

type InfoResponse struct {
	Name        string        `json:"name"`
	Version     string        `json:"version"`
	Environment string        `json:"environment"`
	Services    []serviceInfo `json:"services"`
	Endpoints   Endpoints     `json:"endpoints"`
}

type RouteNotFoundResponse struct {
	Error           string   `json:"error"`
	Path            string   `json:"path"`
	Message         string   `json:"message"`
	AvailableRoutes []string `json:"availableRoutes"`
}

// InfoHandler serves the gateway's own liveness and discovery endpoints.
type InfoHandler struct {
	registry    *registry.Registry
	environment string
}

func NewInfoHandler(reg *registry.Registry, environment string) *InfoHandler {
	return &InfoHandler{registry: reg, environment: environment}
}

// Health reports gateway liveness. It never contacts a backend.
func (h *InfoHandler) Health(w http.ResponseWriter, r *http.Request) {
	services := h.registry.Services()
	summaries := make([]serviceSummary, 0, len(services))
	for _, svc := range services {
		summaries = append(summaries, serviceSummary{Name: svc.Name, Prefix: svc.Prefix, URL: svc.URL()})
	}

	httpjson.Write(w, http.StatusOK, HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now().UTC(),
		Environment: h.environment,
		Services:    summaries,
	})
}

func (h *InfoHandler) GatewayInfo(w http.ResponseWriter, r *http.Request) {
	services := h.registry.Services()
	infos := make([]serviceInfo, 0, len(services))
	for _, svc := range services {
		infos = append(infos, serviceInfo{Name: svc.Name, Prefix: svc.Prefix, HealthCheck: svc.HealthURL()})
	}

	httpjson.Write(w, http.StatusOK, InfoResponse{
		Name:        GatewayName,
		Version:     GatewayVersion,
		Environment: h.environment,
		Services:    infos,
		Endpoints:   gatewayEndpoints,
	})
}

// NotFound answers any path outside the gateway's routes.
func (h *InfoHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	routes := []string{
		gatewayEndpoints.Health,
		gatewayEndpoints.Info,
		gatewayEndpoints.Monitoring,
		gatewayEndpoints.ServiceHealth,
		gatewayEndpoints.Circuits,
	}
	routes = append(routes, h.registry.Prefixes()...)

	httpjson.Write(w, http.StatusNotFound, RouteNotFoundResponse{
		Error:           "Route not found",
		Path:            r.URL.RequestURI(),
		Message:         "The requested endpoint does not exist",
		AvailableRoutes: routes,
	})
}
