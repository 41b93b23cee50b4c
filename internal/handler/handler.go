package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/angeloszaimis/api-gateway/internal/backend"
	"github.com/angeloszaimis/api-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/api-gateway/internal/httpjson"
	"github.com/angeloszaimis/api-gateway/internal/metrics"
	"github.com/angeloszaimis/api-gateway/internal/proxy"
	"github.com/angeloszaimis/api-gateway/internal/registry"
)

const CodeCircuitOpen = "CIRCUIT_BREAKER_OPEN"

// Forwarder sends a resolved request to its service.
type Forwarder interface {
	Forward(w http.ResponseWriter, r *http.Request, svc registry.Service) backend.Outcome
}

type GatewayHandler struct {
	logger           *slog.Logger
	registry         *registry.Registry
	breakers         *circuitbreaker.Registry
	forwarder        Forwarder
	metricsCollector *metrics.Collector
}

// NewGatewayHandler wires the front controller. collector may be nil.
func NewGatewayHandler(
	logger *slog.Logger,
	reg *registry.Registry,
	breakers *circuitbreaker.Registry,
	forwarder Forwarder,
	collector *metrics.Collector,
) *GatewayHandler {
	return &GatewayHandler{
		logger:           logger,
		registry:         reg,
		breakers:         breakers,
		forwarder:        forwarder,
		metricsCollector: collector,
	}
}

func (h *GatewayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.registry.Resolve(r.URL.Path)
	if !ok {
		proxy.NotFound(w, r, h.registry)
		return
	}

	decision := h.breakers.Admit(svc.Name)
	if !decision.Allowed {
		h.reject(w, r, svc, decision)
		return
	}

	h.emitEvent(metrics.MetricEvent{
		Type:    metrics.EventRequestProxied,
		Service: svc.Name,
	})

	outcome := h.forwarder.Forward(w, r, svc)
	h.breakers.Record(svc.Name, outcome)

	h.emitEvent(metrics.MetricEvent{
		Type:       metrics.EventResponseCompleted,
		Service:    svc.Name,
		Duration:   outcome.Duration,
		StatusCode: outcome.StatusCode,
		Outcome:    outcome.Kind.String(),
	})
}

func (h *GatewayHandler) reject(w http.ResponseWriter, r *http.Request, svc registry.Service, decision circuitbreaker.Decision) {
	h.logger.Warn("Circuit open, rejecting request",
		slog.String("service", svc.Name),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("retry_after", decision.RetryAfter))

	h.emitEvent(metrics.MetricEvent{
		Type:    metrics.EventCircuitRejected,
		Service: svc.Name,
	})

	w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))
	httpjson.Write(w, http.StatusServiceUnavailable, httpjson.ErrorBody{
		Error:      "Service temporarily unavailable",
		Message:    fmt.Sprintf("%s is currently unavailable due to repeated failures", svc.Name),
		Code:       CodeCircuitOpen,
		RetryAfter: decision.RetryAfter,
	})
}

func (h *GatewayHandler) emitEvent(event metrics.MetricEvent) {
	if h.metricsCollector == nil {
		return
	}
	event.Timestamp = time.Now()
	h.metricsCollector.Emit(event)
}
