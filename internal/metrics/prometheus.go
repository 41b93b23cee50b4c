package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angeloszaimis/api-gateway/internal/circuitbreaker"
)

// CircuitSource reports the current state of every breaker.
type CircuitSource interface {
	Stats() map[string]circuitbreaker.State
}

// Prometheus owns a private registry with the gateway's series. Labels are
// limited to service names and status codes to keep cardinality bounded.
type Prometheus struct {
	reg          *prometheus.Registry
	handler      http.Handler
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	circuitState *prometheus.GaugeVec
	rejections   *prometheus.CounterVec
	healthy      *prometheus.GaugeVec
	probeDur     *prometheus.HistogramVec
	rateLimited  prometheus.Counter
	panics       prometheus.Counter
}

func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	p := &Prometheus{
		reg: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Proxied requests by service, backend status code and outcome",
		}, []string{"service", "code", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Backend call latency by service",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"service"}),
		circuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_circuit_state",
			Help: "Circuit breaker state by service (0 closed, 1 open, 2 half-open)",
		}, []string{"service"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_circuit_rejections_total",
			Help: "Requests rejected by an open circuit",
		}, []string{"service"}),
		healthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_service_healthy",
			Help: "Whether the last health probe succeeded (1) or not (0)",
		}, []string{"service"}),
		probeDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_probe_duration_seconds",
			Help:    "Health probe latency by service",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"service"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_requests_rate_limited_total",
			Help: "Requests rejected by the per-client rate limiter",
		}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_http_panic_total",
			Help: "Recovered handler panics",
		}),
	}

	reg.MustRegister(
		p.requests,
		p.duration,
		p.circuitState,
		p.rejections,
		p.healthy,
		p.probeDur,
		p.rateLimited,
		p.panics,
	)

	p.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	return p
}

// Registry exposes the underlying registry, mainly for tests.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.reg
}

func (p *Prometheus) Handler() http.Handler {
	return p.handler
}

// HandlerWithCircuits refreshes gateway_circuit_state from src before every
// scrape, so breakers that changed without an event still report correctly.
func (p *Prometheus) HandlerWithCircuits(src CircuitSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for name, state := range src.Stats() {
			p.circuitState.WithLabelValues(name).Set(float64(state))
		}
		p.handler.ServeHTTP(w, r)
	})
}

// Observe mirrors one collector event.
func (p *Prometheus) Observe(event MetricEvent) {
	switch event.Type {
	case EventResponseCompleted:
		code := "none"
		if event.StatusCode > 0 {
			code = strconv.Itoa(event.StatusCode)
		}
		p.requests.WithLabelValues(event.Service, code, event.Outcome).Inc()
		p.duration.WithLabelValues(event.Service).Observe(event.Duration.Seconds())

	case EventCircuitRejected:
		p.rejections.WithLabelValues(event.Service).Inc()

	case EventCircuitStateChanged:
		p.circuitState.WithLabelValues(event.Service).Set(float64(event.State))

	case EventProbeCompleted:
		p.probeDur.WithLabelValues(event.Service).Observe(event.Duration.Seconds())
		p.healthy.WithLabelValues(event.Service).Set(boolToFloat(event.Healthy))

	case EventHealthChanged:
		p.healthy.WithLabelValues(event.Service).Set(boolToFloat(event.Healthy))
	}
}

// IncRateLimited is called for every request the rate limiter denies.
func (p *Prometheus) IncRateLimited() {
	p.rateLimited.Inc()
}

// IncPanic is called for every recovered handler panic.
func (p *Prometheus) IncPanic() {
	p.panics.Inc()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
