package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/angeloszaimis/api-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/api-gateway/internal/healthcheck"
)

type EventType string

const (
	EventRequestProxied      EventType = "request_proxied"
	EventResponseCompleted   EventType = "response_completed"
	EventCircuitRejected     EventType = "circuit_rejected"
	EventHealthChanged       EventType = "health_changed"
	EventProbeCompleted      EventType = "probe_completed"
	EventCircuitStateChanged EventType = "circuit_state_changed"
)

type MetricEvent struct {
	Type       EventType
	Timestamp  time.Time
	Service    string
	Duration   time.Duration
	StatusCode int
	Outcome    string
	Healthy    bool
	State      circuitbreaker.State
}

type Collector struct {
	eventCh  chan MetricEvent
	metrics  *Metrics
	exporter *Prometheus
	logger   *slog.Logger
	done     chan struct{}
}

type Option func(*Collector)

// WithExporter mirrors every processed event into Prometheus series.
func WithExporter(p *Prometheus) Option {
	return func(c *Collector) {
		c.exporter = p
	}
}

func NewCollector(bufferSize int, logger *slog.Logger, opts ...Option) *Collector {
	c := &Collector{
		eventCh: make(chan MetricEvent, bufferSize),
		metrics: NewMetrics(),
		logger:  logger,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Emit queues event without blocking. It reports false when the event was
// dropped.
func (c *Collector) Emit(event MetricEvent) bool {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case c.eventCh <- event:
		return true
	default:
		return false
	}
}

// ProbeCompleted records a health probe result.
func (c *Collector) ProbeCompleted(s healthcheck.Snapshot, d time.Duration, changed bool) {
	c.Emit(MetricEvent{
		Type:     EventProbeCompleted,
		Service:  s.Service,
		Duration: d,
		Healthy:  s.Healthy(),
	})
	if changed {
		c.Emit(MetricEvent{
			Type:    EventHealthChanged,
			Service: s.Service,
			Healthy: s.Healthy(),
		})
	}
}

// CircuitStateChanged records a breaker transition.
func (c *Collector) CircuitStateChanged(service string, _, to circuitbreaker.State) {
	c.Emit(MetricEvent{
		Type:    EventCircuitStateChanged,
		Service: service,
		State:   to,
	})
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

// Done is closed once the collector has drained and stopped.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")
	defer close(c.done)

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventRequestProxied:
		c.metrics.IncrementRequests(event.Service)

	case EventResponseCompleted:
		c.metrics.RecordResponse(event.Service, event.Duration, event.StatusCode, event.Outcome)

	case EventCircuitRejected:
		c.metrics.IncrementRejections(event.Service)

	case EventHealthChanged:
		c.metrics.UpdateHealthStatus(event.Service, event.Healthy)

	case EventProbeCompleted:
		c.metrics.UpdateHealthStatus(event.Service, event.Healthy)

	case EventCircuitStateChanged:
		c.metrics.UpdateCircuitState(event.Service, event.State)
	}

	if c.exporter != nil {
		c.exporter.Observe(event)
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	return c.metrics.Snapshot()
}
