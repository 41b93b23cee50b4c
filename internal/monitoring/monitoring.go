package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/angeloszaimis/api-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/api-gateway/internal/healthcheck"
)

const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Prober is the part of the health checker the aggregator needs.
type Prober interface {
	ProbeAll(ctx context.Context) []healthcheck.Snapshot
	IsHealthy(name string) bool
}

// Circuits is the part of the breaker registry the aggregator needs.
type Circuits interface {
	Snapshot(health circuitbreaker.HealthSource) map[string]circuitbreaker.Status
}

type ServicesHealthView struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Services  []healthcheck.Snapshot `json:"services"`
}

type CircuitsView struct {
	Timestamp time.Time                        `json:"timestamp"`
	Circuits  map[string]circuitbreaker.Status `json:"circuits"`
}

type Summary struct {
	TotalServices   int `json:"totalServices"`
	HealthyServices int `json:"healthyServices"`
	OpenCircuits    int `json:"openCircuits"`
}

type DashboardView struct {
	Timestamp time.Time                        `json:"timestamp"`
	Services  []healthcheck.Snapshot           `json:"services"`
	Circuits  map[string]circuitbreaker.Status `json:"circuits"`
	Summary   Summary                          `json:"summary"`
}

type Aggregator struct {
	prober   Prober
	circuits Circuits
	now      func() time.Time
}

func New(prober Prober, circuits Circuits) *Aggregator {
	return &Aggregator{
		prober:   prober,
		circuits: circuits,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ServicesHealth probes every service now. The overall status is healthy only
// when every service is.
func (a *Aggregator) ServicesHealth(ctx context.Context) (ServicesHealthView, error) {
	services, err := a.probe(ctx)
	if err != nil {
		return ServicesHealthView{}, err
	}

	status := StatusHealthy
	if healthyCount(services) != len(services) {
		status = StatusDegraded
	}

	return ServicesHealthView{
		Status:    status,
		Timestamp: a.now(),
		Services:  services,
	}, nil
}

func (a *Aggregator) Circuits() CircuitsView {
	return CircuitsView{
		Timestamp: a.now(),
		Circuits:  a.circuits.Snapshot(a.prober),
	}
}

func (a *Aggregator) Dashboard(ctx context.Context) (DashboardView, error) {
	services, err := a.probe(ctx)
	if err != nil {
		return DashboardView{}, err
	}

	circuits := a.circuits.Snapshot(a.prober)

	open := 0
	for _, c := range circuits {
		if c.State == circuitbreaker.StateOpen {
			open++
		}
	}

	return DashboardView{
		Timestamp: a.now(),
		Services:  services,
		Circuits:  circuits,
		Summary: Summary{
			TotalServices:   len(services),
			HealthyServices: healthyCount(services),
			OpenCircuits:    open,
		},
	}, nil
}

func (a *Aggregator) probe(ctx context.Context) ([]healthcheck.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("probe services: %w", err)
	}

	services := a.prober.ProbeAll(ctx)

	// A cancellation mid-probe leaves results that say nothing about the
	// backends, only about the caller.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("probe services: %w", err)
	}
	return services, nil
}

func healthyCount(services []healthcheck.Snapshot) int {
	n := 0
	for _, s := range services {
		if s.Healthy() {
			n++
		}
	}
	return n
}
