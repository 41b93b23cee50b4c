package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/angeloszaimis/api-gateway/internal/registry"
)

const DefaultTimeout = 5 * time.Second

var (
	ErrAlreadyRunning  = errors.New("healthcheck: already running")
	ErrInvalidInterval = errors.New("healthcheck: interval must be positive")
)

type Option func(*Checker)

func WithTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithObserver(o Observer) Option {
	return func(c *Checker) {
		c.observer = o
	}
}

// WithClient replaces the probe client. Its own Timeout is ignored in favour
// of the per-probe timeout.
func WithClient(client *http.Client) Option {
	return func(c *Checker) {
		c.client = client
	}
}

type Checker struct {
	services []registry.Service
	client   *http.Client
	timeout  time.Duration
	observer Observer
	logger   *slog.Logger

	mu        sync.RWMutex
	snapshots map[string]Snapshot

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a checker that reports every service as unhealthy until its
// first probe completes.
func New(reg *registry.Registry, logger *slog.Logger, opts ...Option) *Checker {
	c := &Checker{
		services: reg.Services(),
		timeout:  DefaultTimeout,
		logger:   logger,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		snapshots: make(map[string]Snapshot, reg.Len()),
	}

	for _, opt := range opts {
		opt(c)
	}

	for _, svc := range c.services {
		c.snapshots[svc.Name] = Snapshot{
			Service: svc.Name,
			Status:  StatusUnhealthy,
			URL:     svc.URL(),
		}
	}

	return c
}

// ProbeOne checks a single service and stores the result. A probe cut short
// by ctx rather than by the probe timeout is returned but not stored, since
// it says nothing about the service.
func (c *Checker) ProbeOne(ctx context.Context, svc registry.Service) Snapshot {
	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	status, err := c.probe(probeCtx, svc.HealthURL())
	elapsed := time.Since(start)

	snap := Snapshot{
		Service:        svc.Name,
		Status:         StatusUnhealthy,
		URL:            svc.URL(),
		ResponseTimeMs: elapsed.Milliseconds(),
		CheckedAt:      start.UTC(),
	}

	switch {
	case err != nil:
		snap.Error = err.Error()
	case status < http.StatusBadRequest:
		snap.Status = StatusHealthy
	default:
		snap.Error = fmt.Sprintf("health endpoint returned %d", status)
	}

	if ctx.Err() != nil {
		c.logger.Debug("Health check interrupted",
			slog.String("service", svc.Name),
			slog.String("error", ctx.Err().Error()))
		return snap
	}

	changed := c.store(snap)
	c.logTransition(snap, changed)

	if c.observer != nil {
		c.observer.ProbeCompleted(snap, elapsed, changed)
	}

	return snap
}

func (c *Checker) probe(ctx context.Context, healthURL string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build probe request: %w", err)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))

	return res.StatusCode, nil
}

func (c *Checker) store(snap Snapshot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.snapshots[snap.Service]
	c.snapshots[snap.Service] = snap

	// The initial placeholder is unhealthy, so the first healthy probe counts
	// as a transition but a first failure does not.
	return prev.Status != snap.Status
}

func (c *Checker) logTransition(snap Snapshot, changed bool) {
	if !changed {
		if !snap.Healthy() {
			c.logger.Debug("Service still unhealthy",
				slog.String("service", snap.Service),
				slog.String("error", snap.Error))
		}
		return
	}

	if snap.Healthy() {
		c.logger.Info("Service is back up",
			slog.String("service", snap.Service),
			slog.String("url", snap.URL),
			slog.Int64("response_time_ms", snap.ResponseTimeMs))
		return
	}

	c.logger.Warn("Service is down",
		slog.String("service", snap.Service),
		slog.String("url", snap.URL),
		slog.String("error", snap.Error))
}

// ProbeAll probes every service concurrently and returns the results in
// registration order.
func (c *Checker) ProbeAll(ctx context.Context) []Snapshot {
	results := make([]Snapshot, len(c.services))

	var wg sync.WaitGroup
	for i, svc := range c.services {
		wg.Add(1)
		go func(i int, svc registry.Service) {
			defer wg.Done()
			results[i] = c.ProbeOne(ctx, svc)
		}(i, svc)
	}
	wg.Wait()

	return results
}

func (c *Checker) IsHealthy(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshots[name].Healthy()
}

func (c *Checker) Get(name string) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.snapshots[name]
	return snap, ok
}

// Snapshots returns the cached results in registration order.
func (c *Checker) Snapshots() []Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Snapshot, 0, len(c.services))
	for _, svc := range c.services {
		out = append(out, c.snapshots[svc.Name])
	}
	return out
}

// Start runs one probe cycle immediately and then one per interval until Stop
// is called or ctx is cancelled.
func (c *Checker) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}

	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.cancel != nil {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.run(loopCtx, interval, c.done)

	c.logger.Info("Health checks started",
		slog.Int("services", len(c.services)),
		slog.Duration("interval", interval))

	return nil
}

func (c *Checker) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	c.ProbeAll(ctx)

	// time.Ticker drops ticks while a cycle is still running, so cycles
	// never overlap.
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Health checks stopped")
			return
		case <-ticker.C:
			c.ProbeAll(ctx)
			c.logger.Debug("Health check cycle completed")
		}
	}
}

// Stop cancels the loop and waits for the in-flight cycle to finish. It is
// safe to call more than once.
func (c *Checker) Stop() {
	c.runMu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.runMu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
}
