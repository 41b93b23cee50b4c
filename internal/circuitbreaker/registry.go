package circuitbreaker

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/angeloszaimis/api-gateway/config"
	"github.com/angeloszaimis/api-gateway/internal/backend"
)

// Settings configures every breaker in a Registry.
type Settings struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	FailureMode      string
	HalfOpenPolicy   string
}

func DefaultSettings() Settings {
	return Settings{
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
		FailureMode:      config.FailureModeStatus,
		HalfOpenPolicy:   config.HalfOpenAll,
	}
}

func SettingsFromConfig(cfg config.CircuitBreakerConfig) Settings {
	return Settings{
		FailureThreshold: cfg.FailureThreshold,
		ResetTimeout:     cfg.ResetTimeoutDuration(),
		FailureMode:      cfg.FailureMode,
		HalfOpenPolicy:   cfg.HalfOpenPolicy,
	}
}

// Decision is the result of an admission check.
type Decision struct {
	Allowed bool
	// RetryAfter is the advised wait in whole seconds when not allowed.
	RetryAfter int
}

// Observer is told about every state change.
type Observer interface {
	CircuitStateChanged(service string, from, to State)
}

// HealthSource supplies the informational health flag in snapshots.
type HealthSource interface {
	IsHealthy(name string) bool
}

// Status is the reported view of one breaker.
type Status struct {
	State        State   `json:"state"`
	FailureCount int     `json:"failureCount"`
	LastFailure  *string `json:"lastFailure"`
	IsHealthy    bool    `json:"isHealthy"`
}

type Option func(*Registry)

func WithObserver(o Observer) Option {
	return func(r *Registry) {
		r.observer = o
	}
}

// WithClock replaces time.Now for every breaker the registry creates.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

type Registry struct {
	mutex    sync.RWMutex
	breakers map[string]*CircuitBreaker
	known    map[string]struct{}
	settings Settings
	now      func() time.Time
	observer Observer
	logger   *slog.Logger
}

// NewRegistry creates a registry that only ever tracks the given service
// names. Breakers are created on first use.
func NewRegistry(names []string, settings Settings, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		breakers: make(map[string]*CircuitBreaker, len(names)),
		known:    make(map[string]struct{}, len(names)),
		settings: settings,
		now:      time.Now,
		logger:   logger,
	}
	for _, name := range names {
		r.known[name] = struct{}{}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Breaker returns the breaker for name, creating it if needed. It returns nil
// for names outside the registry.
func (r *Registry) Breaker(name string) *CircuitBreaker {
	if _, ok := r.known[name]; !ok {
		return nil
	}

	r.mutex.RLock()
	cb, exists := r.breakers[name]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Double-check: another goroutine may have created it
	if cb, exists = r.breakers[name]; exists {
		return cb
	}

	cb = NewCircuitBreaker(
		r.settings.FailureThreshold,
		r.settings.ResetTimeout,
		r.settings.HalfOpenPolicy == config.HalfOpenSingle,
		r.now,
	)
	r.breakers[name] = cb
	return cb
}

// Admit checks whether a request to name may be forwarded. Unknown names are
// always allowed.
func (r *Registry) Admit(name string) Decision {
	cb := r.Breaker(name)
	if cb == nil {
		return Decision{Allowed: true}
	}

	allowed, t := cb.Allow()
	r.transitioned(name, cb, t)

	if allowed {
		return Decision{Allowed: true}
	}
	return Decision{RetryAfter: r.RetryAfter()}
}

// RetryAfter is the reset timeout rounded up to whole seconds.
func (r *Registry) RetryAfter() int {
	return int(math.Ceil(r.settings.ResetTimeout.Seconds()))
}

// Record feeds a forwarded call's outcome to name's breaker. Outcomes that
// say nothing about the backend only release a HALF_OPEN trial slot.
func (r *Registry) Record(name string, outcome backend.Outcome) {
	cb := r.Breaker(name)
	if cb == nil {
		return
	}

	if !outcome.Recordable() {
		cb.Release()
		return
	}

	var t Transition
	if Classify(r.settings.FailureMode, outcome) {
		t = cb.RecordFailure()
	} else {
		t = cb.RecordSuccess()
	}
	r.transitioned(name, cb, t)
}

// Release frees name's HALF_OPEN trial slot without recording an outcome.
func (r *Registry) Release(name string) {
	if cb := r.Breaker(name); cb != nil {
		cb.Release()
	}
}

func (r *Registry) transitioned(name string, cb *CircuitBreaker, t Transition) {
	if !t.Changed() {
		return
	}

	if t.To == StateOpen {
		r.logger.Warn("Circuit opened",
			slog.String("service", name),
			slog.String("from", t.From.String()),
			slog.Int("failures", cb.Failures()))
	} else {
		r.logger.Info("Circuit state changed",
			slog.String("service", name),
			slog.String("from", t.From.String()),
			slog.String("to", t.To.String()))
	}

	if r.observer != nil {
		r.observer.CircuitStateChanged(name, t.From, t.To)
	}
}

// Snapshot reports every breaker created so far.
func (r *Registry) Snapshot(health HealthSource) map[string]Status {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	out := make(map[string]Status, len(r.breakers))
	for name, cb := range r.breakers {
		state, failures, last := cb.snapshot()

		status := Status{
			State:        state,
			FailureCount: failures,
		}
		if !last.IsZero() {
			ts := last.UTC().Format(time.RFC3339)
			status.LastFailure = &ts
		}
		if health != nil {
			status.IsHealthy = health.IsHealthy(name)
		}
		out[name] = status
	}
	return out
}

// Stats returns the state of every breaker created so far.
func (r *Registry) Stats() map[string]State {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := make(map[string]State, len(r.breakers))
	for name, cb := range r.breakers {
		stats[name] = cb.State()
	}
	return stats
}

// Classify reports whether outcome counts as a failure under mode. In
// network mode only transport-level failures count; otherwise any 5xx
// response counts too.
func Classify(mode string, outcome backend.Outcome) bool {
	if outcome.NetworkFailure() {
		return true
	}
	if outcome.Kind != backend.OutcomeResponse || mode == config.FailureModeNetwork {
		return false
	}
	return outcome.StatusCode >= 500
}
