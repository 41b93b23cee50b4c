package backend

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/angeloszaimis/api-gateway/internal/registry"
)

const (
	DefaultRequestTimeout = 30 * time.Second
	ewmaAlpha             = 0.2
)

// Backend is the outbound client for one registered service.
type Backend struct {
	service registry.Service
	client  *http.Client

	mutex             sync.Mutex
	activeConnections int
	ewmaResponseTime  time.Duration
	hasEWMA           bool
}

type Option func(*Backend)

// WithTransport replaces the base round tripper. It is still wrapped for
// tracing.
func WithTransport(rt http.RoundTripper) Option {
	return func(b *Backend) {
		b.client.Transport = otelhttp.NewTransport(rt)
	}
}

// New creates a Backend whose calls are bounded by timeout. Redirects are
// returned to the caller rather than followed.
func New(svc registry.Service, timeout time.Duration, opts ...Option) *Backend {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	b := &Backend{
		service: svc,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

func (b *Backend) Name() string {
	return b.service.Name
}

func (b *Backend) Service() registry.Service {
	return b.service
}

// URL returns the backend base URL.
func (b *Backend) URL() *url.URL {
	return b.service.BaseURL
}

// Do sends req and classifies the result. On OutcomeResponse the caller owns
// the response body.
func (b *Backend) Do(req *http.Request) (*http.Response, Outcome) {
	start := time.Now()
	res, err := b.client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		return nil, Failed(err, elapsed)
	}

	b.RecordResponse(elapsed)
	return res, Response(res.StatusCode, elapsed)
}

// NewRequest builds an outbound request detached from the caller's
// cancellation so a disconnecting client does not abort the backend call.
func NewRequest(ctx context.Context, method string, target *url.URL, body io.Reader) (*http.Request, error) {
	return http.NewRequestWithContext(context.WithoutCancel(ctx), method, target.String(), body)
}

// IncrementConn increments the in-flight request count.
func (b *Backend) IncrementConn() {
	b.mutex.Lock()
	b.activeConnections++
	b.mutex.Unlock()
}

// DecrementConn decrements the in-flight request count.
func (b *Backend) DecrementConn() {
	b.mutex.Lock()
	if b.activeConnections > 0 {
		b.activeConnections--
	}
	b.mutex.Unlock()
}

func (b *Backend) ActiveConnections() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.activeConnections
}

// RecordResponse folds a response time into the moving average.
func (b *Backend) RecordResponse(duration time.Duration) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.hasEWMA {
		b.ewmaResponseTime = duration
		b.hasEWMA = true
		return
	}
	// ewma = (1 - α) * ewma + α * latest
	b.ewmaResponseTime = time.Duration((1-ewmaAlpha)*float64(b.ewmaResponseTime) + ewmaAlpha*float64(duration))
}

// EWMATime returns 0 until a response has been recorded.
func (b *Backend) EWMATime() time.Duration {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.hasEWMA {
		return 0
	}
	return b.ewmaResponseTime
}

// Pool holds one Backend per registered service.
type Pool struct {
	order    []string
	backends map[string]*Backend
}

func NewPool(reg *registry.Registry, timeout time.Duration, opts ...Option) *Pool {
	p := &Pool{
		order:    reg.Names(),
		backends: make(map[string]*Backend, reg.Len()),
	}
	for _, svc := range reg.Services() {
		p.backends[svc.Name] = New(svc, timeout, opts...)
	}
	return p
}

func (p *Pool) Get(name string) (*Backend, bool) {
	b, ok := p.backends[name]
	return b, ok
}

// All returns the backends in registration order.
func (p *Pool) All() []*Backend {
	out := make([]*Backend, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, p.backends[name])
	}
	return out
}
