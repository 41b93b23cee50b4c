// mockbackend is a stand-in for a downstream service used when exercising
// the gateway locally. It serves a small JSON resource under /<resource>,
// a /health endpoint, and an /admin/fail switch that makes resource
// requests fail on demand.
//
// Usage:
//
//	go run ./scripts/mockbackend -port 3000 -name user-service -resource users
//	curl -X POST 'localhost:3000/admin/fail?status=500'
//	curl -X DELETE localhost:3000/admin/fail
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/angeloszaimis/api-gateway/pkg/logger"
)

type item struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type failure struct {
	status int
	rate   float64
}

type mockService struct {
	name    string
	latency time.Duration
	log     *slog.Logger

	mu    sync.RWMutex
	items []item

	// failing holds *failure; nil means healthy.
	failing atomic.Pointer[failure]
}

func (m *mockService) shouldFail() (int, bool) {
	f := m.failing.Load()
	if f == nil {
		return 0, false
	}
	if f.rate < 1 && rand.Float64() >= f.rate {
		return 0, false
	}
	return f.status, true
}

func (m *mockService) resource(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.latency > 0 {
			time.Sleep(m.latency)
		}
		if status, ok := m.shouldFail(); ok {
			m.log.Warn("Injected failure", slog.String("path", r.URL.Path), slog.Int("status", status))
			writeJSON(w, status, map[string]string{"error": "injected failure", "service": m.name})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *mockService) list(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]any{"service": m.name, "items": m.items})
}

func (m *mockService) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, it := range m.items {
		if it.ID == id {
			writeJSON(w, http.StatusOK, it)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found", "id": id})
}

func (m *mockService) create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	it := item{ID: uuid.NewString(), Name: req.Name, CreatedAt: time.Now().UTC()}

	m.mu.Lock()
	m.items = append(m.items, it)
	m.mu.Unlock()

	writeJSON(w, http.StatusCreated, it)
}

func (m *mockService) startFailing(w http.ResponseWriter, r *http.Request) {
	f := &failure{status: http.StatusInternalServerError, rate: 1}
	if s := r.URL.Query().Get("status"); s != "" {
		status, err := strconv.Atoi(s)
		if err != nil || status < 400 || status > 599 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status must be 4xx or 5xx"})
			return
		}
		f.status = status
	}
	if s := r.URL.Query().Get("rate"); s != "" {
		rate, err := strconv.ParseFloat(s, 64)
		if err != nil || rate <= 0 || rate > 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "rate must be in (0, 1]"})
			return
		}
		f.rate = rate
	}

	m.failing.Store(f)
	m.log.Info("Failure injection enabled", slog.Int("status", f.status), slog.Float64("rate", f.rate))
	writeJSON(w, http.StatusOK, map[string]any{"failing": true, "status": f.status, "rate": f.rate})
}

func (m *mockService) stopFailing(w http.ResponseWriter, r *http.Request) {
	m.failing.Store(nil)
	m.log.Info("Failure injection disabled")
	writeJSON(w, http.StatusOK, map[string]bool{"failing": false})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func main() {
	var (
		port     = flag.Int("port", 3000, "port to listen on")
		name     = flag.String("name", "user-service", "service name reported in responses")
		resource = flag.String("resource", "users", "resource path served by this backend")
		latency  = flag.Duration("latency", 0, "artificial latency per resource request")
		failRate = flag.Float64("fail-rate", 0, "start failing this fraction of resource requests")
	)
	flag.Parse()

	m := &mockService{
		name:    *name,
		latency: *latency,
		log:     logger.New("debug", false, "dev").With(slog.String("service", *name)),
		items: []item{
			{ID: uuid.NewString(), Name: "alpha", CreatedAt: time.Now().UTC()},
			{ID: uuid.NewString(), Name: "beta", CreatedAt: time.Now().UTC()},
		},
	}
	if *failRate > 0 {
		m.failing.Store(&failure{status: http.StatusInternalServerError, rate: min(*failRate, 1)})
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": m.name})
	})
	r.Route("/admin/fail", func(r chi.Router) {
		r.Post("/", m.startFailing)
		r.Delete("/", m.stopFailing)
	})
	r.Route("/"+*resource, func(r chi.Router) {
		r.Use(m.resource)
		r.Get("/", m.list)
		r.Post("/", m.create)
		r.Get("/{id}", m.get)
	})

	addr := fmt.Sprintf(":%d", *port)
	m.log.Info("Mock backend listening", slog.String("addr", addr), slog.String("resource", "/"+*resource))
	if err := http.ListenAndServe(addr, r); err != nil {
		m.log.Error("Server failed", slog.Any("err", err))
		os.Exit(1)
	}
}
