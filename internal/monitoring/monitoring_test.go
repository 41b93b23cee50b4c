package monitoring_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/api-gateway/internal/backend"
	"github.com/angeloszaimis/api-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/api-gateway/internal/healthcheck"
	"github.com/angeloszaimis/api-gateway/internal/monitoring"
	"github.com/angeloszaimis/api-gateway/internal/registry"
	"github.com/angeloszaimis/api-gateway/pkg/logger"
)

type fakeProber struct {
	results []healthcheck.Snapshot
	probes  int
}

func (f *fakeProber) ProbeAll(context.Context) []healthcheck.Snapshot {
	f.probes++
	return f.results
}

func (f *fakeProber) IsHealthy(name string) bool {
	for _, r := range f.results {
		if r.Service == name {
			return r.Healthy()
		}
	}
	return false
}

var _ = Describe("Aggregator", func() {
	var (
		prober   *fakeProber
		breakers *circuitbreaker.Registry
		agg      *monitoring.Aggregator
	)

	BeforeEach(func() {
		prober = &fakeProber{results: []healthcheck.Snapshot{
			{Service: "user-service", Status: healthcheck.StatusHealthy, URL: "http://localhost:3000", ResponseTimeMs: 3},
			{Service: "order-service", Status: healthcheck.StatusHealthy, URL: "http://localhost:3001", ResponseTimeMs: 4},
		}}
		breakers = circuitbreaker.NewRegistry(
			[]string{"user-service", "order-service"},
			circuitbreaker.DefaultSettings(),
			logger.Discard(),
		)
		agg = monitoring.New(prober, breakers)
	})

	Describe("ServicesHealth", func() {
		It("should report healthy when every service is healthy", func() {
			view, err := agg.ServicesHealth(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Status).To(Equal(monitoring.StatusHealthy))
			Expect(view.Services).To(HaveLen(2))
			Expect(view.Timestamp).To(BeTemporally("~", time.Now(), time.Second))
			Expect(prober.probes).To(Equal(1))
		})

		It("should report degraded when any service is unhealthy", func() {
			prober.results[1].Status = healthcheck.StatusUnhealthy

			view, err := agg.ServicesHealth(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Status).To(Equal(monitoring.StatusDegraded))
		})

		It("should fail when the request is already canceled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			_, err := agg.ServicesHealth(ctx)
			Expect(err).To(MatchError(context.Canceled))
			Expect(prober.probes).To(BeZero())
		})

		It("should leave cached health alone when the request times out mid-check", func() {
			slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-time.After(200 * time.Millisecond):
				case <-r.Context().Done():
					return
				}
				w.WriteHeader(http.StatusOK)
			}))
			defer slow.Close()

			u, err := url.Parse(slow.URL)
			Expect(err).NotTo(HaveOccurred())
			reg, err := registry.New([]registry.Service{
				{Name: "user-service", BaseURL: u, Prefix: "/api/users", HealthCheckPath: "/health"},
			})
			Expect(err).NotTo(HaveOccurred())
			checker := healthcheck.New(reg, logger.Discard())

			Expect(checker.ProbeAll(context.Background())[0].Healthy()).To(BeTrue())

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			_, err = monitoring.New(checker, breakers).ServicesHealth(ctx)
			Expect(err).To(MatchError(context.DeadlineExceeded))

			Expect(checker.IsHealthy("user-service")).To(BeTrue())
		})
	})

	Describe("Circuits", func() {
		It("should be empty before any traffic", func() {
			Expect(agg.Circuits().Circuits).To(BeEmpty())
		})

		It("should include health next to breaker state", func() {
			breakers.Record("order-service", backend.Response(http.StatusInternalServerError, time.Millisecond))

			view := agg.Circuits()
			Expect(view.Circuits).To(HaveKey("order-service"))
			Expect(view.Circuits["order-service"].FailureCount).To(Equal(1))
			Expect(view.Circuits["order-service"].IsHealthy).To(BeTrue())
		})
	})

	Describe("Dashboard", func() {
		It("should summarise services and open circuits", func() {
			prober.results[0].Status = healthcheck.StatusUnhealthy
			for i := 0; i < 5; i++ {
				breakers.Record("user-service", backend.Response(http.StatusBadGateway, time.Millisecond))
			}
			breakers.Record("order-service", backend.Response(http.StatusOK, time.Millisecond))

			view, err := agg.Dashboard(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Summary).To(Equal(monitoring.Summary{
				TotalServices:   2,
				HealthyServices: 1,
				OpenCircuits:    1,
			}))
			Expect(view.Circuits).To(HaveLen(2))
		})
	})

	Describe("handlers", func() {
		It("should serve the services view", func() {
			rec := httptest.NewRecorder()
			agg.ServicesHealthHandler(logger.Discard())(rec, httptest.NewRequest(http.MethodGet, "/health/services", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			var body map[string]any
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body["status"]).To(Equal("healthy"))
			Expect(body["services"]).To(HaveLen(2))
		})

		It("should map an aggregation failure to 500", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			req := httptest.NewRequest(http.MethodGet, "/health/services", nil).WithContext(ctx)

			rec := httptest.NewRecorder()
			agg.ServicesHealthHandler(logger.Discard())(rec, req)
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
			Expect(rec.Body.String()).To(ContainSubstring(`"status":"error"`))

			rec = httptest.NewRecorder()
			agg.DashboardHandler(logger.Discard())(rec, req)
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
			Expect(rec.Body.String()).To(ContainSubstring("Failed to fetch monitoring data"))
		})

		It("should serve the circuits view", func() {
			breakers.Record("user-service", backend.Response(http.StatusOK, time.Millisecond))

			rec := httptest.NewRecorder()
			agg.CircuitsHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/circuits", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`"user-service":{"state":"CLOSED"`))
		})
	})
})
