package metrics_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/api-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/api-gateway/internal/metrics"
)

var _ = Describe("Metrics", func() {
	var m *metrics.Metrics

	BeforeEach(func() {
		m = metrics.NewMetrics()
	})

	It("should count requests and rejections per service", func() {
		m.IncrementRequests("users")
		m.IncrementRequests("users")
		m.IncrementRequests("orders")
		m.IncrementRejections("users")

		snap := m.Snapshot()
		Expect(snap.TotalRequests).To(Equal(int64(3)))
		Expect(snap.TotalRejections).To(Equal(int64(1)))
		Expect(snap.Services["users"].Requests).To(Equal(int64(2)))
		Expect(snap.Services["users"].Rejections).To(Equal(int64(1)))
	})

	It("should compute response percentiles", func() {
		for i := 1; i <= 100; i++ {
			m.RecordResponse("users", time.Duration(i)*time.Millisecond, 200, "response")
		}

		sm := m.Snapshot().Services["users"]
		Expect(sm.AvgResponse).To(BeNumerically("~", 50*time.Millisecond, time.Millisecond))
		Expect(sm.P50Response).To(Equal(51 * time.Millisecond))
		Expect(sm.P99Response).To(Equal(100 * time.Millisecond))
		Expect(sm.StatusCodes).To(HaveKeyWithValue(200, int64(100)))
	})

	It("should count failures without a status code by outcome", func() {
		m.RecordResponse("orders", time.Millisecond, 0, "connection_refused")
		m.RecordResponse("orders", time.Millisecond, 503, "response")

		sm := m.Snapshot().Services["orders"]
		Expect(sm.Failures).To(HaveKeyWithValue("connection_refused", int64(1)))
		Expect(sm.StatusCodes).To(HaveKeyWithValue(503, int64(1)))
	})

	It("should keep a bounded window of samples", func() {
		for i := 0; i < 1500; i++ {
			m.RecordResponse("users", time.Second, 200, "response")
		}
		m.RecordResponse("users", time.Millisecond, 200, "response")

		Expect(m.Snapshot().Services["users"].StatusCodes[200]).To(Equal(int64(1501)))
	})

	It("should track health and circuit state", func() {
		m.UpdateHealthStatus("users", true)
		m.UpdateCircuitState("orders", circuitbreaker.StateOpen)

		snap := m.Snapshot()
		Expect(snap.Services["users"].Healthy).To(BeTrue())
		Expect(snap.Services["users"].CircuitState).To(Equal("CLOSED"))
		Expect(snap.Services["orders"].CircuitState).To(Equal("OPEN"))
	})
})
