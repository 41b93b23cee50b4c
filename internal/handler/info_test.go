package handler_test

import (
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/api-gateway/internal/handler"
)

var _ = Describe("InfoHandler", func() {
	var info *handler.InfoHandler

	BeforeEach(func() {
		info = handler.NewInfoHandler(newRegistry("http://localhost:3000", "http://localhost:3001"), "development")
	})

	It("should report liveness with the registered services", func() {
		rec := httptest.NewRecorder()
		info.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Header().Get("Content-Type")).To(HavePrefix("application/json"))

		body := decode(rec)
		Expect(body).To(HaveKeyWithValue("status", "healthy"))
		Expect(body).To(HaveKeyWithValue("environment", "development"))
		Expect(body).To(HaveKey("timestamp"))
		Expect(body["services"]).To(HaveLen(2))
		Expect(body["services"]).To(ContainElement(And(
			HaveKeyWithValue("name", "user-service"),
			HaveKeyWithValue("prefix", "/api/users"),
			HaveKeyWithValue("url", "http://localhost:3000"),
		)))
	})

	It("should describe the gateway and its endpoints", func() {
		rec := httptest.NewRecorder()
		info.GatewayInfo(rec, httptest.NewRequest(http.MethodGet, "/gateway/info", nil))

		Expect(rec.Code).To(Equal(http.StatusOK))
		body := decode(rec)
		Expect(body).To(HaveKeyWithValue("name", handler.GatewayName))
		Expect(body).To(HaveKeyWithValue("version", handler.GatewayVersion))
		Expect(body["services"]).To(ContainElement(
			HaveKeyWithValue("healthCheck", "http://localhost:3001/health"),
		))
		Expect(body["endpoints"]).To(HaveKeyWithValue("circuits", "/health/circuits"))
	})

	It("should list gateway routes and service prefixes for unknown paths", func() {
		rec := httptest.NewRecorder()
		info.NotFound(rec, httptest.NewRequest(http.MethodGet, "/unknown/path?x=1", nil))

		Expect(rec.Code).To(Equal(http.StatusNotFound))
		body := decode(rec)
		Expect(body).To(HaveKeyWithValue("error", "Route not found"))
		Expect(body).To(HaveKeyWithValue("path", "/unknown/path?x=1"))
		Expect(body["availableRoutes"]).To(ContainElements("/health", "/api/users", "/api/orders"))
	})
})
