package httpmw_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/api-gateway/internal/httpmw"
	"github.com/angeloszaimis/api-gateway/pkg/logger"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

var _ = Describe("RequestID", func() {
	It("should generate an ID when none is sent", func() {
		var seen string
		h := httpmw.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = httpmw.RequestIDFromContext(r.Context())
			Expect(r.Header.Get(httpmw.RequestIDHeader)).To(Equal(seen))
		}))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		Expect(seen).To(HaveLen(36))
		Expect(rec.Header().Get(httpmw.RequestIDHeader)).To(Equal(seen))
	})

	It("should propagate an incoming ID", func() {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(httpmw.RequestIDHeader, "abc-123")

		rec := httptest.NewRecorder()
		httpmw.RequestID(ok).ServeHTTP(rec, req)
		Expect(rec.Header().Get(httpmw.RequestIDHeader)).To(Equal("abc-123"))
	})
})

var _ = Describe("AccessLog", func() {
	It("should log one record per request", func() {
		var buf bytes.Buffer
		log := logger.NewWithWriter(&buf, "info", false, "dev")

		h := httpmw.AccessLog(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
			w.Write([]byte("short and stout"))
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/users", nil))

		out := buf.String()
		Expect(strings.Count(out, "http request")).To(Equal(1))
		Expect(out).To(ContainSubstring("status=418"))
		Expect(out).To(ContainSubstring("path=/api/users"))
		Expect(out).To(ContainSubstring("bytes=15"))
	})
})

var _ = Describe("Recover", func() {
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	It("should answer 500 with the detail outside production", func() {
		var panics atomic.Int32
		rec := httptest.NewRecorder()
		httpmw.Recover(logger.Discard(), true, func() { panics.Add(1) })(panicking).
			ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		Expect(rec.Body.String()).To(MatchJSON(`{"error":"Internal server error","message":"boom"}`))
		Expect(panics.Load()).To(Equal(int32(1)))
	})

	It("should hide the detail in production", func() {
		rec := httptest.NewRecorder()
		httpmw.Recover(logger.Discard(), false, nil)(panicking).
			ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		Expect(rec.Body.String()).To(MatchJSON(`{"error":"Internal server error","message":"Something went wrong"}`))
	})
})

var _ = Describe("RealIP", func() {
	var seen string

	capture := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.RemoteAddr
	})

	forwarded := func(peer, claimed string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
		req.RemoteAddr = peer
		req.Header.Set("X-Forwarded-For", claimed)
		return req
	}

	BeforeEach(func() {
		seen = ""
	})

	It("should ignore forwarded headers when no proxy is trusted", func() {
		httpmw.RealIP(nil)(capture).ServeHTTP(httptest.NewRecorder(), forwarded("203.0.113.9:4000", "1.2.3.4"))
		Expect(seen).To(Equal("203.0.113.9:4000"))
	})

	It("should ignore forwarded headers from an untrusted peer", func() {
		trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
		httpmw.RealIP(trusted)(capture).ServeHTTP(httptest.NewRecorder(), forwarded("203.0.113.9:4000", "1.2.3.4"))
		Expect(seen).To(Equal("203.0.113.9:4000"))
	})

	It("should honour forwarded headers from a trusted proxy", func() {
		trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
		httpmw.RealIP(trusted)(capture).ServeHTTP(httptest.NewRecorder(), forwarded("10.1.1.1:4000", "1.2.3.4"))
		Expect(seen).To(Equal("1.2.3.4"))
	})

	It("should keep one rate limit bucket for a client rotating X-Forwarded-For", func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		l := httpmw.NewIPLimiter(ctx, time.Minute, 2)
		h := httpmw.RealIP(nil)(l.Middleware(ok))

		codes := make([]int, 0, 3)
		for _, claimed := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"} {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, forwarded("203.0.113.9:4000", claimed))
			codes = append(codes, rec.Code)
		}
		Expect(codes).To(Equal([]int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}))
	})
})

var _ = Describe("IPLimiter", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
	})

	AfterEach(func() {
		cancel()
	})

	request := func(ip string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
		req.RemoteAddr = ip + ":5555"
		return req
	}

	It("should allow a burst of max requests per client", func() {
		var denied atomic.Int32
		l := httpmw.NewIPLimiter(ctx, time.Minute, 3, httpmw.WithOnDenied(func(string) { denied.Add(1) }))
		h := l.Middleware(ok)

		for i := 0; i < 3; i++ {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, request("10.0.0.1"))
			Expect(rec.Code).To(Equal(http.StatusOK))
		}

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, request("10.0.0.1"))
		Expect(rec.Code).To(Equal(http.StatusTooManyRequests))
		Expect(rec.Header().Get("Retry-After")).To(Equal("20"))
		Expect(rec.Body.String()).To(ContainSubstring("Too many requests"))
		Expect(denied.Load()).To(Equal(int32(1)))
	})

	It("should track clients separately", func() {
		h := httpmw.NewIPLimiter(ctx, time.Minute, 1).Middleware(ok)

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, request("10.0.0.1"))
		Expect(rec.Code).To(Equal(http.StatusOK))

		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, request("10.0.0.2"))
		Expect(rec.Code).To(Equal(http.StatusOK))
	})
})

var _ = Describe("MaxBody", func() {
	It("should reject a declared oversized body", func() {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 20)))
		rec := httptest.NewRecorder()
		httpmw.MaxBody(10)(ok).ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusRequestEntityTooLarge))
		Expect(rec.Body.String()).To(ContainSubstring(`"code":"REQUEST_TOO_LARGE"`))
	})

	It("should fail reads past the limit", func() {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 20)))
		req.ContentLength = -1

		var readErr error
		h := httpmw.MaxBody(10)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, readErr = io.ReadAll(r.Body)
		}))
		h.ServeHTTP(httptest.NewRecorder(), req)
		Expect(readErr).To(HaveOccurred())
	})
})

var _ = Describe("SecurityHeaders", func() {
	It("should set defensive headers", func() {
		rec := httptest.NewRecorder()
		httpmw.SecurityHeaders(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		Expect(rec.Header().Get("X-Content-Type-Options")).To(Equal("nosniff"))
		Expect(rec.Header().Get("X-Frame-Options")).To(Equal("SAMEORIGIN"))
	})
})
