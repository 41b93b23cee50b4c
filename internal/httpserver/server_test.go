package httpserver_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/api-gateway/internal/httpserver"
)

var _ = Describe("HTTP Server", func() {
	noop := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	Context("server creation", func() {
		It("creates server with valid address", func() {
			srv, err := httpserver.New("localhost:9999", noop)
			Expect(err).NotTo(HaveOccurred())
			Expect(srv.Addr()).To(Equal("localhost:9999"))
		})

		It("creates server with IP address", func() {
			srv, err := httpserver.New("127.0.0.1:9999", noop)
			Expect(err).NotTo(HaveOccurred())
			Expect(srv).NotTo(BeNil())
		})

		It("handles port-only address", func() {
			srv, err := httpserver.New(":3002", noop)
			Expect(err).NotTo(HaveOccurred())
			Expect(srv).NotTo(BeNil())
		})

		It("rejects invalid address", func() {
			srv, err := httpserver.New("invalid:host:port", noop)
			Expect(err).To(HaveOccurred())
			Expect(srv).To(BeNil())
		})

		It("rejects an address without a port", func() {
			_, err := httpserver.New("localhost:", noop)
			Expect(err).To(HaveOccurred())
		})

		It("keeps the write timeout above the upstream timeout", func() {
			srv, err := httpserver.New(":3002", noop, httpserver.WithRequestTimeout(30*time.Second))
			Expect(err).NotTo(HaveOccurred())
			Expect(srv.WriteTimeout()).To(BeNumerically(">", 30*time.Second))
		})
	})

	Context("server lifecycle", func() {
		var (
			testServer *httpserver.Server
			ln         net.Listener
		)

		start := func(handler http.Handler) string {
			var err error
			ln, err = net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())

			testServer, err = httpserver.New(ln.Addr().String(), handler,
				httpserver.WithShutdownTimeout(time.Second))
			Expect(err).NotTo(HaveOccurred())

			go func() {
				defer GinkgoRecover()
				Expect(testServer.Serve(ln)).To(Succeed())
			}()
			return "http://" + ln.Addr().String()
		}

		AfterEach(func() {
			if testServer != nil {
				_ = testServer.Shutdown(context.Background())
			}
		})

		It("starts and handles requests", func() {
			base := start(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("test"))
			}))

			resp, err := http.Get(base)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, _ := io.ReadAll(resp.Body)
			Expect(string(body)).To(Equal("test"))
		})

		It("shuts down gracefully", func() {
			start(noop)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			Expect(testServer.Shutdown(ctx)).To(Succeed())
		})
	})
})
