package circuitbreaker_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/api-gateway/config"
	"github.com/angeloszaimis/api-gateway/internal/backend"
	"github.com/angeloszaimis/api-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/api-gateway/pkg/logger"
)

type transition struct {
	service  string
	from, to circuitbreaker.State
}

type recordingObserver struct {
	mu          sync.Mutex
	transitions []transition
}

func (o *recordingObserver) CircuitStateChanged(service string, from, to circuitbreaker.State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, transition{service, from, to})
}

type staticHealth map[string]bool

func (h staticHealth) IsHealthy(name string) bool { return h[name] }

var (
	serverError = backend.Response(http.StatusInternalServerError, time.Millisecond)
	notFound    = backend.Response(http.StatusNotFound, time.Millisecond)
	ok          = backend.Response(http.StatusOK, time.Millisecond)
	resetErr    = backend.Failed(errors.New("read: connection reset by peer"), time.Millisecond)
)

var _ = Describe("Registry", func() {
	var (
		breakers *circuitbreaker.Registry
		clock    *fakeClock
		observer *recordingObserver
		settings circuitbreaker.Settings
	)

	build := func() {
		breakers = circuitbreaker.NewRegistry(
			[]string{"users", "orders"},
			settings,
			logger.Discard(),
			circuitbreaker.WithClock(clock.Now),
			circuitbreaker.WithObserver(observer),
		)
	}

	BeforeEach(func() {
		clock = newFakeClock()
		observer = &recordingObserver{}
		settings = circuitbreaker.DefaultSettings()
		build()
	})

	Describe("Breaker", func() {
		It("should return the same breaker for the same name", func() {
			Expect(breakers.Breaker("users")).To(BeIdenticalTo(breakers.Breaker("users")))
		})

		It("should return nil for unknown services", func() {
			Expect(breakers.Breaker("payments")).To(BeNil())
		})

		It("should be safe under concurrent creation", func() {
			var wg sync.WaitGroup
			results := make([]*circuitbreaker.CircuitBreaker, 50)
			for i := range results {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					results[i] = breakers.Breaker("orders")
				}(i)
			}
			wg.Wait()
			for _, cb := range results {
				Expect(cb).To(BeIdenticalTo(results[0]))
			}
		})
	})

	Describe("Admit", func() {
		It("should allow unknown services without creating a record", func() {
			Expect(breakers.Admit("payments").Allowed).To(BeTrue())
			Expect(breakers.Snapshot(nil)).NotTo(HaveKey("payments"))
		})

		It("should stay closed on success", func() {
			Expect(breakers.Admit("users").Allowed).To(BeTrue())
			breakers.Record("users", ok)
			Expect(breakers.Breaker("users").State()).To(Equal(circuitbreaker.StateClosed))
		})

		It("should reject once the threshold is reached and advise a retry", func() {
			for i := 0; i < 5; i++ {
				Expect(breakers.Admit("users").Allowed).To(BeTrue())
				breakers.Record("users", serverError)
			}

			decision := breakers.Admit("users")
			Expect(decision.Allowed).To(BeFalse())
			Expect(decision.RetryAfter).To(Equal(60))

			Expect(observer.transitions).To(ConsistOf(
				transition{"users", circuitbreaker.StateClosed, circuitbreaker.StateOpen},
			))
		})

		It("should round the retry hint up to whole seconds", func() {
			settings.ResetTimeout = 1500 * time.Millisecond
			build()
			Expect(breakers.RetryAfter()).To(Equal(2))
		})

		It("should isolate services", func() {
			for i := 0; i < 5; i++ {
				breakers.Record("users", serverError)
			}
			Expect(breakers.Admit("users").Allowed).To(BeFalse())
			Expect(breakers.Admit("orders").Allowed).To(BeTrue())
		})

		It("should walk OPEN -> HALF_OPEN -> CLOSED", func() {
			for i := 0; i < 5; i++ {
				breakers.Record("users", serverError)
			}
			clock.Advance(61 * time.Second)

			Expect(breakers.Admit("users").Allowed).To(BeTrue())
			breakers.Record("users", ok)

			Expect(breakers.Breaker("users").State()).To(Equal(circuitbreaker.StateClosed))
			Expect(observer.transitions).To(Equal([]transition{
				{"users", circuitbreaker.StateClosed, circuitbreaker.StateOpen},
				{"users", circuitbreaker.StateOpen, circuitbreaker.StateHalfOpen},
				{"users", circuitbreaker.StateHalfOpen, circuitbreaker.StateClosed},
			}))
		})

		Context("with the single half-open policy", func() {
			BeforeEach(func() {
				settings.HalfOpenPolicy = config.HalfOpenSingle
				build()
				for i := 0; i < 5; i++ {
					breakers.Record("users", serverError)
				}
				clock.Advance(61 * time.Second)
			})

			It("should reject concurrent trial requests", func() {
				Expect(breakers.Admit("users").Allowed).To(BeTrue())

				decision := breakers.Admit("users")
				Expect(decision.Allowed).To(BeFalse())
				Expect(decision.RetryAfter).To(Equal(60))
			})

			It("should free the slot for an abandoned trial", func() {
				Expect(breakers.Admit("users").Allowed).To(BeTrue())
				breakers.Record("users", backend.Canceled(time.Millisecond))

				Expect(breakers.Admit("users").Allowed).To(BeTrue())
				Expect(breakers.Breaker("users").State()).To(Equal(circuitbreaker.StateHalfOpen))
			})

			It("should free the slot on explicit release", func() {
				Expect(breakers.Admit("users").Allowed).To(BeTrue())
				breakers.Release("users")
				Expect(breakers.Admit("users").Allowed).To(BeTrue())
			})
		})
	})

	Describe("Record", func() {
		It("should ignore outcomes that never reached the backend", func() {
			breakers.Record("users", backend.Aborted(errors.New("bad request")))
			breakers.Record("users", backend.Canceled(time.Millisecond))
			Expect(breakers.Breaker("users").Failures()).To(Equal(0))
		})

		It("should treat client errors as success", func() {
			breakers.Record("users", serverError)
			breakers.Record("users", notFound)
			Expect(breakers.Breaker("users").Failures()).To(Equal(0))
		})

		It("should ignore unknown services", func() {
			breakers.Record("payments", serverError)
			Expect(breakers.Snapshot(nil)).To(BeEmpty())
		})

		Context("in network failure mode", func() {
			BeforeEach(func() {
				settings.FailureMode = config.FailureModeNetwork
				build()
			})

			It("should count only network failures", func() {
				breakers.Record("users", serverError)
				Expect(breakers.Breaker("users").Failures()).To(Equal(0))

				breakers.Record("users", resetErr)
				Expect(breakers.Breaker("users").Failures()).To(Equal(1))
			})
		})
	})

	Describe("Snapshot", func() {
		It("should report created breakers only", func() {
			breakers.Record("users", serverError)

			snapshot := breakers.Snapshot(staticHealth{"users": true})
			Expect(snapshot).To(HaveLen(1))

			status := snapshot["users"]
			Expect(status.State).To(Equal(circuitbreaker.StateClosed))
			Expect(status.FailureCount).To(Equal(1))
			Expect(status.IsHealthy).To(BeTrue())
			Expect(status.LastFailure).NotTo(BeNil())
			Expect(*status.LastFailure).To(Equal("2024-01-01T12:00:00Z"))
		})

		It("should report a null last failure before any failure", func() {
			breakers.Record("orders", ok)

			raw, err := json.Marshal(breakers.Snapshot(nil))
			Expect(err).NotTo(HaveOccurred())
			Expect(raw).To(MatchJSON(`{"orders":{"state":"CLOSED","failureCount":0,"lastFailure":null,"isHealthy":false}}`))
		})
	})

	Describe("Classify", func() {
		It("should count 5xx responses in status mode", func() {
			Expect(circuitbreaker.Classify(config.FailureModeStatus, serverError)).To(BeTrue())
			Expect(circuitbreaker.Classify(config.FailureModeStatus, notFound)).To(BeFalse())
			Expect(circuitbreaker.Classify(config.FailureModeStatus, resetErr)).To(BeTrue())
		})

		It("should count only network failures in network mode", func() {
			Expect(circuitbreaker.Classify(config.FailureModeNetwork, serverError)).To(BeFalse())
			Expect(circuitbreaker.Classify(config.FailureModeNetwork, resetErr)).To(BeTrue())
		})
	})
})
