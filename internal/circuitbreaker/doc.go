// Package circuitbreaker keeps one circuit breaker per registered service.
//
// A breaker has three states:
//
//   - CLOSED: requests pass through, failures are counted
//   - OPEN: requests are rejected until the reset timeout has elapsed
//     since the last failure
//   - HALF_OPEN: trial traffic is let through; the next success closes
//     the circuit, the next failure opens it again
//
// Usage:
//
//	breakers := circuitbreaker.NewRegistry(reg.Names(), settings, logger)
//	decision := breakers.Admit("user-service")
//	if !decision.Allowed {
//	    // reject with decision.RetryAfter
//	}
//	outcome := proxy.Forward(w, r, svc)
//	breakers.Record("user-service", outcome)
package circuitbreaker
