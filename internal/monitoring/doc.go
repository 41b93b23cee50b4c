// Package monitoring combines health probe results and circuit breaker state
// into the gateway's read-only monitoring views.
package monitoring
