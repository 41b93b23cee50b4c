// Package handler contains the gateway's HTTP handlers. GatewayHandler is
// the front controller for proxied traffic: it resolves the target service,
// asks the circuit breaker for admission, forwards the request and records
// the outcome. The remaining handlers serve the gateway's own endpoints.
package handler
