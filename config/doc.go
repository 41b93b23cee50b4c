// Package config loads the gateway configuration from an optional YAML file
// and environment variables. It defines the server, logging, health check,
// circuit breaker, proxy, rate limit, CORS, tracing and service sections and
// validates them before the gateway starts.
package config
