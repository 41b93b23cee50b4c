// Package healthcheck probes every registered service's health endpoint and
// caches the latest result per service. A background loop refreshes the cache
// on a fixed interval; probes never overlap and never return errors, a failed
// probe is simply recorded as unhealthy.
package healthcheck
