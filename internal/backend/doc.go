// Package backend is the gateway's outbound side. A Backend wraps the HTTP
// client used to reach one registered service, classifies every call into an
// Outcome and keeps per-service bookkeeping (in-flight requests and an EWMA
// of response time).
package backend
