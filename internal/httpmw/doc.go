// Package httpmw provides the HTTP middleware wrapped around the gateway's
// router: request IDs, access logging, panic recovery, trusted-proxy client
// addresses, per-client rate limiting, request body limits and security
// headers.
//
// Each middleware is an independent func(http.Handler) http.Handler and is
// composed with chi's Use in cmd/router.go.
package httpmw
