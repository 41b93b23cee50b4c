// Package registry holds the fixed, ordered list of backend services the
// gateway fronts. It resolves inbound paths to services by first-match
// prefix and rewrites external paths into each service's internal path
// space. The registry is immutable once built and safe for concurrent use
// without locking.
package registry
