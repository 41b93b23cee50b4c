// Package proxy forwards a resolved request to its backend service and relays
// the answer. Forward never retries and reports how the call ended as a
// backend.Outcome instead of inspecting the response after the fact.
package proxy
