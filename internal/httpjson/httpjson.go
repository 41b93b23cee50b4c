// Package httpjson writes JSON response bodies.
package httpjson

import (
	"encoding/json"
	"net/http"
)

// Write sends v as a JSON body with the given status.
func Write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorBody is the common shape of gateway-generated failures.
type ErrorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message,omitempty"`
	Code       string `json:"code,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}
