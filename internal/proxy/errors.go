package proxy

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/angeloszaimis/api-gateway/internal/httpjson"
)

var (
	ErrServiceNotFound    = errors.New("no service matches path")
	ErrUnknownBackend     = errors.New("no backend for service")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrProxyFailed        = errors.New("proxy request failed")
	ErrRequestBody        = errors.New("request body read failed")
)

const (
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeProxyError         = "PROXY_ERROR"
	CodeRequestTooLarge    = "REQUEST_TOO_LARGE"
	CodeBadRequest         = "BAD_REQUEST"
)

// Error is a forwarding failure with the response the gateway sends for it.
type Error struct {
	Op      string
	Service string
	Target  string
	Status  int
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("proxy %s [%s] target=%s: %s: %v", e.Op, e.Service, e.Target, e.Message, e.Cause)
	}
	return fmt.Sprintf("proxy %s [%s] target=%s: %s", e.Op, e.Service, e.Target, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Body is the JSON payload written to the caller.
func (e *Error) Body() httpjson.ErrorBody {
	title := "Proxy error"
	switch e.Status {
	case http.StatusServiceUnavailable:
		title = "Service unavailable"
	case http.StatusRequestEntityTooLarge:
		title = "Payload too large"
	case http.StatusBadRequest:
		title = "Bad request"
	}
	return httpjson.ErrorBody{
		Error:   title,
		Message: e.Message,
		Code:    e.Code,
	}
}

func (e *Error) Write(w http.ResponseWriter) {
	httpjson.Write(w, e.Status, e.Body())
}
