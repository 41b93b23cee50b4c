package backend

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"
)

var (
	ErrConnectionRefused = errors.New("backend: connection refused")
	ErrTimeout           = errors.New("backend: request timed out")
	ErrTransport         = errors.New("backend: transport error")
	ErrCanceled          = errors.New("backend: caller went away")
	ErrAborted           = errors.New("backend: request not sent")
	ErrClientBody        = errors.New("backend: reading request body from caller")
)

type OutcomeKind int

const (
	// OutcomeResponse means the backend answered with a status code.
	OutcomeResponse OutcomeKind = iota
	OutcomeConnectionRefused
	OutcomeTimeout
	OutcomeTransportError
	// OutcomeCanceled means the caller disconnected while its request body
	// was still being streamed to the backend.
	OutcomeCanceled
	// OutcomeAborted means the gateway never sent the request.
	OutcomeAborted
	// OutcomeClientError means the call failed because the caller's request
	// body could not be read (over the size limit, truncated, read timeout).
	OutcomeClientError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeResponse:
		return "response"
	case OutcomeConnectionRefused:
		return "connection_refused"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeTransportError:
		return "transport_error"
	case OutcomeCanceled:
		return "canceled"
	case OutcomeAborted:
		return "aborted"
	case OutcomeClientError:
		return "client_error"
	default:
		return "unknown"
	}
}

// Outcome describes how one forwarded call ended.
type Outcome struct {
	Kind       OutcomeKind
	StatusCode int
	Duration   time.Duration
	Err        error
}

// Recordable reports whether the outcome says anything about the backend.
// Canceled, aborted and client-error calls do not.
func (o Outcome) Recordable() bool {
	switch o.Kind {
	case OutcomeCanceled, OutcomeAborted, OutcomeClientError:
		return false
	}
	return true
}

// NetworkFailure reports whether the call failed before any response arrived.
func (o Outcome) NetworkFailure() bool {
	switch o.Kind {
	case OutcomeConnectionRefused, OutcomeTimeout, OutcomeTransportError:
		return true
	}
	return false
}

func Response(status int, d time.Duration) Outcome {
	return Outcome{Kind: OutcomeResponse, StatusCode: status, Duration: d}
}

func Canceled(d time.Duration) Outcome {
	return Outcome{Kind: OutcomeCanceled, Duration: d, Err: ErrCanceled}
}

func Aborted(err error) Outcome {
	return Outcome{Kind: OutcomeAborted, Err: errors.Join(ErrAborted, err)}
}

// ClientFailed wraps a read error on the caller's request body.
func ClientFailed(err error, d time.Duration) Outcome {
	return Outcome{Kind: OutcomeClientError, Duration: d, Err: errors.Join(ErrClientBody, err)}
}

// Failed classifies a transport error returned by the HTTP client.
func Failed(err error, d time.Duration) Outcome {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return Outcome{Kind: OutcomeConnectionRefused, Duration: d, Err: errors.Join(ErrConnectionRefused, err)}
	case isTimeout(err):
		return Outcome{Kind: OutcomeTimeout, Duration: d, Err: errors.Join(ErrTimeout, err)}
	default:
		return Outcome{Kind: OutcomeTransportError, Duration: d, Err: errors.Join(ErrTransport, err)}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
