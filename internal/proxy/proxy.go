package proxy

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/angeloszaimis/api-gateway/internal/backend"
	"github.com/angeloszaimis/api-gateway/internal/httpjson"
	"github.com/angeloszaimis/api-gateway/internal/registry"
)

// hopHeaders are headers that should not be forwarded in either direction.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

type Proxy struct {
	backends *backend.Pool
	logger   *slog.Logger
}

func New(backends *backend.Pool, logger *slog.Logger) *Proxy {
	return &Proxy{
		backends: backends,
		logger:   logger,
	}
}

// Forward sends r to svc and relays the backend's answer to w. Nothing is
// written once the caller's context is done.
func (p *Proxy) Forward(w http.ResponseWriter, r *http.Request, svc registry.Service) backend.Outcome {
	b, ok := p.backends.Get(svc.Name)
	target := svc.TargetURL(r.URL.Path, r.URL.RawQuery)

	if !ok {
		perr := &Error{
			Op: "forward", Service: svc.Name, Target: target.String(),
			Status: http.StatusInternalServerError, Code: CodeProxyError,
			Message: "no backend configured for " + svc.Name, Cause: ErrUnknownBackend,
		}
		perr.Write(w)
		return backend.Aborted(perr)
	}

	body := bodyOf(r)
	var reqBody io.Reader
	if body != nil {
		reqBody = body
	}

	out, err := backend.NewRequest(r.Context(), r.Method, target, reqBody)
	if err != nil {
		perr := &Error{
			Op: "build_request", Service: svc.Name, Target: target.String(),
			Status: http.StatusInternalServerError, Code: CodeProxyError,
			Message: err.Error(), Cause: err,
		}
		perr.Write(w)
		return backend.Aborted(perr)
	}
	copyRequestHeaders(out.Header, r)
	out.ContentLength = r.ContentLength

	b.IncrementConn()
	defer b.DecrementConn()

	p.logger.Debug("Forwarding request",
		slog.String("service", svc.Name),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("target", target.String()))

	res, outcome := b.Do(out)

	if res == nil && body != nil {
		if readErr := body.Err(); readErr != nil {
			return p.clientFailed(w, r, svc, target.String(), readErr, outcome.Duration)
		}
	}

	// The backend call is detached, so its outcome still says something about
	// the backend even when there is nobody left to answer.
	if r.Context().Err() != nil {
		if res != nil {
			res.Body.Close()
		}
		p.logger.Debug("Caller went away before the backend answered",
			slog.String("service", svc.Name),
			slog.String("path", r.URL.Path),
			slog.String("outcome", outcome.Kind.String()))
		return outcome
	}

	if res == nil {
		p.failed(r, svc, target.String(), outcome).Write(w)
		return outcome
	}
	defer res.Body.Close()

	copyHeaders(w.Header(), res.Header)
	w.WriteHeader(res.StatusCode)

	if _, err := io.Copy(w, res.Body); err != nil {
		// Status is already on the wire; the outcome stays what the backend said.
		p.logger.Warn("Failed to relay response body",
			slog.String("service", svc.Name),
			slog.String("error", err.Error()))
	}

	return outcome
}

func (p *Proxy) failed(r *http.Request, svc registry.Service, target string, outcome backend.Outcome) *Error {
	perr := &Error{
		Op:      "forward",
		Service: svc.Name,
		Target:  target,
		Cause:   outcome.Err,
	}

	if errors.Is(outcome.Err, backend.ErrConnectionRefused) {
		perr.Status = http.StatusServiceUnavailable
		perr.Code = CodeServiceUnavailable
		perr.Message = "Unable to connect to " + r.URL.RequestURI()
		perr.Cause = errors.Join(ErrServiceUnavailable, outcome.Err)
	} else {
		perr.Status = http.StatusInternalServerError
		perr.Code = CodeProxyError
		perr.Message = rootMessage(outcome.Err)
		perr.Cause = errors.Join(ErrProxyFailed, outcome.Err)
	}

	p.logger.Error("Proxy error",
		slog.String("service", svc.Name),
		slog.String("method", r.Method),
		slog.String("path", r.URL.RequestURI()),
		slog.String("outcome", outcome.Kind.String()),
		slog.Duration("duration", outcome.Duration.Round(time.Millisecond)),
		slog.String("error", perr.Error()))

	return perr
}

// clientFailed answers a call that broke while reading the caller's body.
// Such calls never count against the backend.
func (p *Proxy) clientFailed(w http.ResponseWriter, r *http.Request, svc registry.Service, target string, readErr error, d time.Duration) backend.Outcome {
	if r.Context().Err() != nil {
		p.logger.Debug("Caller went away during upload",
			slog.String("service", svc.Name),
			slog.String("path", r.URL.Path))
		return backend.Canceled(d)
	}

	perr := &Error{
		Op:      "read_body",
		Service: svc.Name,
		Target:  target,
		Status:  http.StatusBadRequest,
		Code:    CodeBadRequest,
		Message: "Request body could not be read",
		Cause:   errors.Join(ErrRequestBody, readErr),
	}

	var tooLarge *http.MaxBytesError
	if errors.As(readErr, &tooLarge) {
		perr.Status = http.StatusRequestEntityTooLarge
		perr.Code = CodeRequestTooLarge
		perr.Message = fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit)
	}

	p.logger.Warn("Request body read failed",
		slog.String("service", svc.Name),
		slog.String("method", r.Method),
		slog.String("path", r.URL.RequestURI()),
		slog.String("error", readErr.Error()))

	perr.Write(w)
	return backend.ClientFailed(readErr, d)
}

// rootMessage drops the sentinel prefix that backend adds when classifying.
func rootMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		errs := joined.Unwrap()
		return errs[len(errs)-1].Error()
	}
	return err.Error()
}

// callerBody remembers the first read error on the inbound body so a failed
// upload is told apart from a failing backend.
type callerBody struct {
	rc io.ReadCloser

	mu  sync.Mutex
	err error
}

func (b *callerBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		b.mu.Lock()
		if b.err == nil {
			b.err = err
		}
		b.mu.Unlock()
	}
	return n, err
}

func (b *callerBody) Close() error {
	return b.rc.Close()
}

func (b *callerBody) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func bodyOf(r *http.Request) *callerBody {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	return &callerBody{rc: r.Body}
}

func copyRequestHeaders(dst http.Header, r *http.Request) {
	copyHeaders(dst, r.Header)
	dst.Del("Host")
	dst.Del("Content-Length")

	if fwd := r.Header.Get("X-Forwarded-Host"); fwd == "" && r.Host != "" {
		dst.Set("X-Forwarded-Host", r.Host)
	}
}

// copyHeaders copies src into dst minus hop-by-hop headers, including any
// named in src's Connection header. Values in src replace those in dst.
func copyHeaders(dst, src http.Header) {
	drop := make(map[string]struct{}, len(hopHeaders))
	for _, h := range hopHeaders {
		drop[h] = struct{}{}
	}
	for _, v := range src.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				drop[http.CanonicalHeaderKey(name)] = struct{}{}
			}
		}
	}

	for k, vv := range src {
		if _, skip := drop[http.CanonicalHeaderKey(k)]; skip {
			continue
		}
		dst.Del(k)
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// NotFoundBody answers an /api path that matches no service.
type NotFoundBody struct {
	Error           string   `json:"error"`
	Path            string   `json:"path"`
	OriginalURL     string   `json:"originalUrl"`
	AvailableRoutes []string `json:"availableRoutes"`
}

func NotFound(w http.ResponseWriter, r *http.Request, reg *registry.Registry) {
	httpjson.Write(w, http.StatusNotFound, NotFoundBody{
		Error:           "Service not found",
		Path:            r.URL.Path,
		OriginalURL:     r.URL.RequestURI(),
		AvailableRoutes: reg.Prefixes(),
	})
}
