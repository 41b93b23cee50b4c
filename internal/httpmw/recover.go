package httpmw

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/angeloszaimis/api-gateway/internal/httpjson"
)

// Recover turns a handler panic into a 500. The panic value is only echoed
// to the client when exposeDetail is set. onPanic may be nil.
func Recover(logger *slog.Logger, exposeDetail bool, onPanic func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				detail := fmt.Sprint(rec)
				logger.Error("Recovered from panic",
					slog.String("request_id", RequestIDFromContext(r.Context())),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("panic", detail),
					slog.String("stack", string(debug.Stack())))

				if onPanic != nil {
					onPanic()
				}

				message := "Something went wrong"
				if exposeDetail {
					message = detail
				}
				httpjson.Write(w, http.StatusInternalServerError, httpjson.ErrorBody{
					Error:   "Internal server error",
					Message: message,
				})
			}()

			next.ServeHTTP(w, r)
		})
	}
}
