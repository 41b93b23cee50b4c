package httpmw

import (
	"fmt"
	"net/http"

	"github.com/angeloszaimis/api-gateway/internal/httpjson"
)

// MaxBody limits request body size. Declared oversized bodies are refused
// up front; streamed ones fail on the read that crosses the limit, which the
// proxy answers with 413.
func MaxBody(bytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > bytes {
				w.Header().Set("Connection", "close")
				httpjson.Write(w, http.StatusRequestEntityTooLarge, httpjson.ErrorBody{
					Error:   "Payload too large",
					Message: fmt.Sprintf("Request body exceeds %d bytes", bytes),
					Code:    "REQUEST_TOO_LARGE",
				})
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, bytes)
			next.ServeHTTP(w, r)
		})
	}
}
