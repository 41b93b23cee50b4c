package monitoring

import (
	"log/slog"
	"net/http"

	"github.com/angeloszaimis/api-gateway/internal/httpjson"
)

type errorStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ServicesHealthHandler serves a live probe of every service.
func (a *Aggregator) ServicesHealthHandler(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := a.ServicesHealth(r.Context())
		if err != nil {
			logger.Error("Service health aggregation failed", slog.String("error", err.Error()))
			httpjson.Write(w, http.StatusInternalServerError, errorStatus{Status: "error", Message: err.Error()})
			return
		}
		httpjson.Write(w, http.StatusOK, view)
	}
}

func (a *Aggregator) CircuitsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpjson.Write(w, http.StatusOK, a.Circuits())
	}
}

func (a *Aggregator) DashboardHandler(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := a.Dashboard(r.Context())
		if err != nil {
			logger.Error("Dashboard aggregation failed", slog.String("error", err.Error()))
			httpjson.Write(w, http.StatusInternalServerError, httpjson.ErrorBody{
				Error:   "Failed to fetch monitoring data",
				Message: err.Error(),
			})
			return
		}
		httpjson.Write(w, http.StatusOK, view)
	}
}
