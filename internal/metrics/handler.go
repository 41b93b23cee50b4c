package metrics

import (
	"net/http"

	"github.com/angeloszaimis/api-gateway/internal/backend"
	"github.com/angeloszaimis/api-gateway/internal/httpjson"
)

// Handler serves the traffic snapshot, enriched with live backend
// bookkeeping from pool when it is non-nil.
func (c *Collector) Handler(pool *backend.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := c.metrics.Snapshot()

		if pool != nil {
			for _, b := range pool.All() {
				sm := snap.Services[b.Name()]
				sm.ActiveRequests = b.ActiveConnections()
				sm.EWMAResponse = b.EWMATime()
				if sm.CircuitState == "" {
					sm.CircuitState = "CLOSED"
				}
				snap.Services[b.Name()] = sm
			}
		}

		httpjson.Write(w, http.StatusOK, snap)
	}
}
