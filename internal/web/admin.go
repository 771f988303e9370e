package web

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/sweeney/lamp-panel/internal/logger"
	"github.com/sweeney/lamp-panel/internal/metrics"
	"github.com/sweeney/lamp-panel/internal/status"
)

// NewAdmin creates the admin server: Prometheus metrics at /metrics and the
// status document at /status.json. It is kept off the lamp listener so the
// lamp routing table stays exactly the public page surface.
func NewAdmin(addr string, tracker *status.Tracker, g prom.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.HTTPHandler(g))
	mux.Handle("GET /status.json", statusHandler(tracker))

	return newServer(addr, mux)
}

func statusHandler(tracker *status.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if _, err := w.Write(status.FormatJSON(tracker.Snapshot())); err != nil {
			logger.DebugKV(r.Context(), "Write status document failed", "error", err)
		}
	}
}
