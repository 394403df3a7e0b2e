package server

import (
	"net/http"

	"github.com/ahmethakanbesel/tradedesk/internal/job"
)

// NewHandler creates the full HTTP handler with routes and middleware.
// Exported for use in tests (e.g., httptest.NewServer).
func NewHandler(jobSvc *job.Service, hub *Hub) http.Handler {
	return newMux(jobSvc, hub)
}

func newMux(jobSvc *job.Service, hub *Hub) http.Handler {
	h := &handler{
		jobSvc: jobSvc,
		hub:    hub,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.health)

	mux.HandleFunc("POST /api/v1/jobs", h.createJob)
	mux.HandleFunc("GET /api/v1/jobs", h.listJobs)
	mux.HandleFunc("GET /api/v1/jobs/{id}", h.getJob)
	mux.HandleFunc("GET /api/v1/jobs/{id}/data", h.getJobData)
	mux.HandleFunc("DELETE /api/v1/jobs/{id}", h.cancelJob)

	mux.HandleFunc("GET /api/v1/history/jobs", h.listStoredJobs)
	mux.HandleFunc("DELETE /api/v1/history/jobs/{id}", h.deleteStoredJob)
	mux.HandleFunc("DELETE /api/v1/history/symbols", h.deleteSymbolData)
	mux.HandleFunc("GET /api/v1/history/search", h.searchCandles)
	mux.HandleFunc("GET /api/v1/history/summary", h.summary)

	mux.Handle("GET /ws/jobs", hub)

	// Outermost first: recovery -> requestID -> logging -> cors
	var handler http.Handler = mux
	handler = cors(handler)
	handler = logging(handler)
	handler = requestID(handler)
	handler = recovery(handler)

	return handler
}
