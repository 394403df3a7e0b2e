package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ahmethakanbesel/tradedesk/internal/export"
	"github.com/ahmethakanbesel/tradedesk/internal/job"
)

const maxBodyBytes = 1 << 20

type handler struct {
	jobSvc *job.Service
	hub    *Hub
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "wsClients": h.hub.Clients()})
}

func (h *handler) createJob(w http.ResponseWriter, r *http.Request) {
	var req job.CreateJobRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if appErr := req.Validate(); appErr != nil {
		writeError(w, appErr.HTTPStatus(), appErr.Message())
		return
	}

	j, err := h.jobSvc.Submit(r.Context(), req, h.hub.Publish)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, j)
}

func (h *handler) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}
	jobs, err := h.jobSvc.List(r.Context(), job.ListJobsRequest{Limit: limit})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *handler) getJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.jobSvc.Get(r.Context(), job.GetJobRequest{ID: r.PathValue("id")})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (h *handler) getJobData(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := h.jobSvc.Data(r.Context(), job.GetJobRequest{ID: r.PathValue("id")})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if format == export.FormatJSON {
		writeJSON(w, http.StatusOK, data)
		return
	}
	writeFile(w, format, data)
}

func (h *handler) cancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.jobSvc.Cancel(r.Context(), job.GetJobRequest{ID: id}); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"jobId": id, "status": string(job.StatusCancelled)})
}

func (h *handler) listStoredJobs(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}
	jobs, err := h.jobSvc.StoredJobs(r.Context(), job.ListJobsRequest{Limit: limit})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *handler) deleteStoredJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.jobSvc.DeleteStored(r.Context(), job.GetJobRequest{ID: id}); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"jobId": id})
}

func (h *handler) deleteSymbolData(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	n, err := h.jobSvc.DeleteSymbol(r.Context(), job.DeleteSymbolRequest{
		Symbol:   q.Get("symbol"),
		Exchange: q.Get("exchange"),
		Interval: q.Get("interval"),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deletedCandles": n})
}

func (h *handler) searchCandles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}
	from, ok := timeParam(w, r, "from")
	if !ok {
		return
	}
	to, ok := timeParam(w, r, "to")
	if !ok {
		return
	}

	candles, err := h.jobSvc.Search(r.Context(), job.SearchRequest{
		Symbol:   q.Get("symbol"),
		Exchange: q.Get("exchange"),
		Interval: q.Get("interval"),
		From:     from,
		To:       to,
		Limit:    limit,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, candles)
}

func (h *handler) summary(w http.ResponseWriter, r *http.Request) {
	s, err := h.jobSvc.Summary(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return n, true
}

// timeParam accepts RFC 3339 timestamps or YYYY-MM-DD dates.
func timeParam(w http.ResponseWriter, r *http.Request, name string) (time.Time, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, true
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, true
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name+" format, expected RFC 3339 or YYYY-MM-DD")
		return time.Time{}, false
	}
	return t, true
}
