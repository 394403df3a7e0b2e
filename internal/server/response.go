package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ahmethakanbesel/tradedesk/internal/apperror"
	"github.com/ahmethakanbesel/tradedesk/internal/export"
	"github.com/ahmethakanbesel/tradedesk/internal/job"
)

type APIResponse[T any] struct {
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func writeJSON[T any](w http.ResponseWriter, status int, data T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse[T]{
		Message: "ok",
		Data:    data,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse[string]{
		Message: message,
		Data:    "",
	})
}

// writeServiceError maps an *apperror.AppError to its status; anything
// else is a 500.
func writeServiceError(w http.ResponseWriter, err error) {
	var ae *apperror.AppError
	if errors.As(err, &ae) {
		writeError(w, ae.HTTPStatus(), ae.Message())
		return
	}
	slog.Error("unhandled service error", "error", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

// writeFile streams a job's candles as a download.
func writeFile(w http.ResponseWriter, f export.Format, data *job.StoredJob) {
	filename := fmt.Sprintf("%s_%s_%s.%s", data.Symbol, data.Interval, data.ID, f)
	w.Header().Set("Content-Type", f.ContentType())
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	w.WriteHeader(http.StatusOK)

	series := export.Series{Symbol: data.Symbol, Exchange: data.Exchange, Interval: data.Interval}
	if err := export.Write(w, f, series, data.Candles); err != nil {
		slog.Error("export job data", "job", data.ID, "format", f, "error", err)
	}
}
