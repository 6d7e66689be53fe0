package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/philippe-eecs/orchestra/internal/port/executor"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// urlParam is a short alias for chi.URLParam.
func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeExecutorError maps the executor error taxonomy onto HTTP statuses.
// Validation and capability problems are the caller's fault; timeouts and
// process failures are reported as gateway-style errors so clients can
// tell them apart from engine bugs.
func writeExecutorError(w http.ResponseWriter, err error) {
	var valErr *executor.ValidationError
	var capErr *executor.CapabilityError
	var timeoutErr *executor.TimeoutError
	var procErr *executor.ProcessError
	switch {
	case errors.Is(err, executor.ErrUnknownBackend):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &valErr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, executor.ErrSessionGone):
		writeError(w, http.StatusGone, err.Error())
	case errors.As(err, &capErr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &timeoutErr):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.As(err, &procErr):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeInternalError logs the actual error server-side and returns a
// generic message to the client.
func writeInternalError(w http.ResponseWriter, err error) {
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
