package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/erazemk/stoneshop/internal/apperr"
)

// jsonResponse writes a JSON response with the given status code.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("error encoding response", "error", err)
		}
	}
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

// appError responds with the status matching err. Server-side failures are
// logged and reported with a generic message.
func appError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := apperr.HTTPStatus(err)
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		status = http.StatusRequestEntityTooLarge
	}

	switch status {
	case http.StatusBadRequest:
		jsonError(w, status, "invalid id")
	case http.StatusNotFound:
		jsonError(w, status, "not found")
	case http.StatusRequestEntityTooLarge:
		jsonError(w, status, "upload too large")
	default:
		slog.Error(msg, "method", r.Method, "path", r.URL.Path, "error", err)
		jsonError(w, status, msg)
	}
}

// decodeJSON decodes a JSON request body into the given target.
func decodeJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(target)
}
