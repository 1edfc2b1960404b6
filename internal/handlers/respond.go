package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/prudhvinik1/offlinesync/internal/services"
)

// maxBodyBytes bounds request bodies. Catalog items may carry inline images.
const maxBodyBytes = 32 << 20

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes data as JSON with the given status.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error("failed to encode JSON response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	if status >= http.StatusInternalServerError {
		log.Error("HTTP error", "status", status, "message", message)
	} else {
		log.Debug("HTTP error", "status", status, "message", message)
	}
	writeJSON(w, status, errorResponse{Error: message})
}

// decodeJSON reads a JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %v", services.ErrInvalidRequest, err)
	}
	return nil
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrInvalidCredentials), errors.Is(err, services.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrUnknownAgent),
		errors.Is(err, services.ErrAgentNotFound),
		errors.Is(err, services.ErrGlobalNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrWalkNotFound), errors.Is(err, services.ErrEmailExists):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeServiceError writes err with its mapped status. Internal errors are
// logged in full and reported with a generic message.
func writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error("request failed", "err", err)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}
