package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/unowned-ai/resonance/pkg/memories"
)

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusFor maps engine sentinels to a status code and a stable error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, memories.ErrInvalidRecord):
		return http.StatusBadRequest, "invalid_record"
	case errors.Is(err, memories.ErrInvalidQuery):
		return http.StatusBadRequest, "invalid_query"
	case errors.Is(err, memories.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, memories.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, memories.ErrNoMatch):
		return http.StatusUnprocessableEntity, "no_match"
	case errors.Is(err, memories.ErrCancelled):
		return http.StatusRequestTimeout, "cancelled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: decode body: %v", memories.ErrInvalidRecord, err)
	}
	return nil
}
