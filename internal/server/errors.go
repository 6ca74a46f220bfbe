package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/archive"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/intake"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/queue"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/store"
)

// statusFor maps a handler error to its HTTP status and client message.
func statusFor(err error) (int, string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, intake.ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, intake.ErrDecode):
		return http.StatusBadRequest, "Failed to decode attachment content."
	case errors.Is(err, intake.ErrEmptyDocument):
		return http.StatusBadRequest, "Uploaded file is empty."
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "Invalid request body."
	case errors.Is(err, intake.ErrTooLarge), errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, "Uploaded file is too large."
	case errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrClosed):
		return http.StatusServiceUnavailable, "Processing queue is full, try again later."
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "Deal not found"
	case errors.Is(err, archive.ErrNotFound):
		return http.StatusNotFound, "PDF not found for this deal"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("server: request failed", zap.Int("status", status), zap.Error(err))
	} else {
		zap.L().Debug("server: request rejected", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, msg)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}
