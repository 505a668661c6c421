package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kozaktomas/facegate/internal/flow"
	"github.com/kozaktomas/facegate/internal/logging"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// MaxUploadSize caps an uploaded camera frame.
const MaxUploadSize = 10 << 20

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// validationResponse lists the fields that blocked a submission.
type validationResponse struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields"`
}

// respondFlowError maps errors returned by flow operations to HTTP statuses.
// Infrastructure errors are reported without their details.
func respondFlowError(w http.ResponseWriter, err error) {
	var verr *flow.ValidationError
	var opErr *logging.OperationError
	switch {
	case errors.As(err, &verr):
		respondJSON(w, http.StatusUnprocessableEntity, validationResponse{Error: verr.Error(), Fields: verr.Fields})
	case errors.Is(err, flow.ErrInvalidState), errors.Is(err, flow.ErrAttemptsExhausted):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusServiceUnavailable, "request cancelled")
	case errors.As(err, &opErr):
		respondError(w, http.StatusInternalServerError, opErr.Operation+" failed")
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// readFrame returns an uploaded camera frame, either the multipart field
// "frame" or a raw image body. It returns nil when the request carries none.
func readFrame(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	ct := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, "multipart/form-data"):
		r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
		if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
			return nil, fmt.Errorf("parse multipart form: %w", err)
		}
		file, _, err := r.FormFile("frame")
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read frame field: %w", err)
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, fmt.Errorf("read frame: %w", err)
		}
		return data, nil

	case strings.HasPrefix(ct, "image/"):
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxUploadSize))
		if err != nil {
			return nil, fmt.Errorf("read frame: %w", err)
		}
		return data, nil

	default:
		return nil, nil
	}
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
