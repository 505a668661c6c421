package handlers

import (
	"context"
	"net/http"

	"github.com/kozaktomas/facegate/internal/model"
)

// ModelGate is the part of model.Gate the status endpoints use.
type ModelGate interface {
	Status() (model.Status, error)
	Source() model.Source
	Warm(ctx context.Context)
}

// ModelHandler reports and triggers embedding model loading.
type ModelHandler struct {
	gate ModelGate
}

// NewModelHandler creates a new model handler.
func NewModelHandler(gate ModelGate) *ModelHandler {
	return &ModelHandler{gate: gate}
}

// ModelStatusResponse is the observable state of the model gate.
type ModelStatusResponse struct {
	Model    string       `json:"model"`
	Detector string       `json:"detector,omitempty"`
	Dim      int          `json:"dim"`
	Status   model.Status `json:"status"`
	Error    string       `json:"error,omitempty"`
}

func (h *ModelHandler) status() ModelStatusResponse {
	src := h.gate.Source()
	status, err := h.gate.Status()
	resp := ModelStatusResponse{
		Model:    src.Name,
		Detector: src.Detector,
		Dim:      src.Dim,
		Status:   status,
	}
	if err != nil {
		resp.Error = "model failed to load"
	}
	return resp
}

// Status returns the current model status.
func (h *ModelHandler) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.status())
}

// Warm starts loading the model in the background.
func (h *ModelHandler) Warm(w http.ResponseWriter, r *http.Request) {
	h.gate.Warm(r.Context())
	respondJSON(w, http.StatusAccepted, h.status())
}

// Events streams model status changes until the model is ready or failed.
func (h *ModelHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamStatus(w, r, sseStatusInterval, h.status, func(s ModelStatusResponse) bool {
		return s.Status == model.StatusReady || s.Status == model.StatusFailed
	})
}
