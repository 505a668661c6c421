package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kozaktomas/facegate/internal/capture"
	"github.com/kozaktomas/facegate/internal/flow"
)

type enrollmentEntry struct {
	*flow.Enrollment
	inbox *capture.Inbox
}

// EnrollmentHandler drives enrollment flows over HTTP.
type EnrollmentHandler struct {
	opts     FlowOptions
	registry *flow.Registry[*enrollmentEntry]
}

// NewEnrollmentHandler creates a new enrollment handler.
func NewEnrollmentHandler(opts FlowOptions) *EnrollmentHandler {
	return &EnrollmentHandler{
		opts:     opts,
		registry: flow.NewRegistry[*enrollmentEntry](opts.idleTimeout(), opts.Logger),
	}
}

// enrollmentResponse is a snapshot plus the session issued on completion.
type enrollmentResponse struct {
	flow.EnrollmentSnapshot
	*sessionResponse
}

// Run expires idle enrollments until ctx is done.
func (h *EnrollmentHandler) Run(ctx context.Context, interval time.Duration) {
	h.registry.Run(ctx, interval)
}

// Active returns the number of live enrollments.
func (h *EnrollmentHandler) Active() int {
	return h.registry.Len()
}

func (h *EnrollmentHandler) lookup(w http.ResponseWriter, r *http.Request) (*enrollmentEntry, bool) {
	id := chi.URLParam(r, "id")
	e, ok := h.registry.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "enrollment not found")
		return nil, false
	}
	return e, true
}

// Start creates an enrollment and opens its camera.
func (h *EnrollmentHandler) Start(w http.ResponseWriter, r *http.Request) {
	camera, inbox := h.opts.newCamera()
	e := &enrollmentEntry{Enrollment: flow.NewEnrollment(h.opts.Deps, camera), inbox: inbox}
	if err := e.Begin(r.Context()); err != nil {
		_ = e.Close()
		respondFlowError(w, err)
		return
	}
	h.registry.Add(e)
	h.opts.logger("enrollment.start", e.ID()).Debug("enrollment started", zap.String("state", e.State().String()))
	respondJSON(w, http.StatusCreated, e.Snapshot())
}

// Get returns the current enrollment state.
func (h *EnrollmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	e, ok := h.lookup(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, e.Snapshot())
}

// Begin retries opening the camera after a failed start.
func (h *EnrollmentHandler) Begin(w http.ResponseWriter, r *http.Request) {
	e, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := e.Begin(r.Context()); err != nil {
		respondFlowError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, e.Snapshot())
}

// Capture takes a frame, from the upload or the server camera, and extracts the face.
func (h *EnrollmentHandler) Capture(w http.ResponseWriter, r *http.Request) {
	e, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if !submitFrame(w, r, e.inbox) {
		return
	}
	if err := e.Capture(r.Context()); err != nil {
		respondFlowError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, e.Snapshot())
}

// Frame serves the frame retained from the last successful capture.
func (h *EnrollmentHandler) Frame(w http.ResponseWriter, r *http.Request) {
	e, ok := h.lookup(w, r)
	if !ok {
		return
	}
	frame, ok := e.Frame()
	if !ok {
		respondError(w, http.StatusNotFound, "no captured frame")
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(frame.Data))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(frame.Data)
}

// Proceed confirms the captured face and releases the camera.
func (h *EnrollmentHandler) Proceed(w http.ResponseWriter, r *http.Request) {
	e, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := e.Proceed(); err != nil {
		respondFlowError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, e.Snapshot())
}

// Submit stores the account and signs the new user in.
func (h *EnrollmentHandler) Submit(w http.ResponseWriter, r *http.Request) {
	e, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var details flow.Details
	if err := json.NewDecoder(r.Body).Decode(&details); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	if err := e.Submit(r.Context(), details); err != nil {
		respondFlowError(w, err)
		return
	}

	snap := e.Snapshot()
	h.registry.Remove(e.ID())

	session, err := h.opts.issueSession(w, snap.Identifier)
	if err != nil {
		h.opts.logger("enrollment.session", e.ID()).Error("failed to issue session", zap.Error(err))
		respondJSON(w, http.StatusCreated, enrollmentResponse{EnrollmentSnapshot: snap})
		return
	}
	respondJSON(w, http.StatusCreated, enrollmentResponse{EnrollmentSnapshot: snap, sessionResponse: session})
}

// Cancel releases the camera and returns the enrollment to its first step.
func (h *EnrollmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	e, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := e.Cancel(); err != nil {
		respondFlowError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, e.Snapshot())
}

// Delete discards the enrollment, releasing the camera in any state.
func (h *EnrollmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	e, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.registry.Remove(e.ID())
	w.WriteHeader(http.StatusNoContent)
}
