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

type verificationEntry struct {
	*flow.Verification
	inbox *capture.Inbox
}

// VerificationHandler drives verification (login) flows over HTTP.
type VerificationHandler struct {
	opts     FlowOptions
	registry *flow.Registry[*verificationEntry]
}

// NewVerificationHandler creates a new verification handler.
func NewVerificationHandler(opts FlowOptions) *VerificationHandler {
	return &VerificationHandler{
		opts:     opts,
		registry: flow.NewRegistry[*verificationEntry](opts.idleTimeout(), opts.Logger),
	}
}

// credentialsRequest is the first verification step.
type credentialsRequest struct {
	Identifier string `json:"email"`
	Secret     string `json:"password"`
}

// verificationResponse is a snapshot plus the session issued on success.
type verificationResponse struct {
	flow.VerificationSnapshot
	*sessionResponse
}

// Run expires idle verifications until ctx is done.
func (h *VerificationHandler) Run(ctx context.Context, interval time.Duration) {
	h.registry.Run(ctx, interval)
}

// Active returns the number of live verifications.
func (h *VerificationHandler) Active() int {
	return h.registry.Len()
}

func (h *VerificationHandler) lookup(w http.ResponseWriter, r *http.Request) (*verificationEntry, bool) {
	id := chi.URLParam(r, "id")
	v, ok := h.registry.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "verification not found")
		return nil, false
	}
	return v, true
}

// Start checks the credentials. A rejected check is answered with 401 and
// the flow is discarded; the camera is never opened for it.
func (h *VerificationHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Identifier == "" || req.Secret == "" {
		respondError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	camera, inbox := h.opts.newCamera()
	v := &verificationEntry{Verification: flow.NewVerification(h.opts.Deps, camera), inbox: inbox}
	if err := v.CheckCredentials(r.Context(), req.Identifier, req.Secret); err != nil {
		_ = v.Close()
		respondFlowError(w, err)
		return
	}

	snap := v.Snapshot()
	if snap.State == flow.VerifyRejected {
		_ = v.Close()
		h.opts.logger("verification.credentials", v.ID()).Info("credentials rejected",
			zap.String("identifier", sanitizeForLog(req.Identifier)),
			zap.String("reason", string(snap.Rejection.Reason)))
		respondJSON(w, http.StatusUnauthorized, snap)
		return
	}

	h.registry.Add(v)
	respondJSON(w, http.StatusCreated, snap)
}

// Get returns the current verification state.
func (h *VerificationHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, ok := h.lookup(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, v.Snapshot())
}

// OpenCamera opens the camera after a successful credential check.
func (h *VerificationHandler) OpenCamera(w http.ResponseWriter, r *http.Request) {
	v, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := v.OpenCamera(r.Context()); err != nil {
		respondFlowError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, v.Snapshot())
}

// Capture takes a frame and compares the face with the enrolled one. On a
// match a session is issued and the flow is discarded.
func (h *VerificationHandler) Capture(w http.ResponseWriter, r *http.Request) {
	v, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if !submitFrame(w, r, v.inbox) {
		return
	}
	if err := v.Capture(r.Context()); err != nil {
		respondFlowError(w, err)
		return
	}

	snap := v.Snapshot()
	if snap.State != flow.VerifyAuthenticated {
		respondJSON(w, http.StatusOK, snap)
		return
	}

	h.registry.Remove(v.ID())
	session, err := h.opts.issueSession(w, v.Identifier())
	if err != nil {
		h.opts.logger("verification.session", v.ID()).Error("failed to issue session", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	respondJSON(w, http.StatusOK, verificationResponse{VerificationSnapshot: snap, sessionResponse: session})
}

// Retry re-arms capture after a biometric mismatch while attempts remain.
func (h *VerificationHandler) Retry(w http.ResponseWriter, r *http.Request) {
	v, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := v.Retry(); err != nil {
		respondFlowError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, v.Snapshot())
}

// Cancel releases the camera and keeps the credential check.
func (h *VerificationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	v, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := v.Cancel(); err != nil {
		respondFlowError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, v.Snapshot())
}

// Delete discards the verification, releasing the camera in any state.
func (h *VerificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	v, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.registry.Remove(v.ID())
	w.WriteHeader(http.StatusNoContent)
}
