package handlers

import (
	"errors"
	"maps"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/facegate/internal/credential"
	"github.com/kozaktomas/facegate/internal/logging"
	"github.com/kozaktomas/facegate/internal/web/middleware"
)

// AccountHandler serves the signed-in account area.
type AccountHandler struct {
	store  credential.Store
	logger *zap.Logger
}

// NewAccountHandler creates a new account handler.
func NewAccountHandler(store credential.Store, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{store: store, logger: logging.OrNop(logger)}
}

// AccountResponse is the public view of an account. Secrets and descriptors are never returned.
type AccountResponse struct {
	Email      string            `json:"email"`
	Role       string            `json:"role,omitempty"`
	Attributes map[string]string `json:"attributes"`
	Enrolled   bool              `json:"enrolled"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// NewAccountResponse strips a record down to its display fields.
func NewAccountResponse(rec *credential.AccountRecord) AccountResponse {
	attrs := maps.Clone(rec.DisplayAttributes)
	if attrs == nil {
		attrs = map[string]string{}
	}
	role := attrs[credential.RoleAttribute]
	delete(attrs, credential.RoleAttribute)
	return AccountResponse{
		Email:      rec.Identifier,
		Role:       role,
		Attributes: attrs,
		Enrolled:   rec.HasDescriptor(),
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
}

// Get returns the account of the current session.
func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSessionFromContext(r.Context())
	if session == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	rec, err := h.store.Get(r.Context(), session.Identifier)
	if errors.Is(err, credential.ErrNotFound) {
		respondError(w, http.StatusNotFound, "account not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load account", zap.String("session_id", session.ID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load account")
		return
	}
	respondJSON(w, http.StatusOK, NewAccountResponse(rec))
}
