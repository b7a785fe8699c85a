package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"fitgate/internal/audit"
	dErrors "fitgate/pkg/domainerrors"
	"fitgate/pkg/platform/httputil"
	"fitgate/pkg/platform/sentinel"
)

// Operator endpoints. These are the only sanctioned way counters decrease
// outside their windows, so every call lands in the audit stream.

func (h *Handler) handleResetUsage(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := h.store.ResetUsage(r.Context(), key); err != nil {
		h.writeAdminError(w, r, key, "usage reset failed", err)
		return
	}
	h.emitAdmin(r, key, audit.ActionUsageReset, "")
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) handleResetRisk(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := h.store.ResetRisk(r.Context(), key); err != nil {
		h.writeAdminError(w, r, key, "risk reset failed", err)
		return
	}
	h.emitAdmin(r, key, audit.ActionRiskReset, "")
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) handleSetBlocked(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req struct {
		Blocked bool   `json:"blocked"`
		Reason  string `json:"reason,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed request body"))
		return
	}

	if err := h.store.SetBlocked(r.Context(), key, req.Blocked); err != nil {
		h.writeAdminError(w, r, key, "block update failed", err)
		return
	}
	h.emitAdmin(r, key, audit.ActionDeviceBlock, req.Reason)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"blocked": req.Blocked})
}

func (h *Handler) handleGetIdentity(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	rec, err := h.store.Get(r.Context(), key)
	if err != nil {
		h.writeAdminError(w, r, key, "identity lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleListAudit(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	events, err := h.auditor.List(r.Context(), key)
	if err != nil {
		h.writeAdminError(w, r, key, "audit lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *Handler) emitAdmin(r *http.Request, key string, action audit.Action, reason string) {
	if h.auditor == nil {
		return
	}
	if err := h.auditor.Emit(r.Context(), audit.Event{
		IdentityKey: key,
		Action:      action,
		Reason:      reason,
	}); err != nil {
		h.logger.ErrorContext(r.Context(), "admin audit emit failed", "identity_key", key, "error", err)
	}
}

func (h *Handler) writeAdminError(w http.ResponseWriter, r *http.Request, key, msg string, err error) {
	if errors.Is(err, sentinel.ErrNotFound) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "unknown identity"))
		return
	}
	h.logger.ErrorContext(r.Context(), msg, "identity_key", key, "error", err)
	httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, msg))
}
