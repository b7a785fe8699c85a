package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"fitgate/internal/audit"
	"fitgate/internal/guest/store"
	"fitgate/internal/review"
	dErrors "fitgate/pkg/domainerrors"
	"fitgate/pkg/platform/httputil"
)

// Handler is the thin HTTP layer. It delegates to domain services without
// embedding business logic so transport concerns remain isolated.
type Handler struct {
	reviews *review.Service
	store   store.Store
	auditor *audit.Publisher
	logger  *slog.Logger
}

func NewHandler(reviews *review.Service, st store.Store, auditor *audit.Publisher, logger *slog.Logger) *Handler {
	return &Handler{
		reviews: reviews,
		store:   st,
		auditor: auditor,
		logger:  logger,
	}
}

type reviewResponse struct {
	Review *review.ScoreResult `json:"review"`
	Quota  *quotaResponse      `json:"quota,omitempty"`
}

type quotaResponse struct {
	Limit     int  `json:"limit"`
	Used      int  `json:"used"`
	Remaining int  `json:"remaining"`
	Unlimited bool `json:"unlimited"`
}

func (h *Handler) handleSubmitReview(w http.ResponseWriter, r *http.Request) {
	identity := GetIdentity(r.Context())

	var req review.ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed request body"))
		return
	}

	sub, err := h.reviews.SubmitReview(r.Context(), identity, req)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "review submission failed",
			"identity_key", identity.Key, "error", err)
		httputil.WriteError(w, err)
		return
	}
	if !sub.Decision.Admitted {
		writeDenial(w, sub.Decision)
		return
	}

	resp := reviewResponse{Review: sub.Review}
	if identity.IsGuest() {
		resp.Quota = &quotaResponse{
			Limit:     sub.Decision.Limit,
			Used:      sub.Decision.Used,
			Remaining: sub.Decision.Remaining,
		}
	} else {
		resp.Quota = &quotaResponse{Unlimited: true}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleQuota(w http.ResponseWriter, r *http.Request) {
	identity := GetIdentity(r.Context())

	if !identity.IsGuest() {
		httputil.WriteJSON(w, http.StatusOK, quotaResponse{Unlimited: true})
		return
	}

	rec, err := h.store.Get(r.Context(), identity.Key)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "quota lookup failed",
			"identity_key", identity.Key, "error", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "quota unavailable"))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, quotaResponse{
		Limit:     rec.UsageLimit,
		Used:      rec.UsedCount,
		Remaining: rec.Remaining(),
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
