package httptransport

import (
	"errors"
	"net/http"

	"fitgate/internal/admission"
	"fitgate/internal/guest/models"
	"fitgate/internal/guest/resolver"
	dErrors "fitgate/pkg/domainerrors"
	"fitgate/pkg/platform/httputil"
)

// denialResponse is the envelope for every refused request. The code field
// is the machine-readable contract clients branch on.
type denialResponse struct {
	Error string          `json:"error"`
	Code  models.DenyCode `json:"code"`

	// Quota standing, only present on usage-limit denials.
	Limit   int    `json:"limit,omitempty"`
	Used    int    `json:"used,omitempty"`
	Message string `json:"message,omitempty"`
}

func denyStatus(code models.DenyCode) int {
	switch code {
	case models.CodeInvalidDeviceID, models.CodeMissingDeviceID, models.CodeInvalidSession:
		return http.StatusBadRequest
	case models.CodeDeviceBlocked, models.CodeHighRiskDevice:
		return http.StatusForbidden
	case models.CodeDailyLimitExceeded, models.CodeRateLimitExceeded, models.CodeLimitReached:
		return http.StatusTooManyRequests
	default:
		return http.StatusForbidden
	}
}

func denyMessage(code models.DenyCode) string {
	switch code {
	case models.CodeDeviceBlocked:
		return "this device has been blocked"
	case models.CodeHighRiskDevice:
		return "requests from this device are not being accepted"
	case models.CodeDailyLimitExceeded:
		return "daily request limit reached, try again tomorrow"
	case models.CodeRateLimitExceeded:
		return "too many requests, slow down"
	case models.CodeLimitReached:
		return "free review limit reached, sign up for unlimited reviews"
	default:
		return "request denied"
	}
}

func writeDenial(w http.ResponseWriter, result *admission.Result) {
	resp := denialResponse{
		Error: denyMessage(result.Code),
		Code:  result.Code,
	}
	if result.Code == models.CodeLimitReached {
		resp.Limit = result.Limit
		resp.Used = result.Used
		resp.Message = "sign up to keep reviewing outfits"
	}
	httputil.WriteJSON(w, denyStatus(result.Code), resp)
}

// writeResolutionError maps resolver failures onto the denial envelope.
// Anything unrecognized falls through to the generic domain error writer.
func writeResolutionError(w http.ResponseWriter, err error) {
	var code models.DenyCode
	switch {
	case errors.Is(err, resolver.ErrUnauthenticated):
		httputil.WriteJSON(w, http.StatusUnauthorized, denialResponse{
			Error: "invalid or expired token",
			Code:  models.DenyCode("UNAUTHENTICATED"),
		})
		return
	case errors.Is(err, resolver.ErrInvalidDeviceID):
		code = models.CodeInvalidDeviceID
	case errors.Is(err, resolver.ErrMissingDeviceID):
		code = models.CodeMissingDeviceID
	case errors.Is(err, resolver.ErrInvalidSession):
		code = models.CodeInvalidSession
	default:
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, denyStatus(code), denialResponse{
		Error: dErrors.MessageOf(err),
		Code:  code,
	})
}
