// Package evidence classifies the identity material a request carries.
// Extraction is pure: it never validates, never touches storage.
package evidence

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/mssola/useragent"

	"fitgate/internal/guest/models"
)

// Request-side headers consumed by the extractor.
const (
	HeaderDeviceID          = "X-Device-ID"
	HeaderDeviceFingerprint = "X-Device-Fingerprint"
	HeaderDevicePlatform    = "X-Device-Platform"
	HeaderDeviceName        = "X-Device-Name"
	HeaderAppVersion        = "X-App-Version"
	HeaderDeviceOS          = "X-Device-OS"
	HeaderDeviceWarning     = "X-Device-Warning"

	SessionCookie = "guest-session"
)

// legacySessionHeaders, in fixed priority order after the cookie. net/http
// canonicalizes "guest-session" and "Guest-Session" to the same key, so the
// historical variants collapse to two lookups.
var legacySessionHeaders = []string{"Guest-Session", "X-Guest-Session"}

// Extract classifies the request's identity evidence into exactly one bundle:
// bearer token, device evidence, or legacy session. When no evidence exists a
// fresh session id is minted so the caller still gets a durable identity key.
func Extract(r *http.Request) models.Evidence {
	if token := bearerToken(r); token != "" {
		return models.BearerToken{Token: token}
	}

	deviceID := strings.TrimSpace(r.Header.Get(HeaderDeviceID))
	fingerprint := strings.TrimSpace(r.Header.Get(HeaderDeviceFingerprint))
	if deviceID != "" && fingerprint != "" {
		return models.DeviceEvidence{
			DeviceID:    deviceID,
			Fingerprint: fingerprint,
			Platform:    platformOf(r),
			DeviceName:  r.Header.Get(HeaderDeviceName),
			AppVersion:  r.Header.Get(HeaderAppVersion),
			OSVersion:   r.Header.Get(HeaderDeviceOS),
			Warning:     r.Header.Get(HeaderDeviceWarning) != "",
		}
	}

	if sessionID := legacySessionID(r); sessionID != "" {
		return models.LegacySessionEvidence{SessionID: sessionID}
	}

	return models.LegacySessionEvidence{SessionID: uuid.NewString(), Minted: true}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	if after, ok := strings.CutPrefix(r.Header.Get("Authorization"), prefix); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

func legacySessionID(r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	for _, h := range legacySessionHeaders {
		if v := strings.TrimSpace(r.Header.Get(h)); v != "" {
			return v
		}
	}
	return ""
}

// platformOf prefers the explicit platform header and falls back to parsing
// the User-Agent, so web clients without device headers still report one.
func platformOf(r *http.Request) string {
	if p := r.Header.Get(HeaderDevicePlatform); p != "" {
		return p
	}
	raw := r.Header.Get("User-Agent")
	if raw == "" {
		return ""
	}
	ua := useragent.New(raw)
	if p := ua.Platform(); p != "" {
		return p
	}
	return ua.OS()
}
