package httptransport

import (
	"context"
	"net/http"

	"fitgate/internal/guest/evidence"
	"fitgate/internal/guest/models"
	"fitgate/internal/guest/resolver"
)

type contextKeyIdentity struct{}

// GetIdentity retrieves the resolved identity from the context. The zero
// value means the identity middleware did not run.
func GetIdentity(ctx context.Context) models.Identity {
	identity, _ := ctx.Value(contextKeyIdentity{}).(models.Identity)
	return identity
}

// WithIdentity injects an identity, for handler tests that skip the chain.
func WithIdentity(ctx context.Context, identity models.Identity) context.Context {
	return context.WithValue(ctx, contextKeyIdentity{}, identity)
}

// ResolveIdentity extracts evidence from the request, resolves it to exactly
// one identity, and stashes it in the context. A freshly minted session is
// handed back as a cookie so the same guest keys the same record next time.
func ResolveIdentity(res *resolver.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ev := evidence.Extract(r)

			if legacy, ok := ev.(models.LegacySessionEvidence); ok && legacy.Minted {
				http.SetCookie(w, &http.Cookie{
					Name:     evidence.SessionCookie,
					Value:    legacy.SessionID,
					Path:     "/",
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
				})
			}

			identity, err := res.Resolve(r.Context(), ev)
			if err != nil {
				writeResolutionError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}
