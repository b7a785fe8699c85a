package httptransport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitgate/internal/admission"
	"fitgate/internal/audit"
	"fitgate/internal/guest/evidence"
	"fitgate/internal/guest/resolver"
	memstore "fitgate/internal/guest/store/memory"
	"fitgate/internal/jwttoken"
	"fitgate/internal/platform/config"
	"fitgate/internal/ratelimit"
	"fitgate/internal/ratelimit/bucket"
	"fitgate/internal/review"
	"fitgate/internal/risk"
)

const (
	testDeviceID   = "dev_0123456789abcdef0123456789abcdef"
	testAdminToken = "test-admin-token"
)

type testEnv struct {
	handler    http.Handler
	store      *memstore.Store
	jwt        *jwttoken.Service
	auditStore *audit.InMemoryStore
}

func newEnv(t *testing.T, policy config.Admission) *testEnv {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	st := memstore.New()
	auditStore := audit.NewInMemoryStore()
	auditor := audit.NewPublisher(auditStore)

	jwtSvc := jwttoken.NewService("test-signing-key", "fitgate", "fitgate-api")
	res, err := resolver.New(st, jwtSvc, policy.GuestUsageLimit, policy.KnownIPCap, resolver.WithLogger(logger))
	require.NoError(t, err)

	engine, err := risk.New(st, policy.HighRiskThreshold, policy.BurstRiskSignal, risk.WithLogger(logger))
	require.NoError(t, err)

	admitter, err := admission.New(st, engine, policy,
		admission.WithLogger(logger), admission.WithAuditPublisher(auditor))
	require.NoError(t, err)

	reviews, err := review.New(admitter, review.NewHeuristicScorer(), review.WithLogger(logger))
	require.NoError(t, err)

	ipLimiter := ratelimit.NewMiddleware(
		ratelimit.NewLimiter(bucket.NewInMemoryStore(), policy.IPRequestLimit, policy.IPWindow), logger)

	h := NewHandler(reviews, st, auditor, logger)
	return &testEnv{
		handler:    NewRouter(h, res, ipLimiter, nil, testAdminToken, logger),
		store:      st,
		jwt:        jwtSvc,
		auditStore: auditStore,
	}
}

func submitReview(env *testEnv, decorate func(*http.Request)) *httptest.ResponseRecorder {
	body, _ := json.Marshal(map[string]string{"image_url": "https://img.example/fit.jpg"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reviews", bytes.NewReader(body))
	req.RemoteAddr = "198.51.100.7:4000"
	if decorate != nil {
		decorate(req)
	}
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	return rr
}

func asDevice(req *http.Request) {
	req.Header.Set(evidence.HeaderDeviceID, testDeviceID)
	req.Header.Set(evidence.HeaderDeviceFingerprint, "fp-1")
	req.Header.Set(evidence.HeaderDevicePlatform, "ios")
}

func TestSubmitReviewGuestFlow(t *testing.T) {
	env := newEnv(t, config.DefaultAdmission())

	for i := 1; i <= 3; i++ {
		rr := submitReview(env, asDevice)
		require.Equal(t, http.StatusOK, rr.Code, "request %d body: %s", i, rr.Body.String())

		var resp struct {
			Review struct {
				Score    int    `json:"score"`
				ReviewID string `json:"review_id"`
			} `json:"review"`
			Quota struct {
				Limit     int `json:"limit"`
				Used      int `json:"used"`
				Remaining int `json:"remaining"`
			} `json:"quota"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Review.ReviewID)
		assert.Equal(t, 3, resp.Quota.Limit)
		assert.Equal(t, i, resp.Quota.Used)
		assert.Equal(t, 3-i, resp.Quota.Remaining)
	}

	rr := submitReview(env, asDevice)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	var denial struct {
		Code    string `json:"code"`
		Limit   int    `json:"limit"`
		Used    int    `json:"used"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &denial))
	assert.Equal(t, "LIMIT_REACHED", denial.Code)
	assert.Equal(t, 3, denial.Limit)
	assert.Equal(t, 3, denial.Used)
	assert.NotEmpty(t, denial.Message)
}

func TestSubmitReviewAuthenticatedBypassesQuota(t *testing.T) {
	env := newEnv(t, config.DefaultAdmission())

	token, err := env.jwt.GenerateAccessToken("user-42", time.Hour)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		rr := submitReview(env, func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+token)
			// Device headers present but the token wins precedence.
			asDevice(req)
		})
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"unlimited":true`)
	}
}

func TestSubmitReviewRejections(t *testing.T) {
	t.Run("expired token is terminal", func(t *testing.T) {
		env := newEnv(t, config.DefaultAdmission())
		token, err := env.jwt.GenerateAccessToken("user-42", -time.Hour)
		require.NoError(t, err)

		rr := submitReview(env, func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+token)
			asDevice(req)
		})
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("malformed device id", func(t *testing.T) {
		env := newEnv(t, config.DefaultAdmission())
		rr := submitReview(env, func(req *http.Request) {
			req.Header.Set(evidence.HeaderDeviceID, "dev_NOPE")
			req.Header.Set(evidence.HeaderDeviceFingerprint, "fp-1")
		})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "INVALID_DEVICE_ID")
	})

	t.Run("blocked device", func(t *testing.T) {
		env := newEnv(t, config.DefaultAdmission())
		rr := submitReview(env, asDevice)
		require.Equal(t, http.StatusOK, rr.Code)

		require.NoError(t, env.store.SetBlocked(t.Context(), testDeviceID, true))

		rr = submitReview(env, asDevice)
		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Contains(t, rr.Body.String(), "DEVICE_BLOCKED")
	})
}

func TestAnonymousSessionMinting(t *testing.T) {
	env := newEnv(t, config.DefaultAdmission())

	rr := submitReview(env, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	cookies := rr.Result().Cookies()
	require.NotEmpty(t, cookies, "first contact should mint a session cookie")
	var session string
	for _, c := range cookies {
		if c.Name == evidence.SessionCookie {
			session = c.Value
		}
	}
	require.NotEmpty(t, session)

	// Replay the cookie; the second request must consume the same record.
	rr = submitReview(env, func(req *http.Request) {
		req.AddCookie(&http.Cookie{Name: evidence.SessionCookie, Value: session})
	})
	require.Equal(t, http.StatusOK, rr.Code)

	rec, err := env.store.Get(t.Context(), session)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.UsedCount)
}

func TestQuotaEndpoint(t *testing.T) {
	env := newEnv(t, config.DefaultAdmission())

	rr := submitReview(env, asDevice)
	require.Equal(t, http.StatusOK, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/quota", nil)
	req.RemoteAddr = "198.51.100.7:4000"
	asDevice(req)
	quotaRR := httptest.NewRecorder()
	env.handler.ServeHTTP(quotaRR, req)

	require.Equal(t, http.StatusOK, quotaRR.Code)
	var resp struct {
		Limit     int `json:"limit"`
		Used      int `json:"used"`
		Remaining int `json:"remaining"`
	}
	require.NoError(t, json.Unmarshal(quotaRR.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Limit)
	assert.Equal(t, 1, resp.Used)
	assert.Equal(t, 2, resp.Remaining)

	// Checking quota must not consume quota.
	require.NoError(t, json.Unmarshal(quotaRR.Body.Bytes(), &resp))
	rec, err := env.store.Get(t.Context(), testDeviceID)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.UsedCount)
}

func TestPerIPLimiterShedsFloods(t *testing.T) {
	policy := config.DefaultAdmission()
	policy.IPRequestLimit = 2
	policy.GuestUsageLimit = 100
	policy.DailyRequestLimit = 1000
	policy.BurstRequestLimit = 1000
	env := newEnv(t, policy)

	for i := 0; i < 2; i++ {
		rr := submitReview(env, asDevice)
		require.Equal(t, http.StatusOK, rr.Code)
	}

	rr := submitReview(env, asDevice)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
}

func TestAdminEndpoints(t *testing.T) {
	env := newEnv(t, config.DefaultAdmission())

	// Exhaust the guest.
	for i := 0; i < 3; i++ {
		rr := submitReview(env, asDevice)
		require.Equal(t, http.StatusOK, rr.Code)
	}
	rr := submitReview(env, asDevice)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)

	t.Run("requires the admin token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost,
			fmt.Sprintf("/admin/identities/%s/reset-usage", testDeviceID), nil)
		rr := httptest.NewRecorder()
		env.handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("usage reset restores the quota", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost,
			fmt.Sprintf("/admin/identities/%s/reset-usage", testDeviceID), nil)
		req.Header.Set("X-Admin-Token", testAdminToken)
		rr := httptest.NewRecorder()
		env.handler.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)

		reviewRR := submitReview(env, asDevice)
		assert.Equal(t, http.StatusOK, reviewRR.Code)

		events, err := env.auditStore.ListByIdentity(t.Context(), testDeviceID)
		require.NoError(t, err)
		var found bool
		for _, e := range events {
			if e.Action == audit.ActionUsageReset {
				found = true
			}
		}
		assert.True(t, found, "admin reset must be audited")
	})

	t.Run("unknown identity is 404", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost,
			"/admin/identities/dev_ffffffffffffffffffffffffffffffff/reset-usage", nil)
		req.Header.Set("X-Admin-Token", testAdminToken)
		rr := httptest.NewRecorder()
		env.handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}
