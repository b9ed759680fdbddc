package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/signalix/gateway/internal/auth"
	"github.com/signalix/gateway/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func principalEcho(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := GetPrincipal(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte(p.Method + "|" + p.Subject))
	})
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddleware(t *testing.T) {
	jwtSvc := auth.NewJWTService("secret")
	keys := auth.NewKeySet([]string{"good-key"})
	h := AuthMiddleware(keys, jwtSvc)(principalEcho(t))

	token, err := jwtSvc.SignOperatorToken("alice", nil, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header map[string]string
		status int
		body   string
	}{
		{"api key header", map[string]string{"X-API-Key": "good-key"}, http.StatusOK, "api_key|key:"},
		{"bad api key header", map[string]string{"X-API-Key": "bad"}, http.StatusUnauthorized, ""},
		{"bearer api key", map[string]string{"Authorization": "Bearer good-key"}, http.StatusOK, "api_key|key:"},
		{"bearer jwt", map[string]string{"Authorization": "Bearer " + token}, http.StatusOK, "jwt|alice"},
		{"bad bearer", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized, ""},
		{"wrong scheme", map[string]string{"Authorization": "Basic abc"}, http.StatusUnauthorized, ""},
		{"missing", nil, http.StatusUnauthorized, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			rec := serve(h, req)
			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				assert.Contains(t, rec.Body.String(), tc.body)
				return
			}
			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, false, body["success"])
		})
	}
}

func TestAuthMiddleware_OpenWhenUnconfigured(t *testing.T) {
	h := AuthMiddleware(auth.NewKeySet(nil), nil)(principalEcho(t))
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "none|anonymous", rec.Body.String())
}

func TestRequireTenant(t *testing.T) {
	jwtSvc := auth.NewJWTService("secret")
	scoped, err := jwtSvc.SignOperatorToken("bob", []string{"shop-1"}, time.Hour)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(auth.NewKeySet(nil), jwtSvc))
	r.With(RequireTenant("id")).Get("/sessions/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/sessions/shop-1", nil)
	req.Header.Set("Authorization", "Bearer "+scoped)
	assert.Equal(t, http.StatusNoContent, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/sessions/shop-2", nil)
	req.Header.Set("Authorization", "Bearer "+scoped)
	assert.Equal(t, http.StatusForbidden, serve(r, req).Code)
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	rl := NewRateLimiter(time.Minute, 2, clk)
	defer rl.Stop()

	assert.True(t, rl.Allow("a"))
	clk.Advance(30 * time.Second)
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "keys are independent")

	clk.Advance(31 * time.Second)
	assert.True(t, rl.Allow("a"), "first request left the window")
	assert.False(t, rl.Allow("a"))
}

func TestRateLimiter_CleanupAndStop(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	rl := NewRateLimiter(time.Minute, 5, clk)

	rl.Allow("a")
	rl.Allow("b")
	assert.Equal(t, 2, rl.Len())

	clk.Advance(time.Hour)
	assert.Equal(t, 0, rl.Len())
	assert.Equal(t, 1, clk.PendingCount(), "cleanup rescheduled")

	rl.Stop()
	assert.Equal(t, 0, clk.PendingCount())
}

func TestRateLimitMiddleware_PerSession(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	rl := NewRateLimiter(time.Minute, 1, clk)
	defer rl.Stop()

	r := chi.NewRouter()
	r.With(RateLimitMiddleware(rl, SessionKey)).Post("/{id}/send", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	post := func(id string) int {
		return serve(r, httptest.NewRequest(http.MethodPost, "/"+id+"/send", nil)).Code
	}
	assert.Equal(t, http.StatusOK, post("t1"))
	assert.Equal(t, http.StatusTooManyRequests, post("t1"))
	assert.Equal(t, http.StatusOK, post("t2"))
}

func TestGetIPKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "ip:10.0.0.1", GetIPKey(req))

	req.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1")
	assert.Equal(t, "ip:1.2.3.4", GetIPKey(req))
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	serve(h, httptest.NewRequest(http.MethodGet, "/missing", nil))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "/missing", line["path"])
	assert.EqualValues(t, 404, line["status"])
}
