// ABOUTME: Tests for HTTP authentication middleware and cookie helpers
// ABOUTME: Covers token extraction, validation, user lookup, and admin gate

package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sahil-Karanje/chat-backend/internal/store"
)

func serveWithAuth(t *testing.T, svc *Service, req *http.Request) (*httptest.ResponseRecorder, *AuthContext) {
	t.Helper()
	var got *AuthContext
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	HTTPAuthMiddleware(svc)(handler).ServeHTTP(rec, req)
	return rec, got
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		token   string
		wantErr bool
	}{
		{header: "", wantErr: true},
		{header: "Basic abc", wantErr: true},
		{header: "Bearer ", wantErr: true},
		{header: "Bearer abc.def", token: "abc.def"},
	}
	for _, tt := range tests {
		token, errMsg := extractBearerToken(tt.header)
		assert.Equal(t, tt.token, token, tt.header)
		assert.Equal(t, tt.wantErr, errMsg != "", tt.header)
	}
}

func TestTokensFromRequest_Order(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer header-token")
	req.AddCookie(&http.Cookie{Name: AccessCookieName, Value: "cookie-token"})
	assert.Equal(t, []string{"cookie-token", "header-token"}, TokensFromRequest(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer same")
	req.AddCookie(&http.Cookie{Name: AccessCookieName, Value: "same"})
	assert.Equal(t, []string{"same"}, TokensFromRequest(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer header-token")
	assert.Equal(t, []string{"header-token"}, TokensFromRequest(req))

	assert.Empty(t, TokensFromRequest(httptest.NewRequest(http.MethodGet, "/", nil)))
}

func TestHTTPAuthMiddleware_StaleCookieFallsBackToBearer(t *testing.T) {
	svc, _ := newTestService(t)
	sess := registerAlice(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: AccessCookieName, Value: "expired-or-garbage"})
	req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
	rec, got := serveWithAuth(t, svc, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, sess.User.ID, got.UserID)

	// both invalid: the bearer's failure is reported
	req = httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: AccessCookieName, Value: "stale"})
	req.Header.Set("Authorization", "Bearer also-bad")
	rec, got = serveWithAuth(t, svc, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, got)
}

func TestAuthenticateAny_NoTokens(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := AuthenticateAny(context.Background(), svc, nil)
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestHTTPAuthMiddleware_ValidToken(t *testing.T) {
	svc, _ := newTestService(t)
	sess := registerAlice(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
	rec, got := serveWithAuth(t, svc, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, sess.User.ID, got.UserID)
	assert.Equal(t, "alice_01", got.Username)
}

func TestHTTPAuthMiddleware_Failures(t *testing.T) {
	svc, s := newTestService(t)
	sess := registerAlice(t, svc)
	orphan, _ := svc.tokens.IssueAccessToken("ghost")

	deleted, err := svc.Register(context.Background(), RegisterInput{
		Name: "Gone", Username: "gone", Email: "gone@example.com", Password: "password1",
	})
	require.NoError(t, err)
	require.NoError(t, s.SoftDeleteUser(context.Background(), deleted.User.ID, time.Now()))

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{name: "no token", token: "", status: http.StatusUnauthorized},
		{name: "garbage", token: "nope", status: http.StatusUnauthorized},
		{name: "refresh token", token: sess.RefreshToken, status: http.StatusUnauthorized},
		{name: "unknown user", token: orphan, status: http.StatusNotFound},
		{name: "deleted user", token: deleted.AccessToken, status: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
			if tt.token != "" {
				req.AddCookie(&http.Cookie{Name: AccessCookieName, Value: tt.token})
			}
			rec, got := serveWithAuth(t, svc, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Nil(t, got)
			body := decodeEnvelope(t, rec)
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestRequireAdminHTTP(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	gate := RequireAdminHTTP()(ok)

	tests := []struct {
		name   string
		auth   *AuthContext
		status int
	}{
		{name: "anonymous", status: http.StatusUnauthorized},
		{name: "user", auth: &AuthContext{UserID: "u", Role: store.RoleUser}, status: http.StatusForbidden},
		{name: "admin", auth: &AuthContext{UserID: "a", Role: store.RoleAdmin}, status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.auth != nil {
				req = req.WithContext(WithAuth(req.Context(), tt.auth))
			}
			rec := httptest.NewRecorder()
			gate.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestCookies(t *testing.T) {
	cfg := CookieConfig{Secure: true, AccessTTL: 15 * time.Minute, RefreshTTL: 7 * 24 * time.Hour}

	rec := httptest.NewRecorder()
	SetAuthCookies(rec, cfg, "a", "r")
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 2)
	assert.Equal(t, AccessCookieName, cookies[0].Name)
	assert.Equal(t, 900, cookies[0].MaxAge)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, http.SameSiteNoneMode, cookies[0].SameSite)
	assert.Equal(t, RefreshCookieName, cookies[1].Name)
	assert.Equal(t, 604800, cookies[1].MaxAge)

	rec = httptest.NewRecorder()
	SetAccessCookie(rec, CookieConfig{AccessTTL: time.Minute}, "a2")
	cookies = rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.False(t, cookies[0].Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)

	rec = httptest.NewRecorder()
	ClearAuthCookies(rec, cfg)
	for _, c := range rec.Result().Cookies() {
		assert.Empty(t, c.Value)
		assert.Less(t, c.MaxAge, 0)
	}
}
