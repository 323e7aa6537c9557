// ABOUTME: Shared helpers for gateway tests: a SQLite-backed gateway and JSON request helpers
// ABOUTME: Also covers construction, health endpoints and shutdown

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sahil-Karanje/chat-backend/internal/config"
	"github.com/Sahil-Karanje/chat-backend/internal/store"
)

const testConfigYAML = `
server:
  http_addr: "127.0.0.1:0"
database:
  driver: sqlite
  path: %q
auth:
  jwt_secret: "access-secret-for-gateway-tests"
  jwt_refresh_secret: "refresh-secret-for-gateway-tests"
logging:
  level: debug
`

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "chat.db")
	cfg, err := config.Parse([]byte(fmt.Sprintf(testConfigYAML, dbPath)), false)
	require.NoError(t, err)
	return cfg
}

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	cfg := newTestConfig(t)

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	require.NoError(t, err)

	gw, err := NewWithStore(cfg, s, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })
	return gw
}

// testResponse is a decoded envelope with the raw data kept for typed decoding.
type testResponse struct {
	Code    int
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Cookies []*http.Cookie
}

func (r *testResponse) decode(t *testing.T, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.Data, dst))
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *testResponse {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	resp := &testResponse{Code: rec.Code, Cookies: rec.Result().Cookies()}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), resp), "body: %s", rec.Body.String())
	return resp
}

type testUser struct {
	ID    string
	Token string
}

func registerUser(t *testing.T, gw *Gateway, username string) testUser {
	t.Helper()
	resp := doJSON(t, gw.Handler(), http.MethodPost, "/api/auth/register", "", map[string]string{
		"name":     username,
		"username": username,
		"email":    username + "@example.com",
		"password": "password123",
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Message)

	var sess struct {
		User        store.PublicUser `json:"user"`
		AccessToken string           `json:"accessToken"`
	}
	resp.decode(t, &sess)
	return testUser{ID: sess.User.ID, Token: sess.AccessToken}
}

func TestNewWithStore_BadSecrets(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Auth.JWTSecret = ""

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	require.NoError(t, err)
	defer s.Close()

	_, err = NewWithStore(cfg, s, nil)
	assert.Error(t, err)
}

func TestHealthEndpoints(t *testing.T) {
	gw := newTestGateway(t)

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready (0 online)", rec.Body.String())
}

func TestReady_StoreClosed(t *testing.T) {
	gw := newTestGateway(t)
	require.NoError(t, gw.store.Close())

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	gw := newTestGateway(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	cancel()
	assert.NoError(t, <-done)
}

func TestAppendCloseError(t *testing.T) {
	errs := appendCloseError(nil, "store close", nil)
	assert.Empty(t, errs)

	errs = appendCloseError(errs, "store close", assert.AnError)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], assert.AnError)
	assert.Contains(t, errs[0].Error(), "store close")
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")
	_, err := resolveTailscaleAuthKey("")
	assert.Error(t, err)

	key, err := resolveTailscaleAuthKey("tskey-configured")
	require.NoError(t, err)
	assert.Equal(t, "tskey-configured", key)

	t.Setenv("TS_AUTHKEY", "tskey-env")
	key, err = resolveTailscaleAuthKey("")
	require.NoError(t, err)
	assert.Equal(t, "tskey-env", key)
}

func TestResolveTailscaleStateDir(t *testing.T) {
	dir, err := resolveTailscaleStateDir("/var/lib/chat")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/chat", dir)

	dir, err = resolveTailscaleStateDir("")
	require.NoError(t, err)
	assert.Contains(t, dir, filepath.Join("chat-backend", "tailscale"))
}
