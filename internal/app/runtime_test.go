package app_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caridad-org/console/internal/app"
	"github.com/caridad-org/console/internal/shared"
)

// fakeBackend serves the REST API the console consumes. Role listing starts
// rejecting the token once revoked is set.
type fakeBackend struct {
	revoked atomic.Bool
	auth    atomic.Value
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.auth.Store(r.Header.Get("Authorization"))
	switch r.URL.Path {
	case "/api/health":
		w.WriteHeader(http.StatusOK)
	case "/api/login":
		if r.Header.Get("Authorization") != "" {
			http.Error(w, "login must be anonymous", http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, `{"token":"Bearer tok-1","roles":[{"idRol":1,"nombre":"ADMIN"}]}`)
	case "/api/menus/role/1":
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `[{"idMenu":1,"nombre":"Roles","direccion":"/admin/roles","estado":1}]`)
	case "/api/roles":
		if b.revoked.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `[{"idRol":1,"nombre":"ADMIN"}]`)
	default:
		http.NotFound(w, r)
	}
}

func testConfig(t *testing.T, backendURL string) *app.Config {
	t.Helper()
	return &app.Config{
		AppEnv:            "test",
		AppRequestTimeout: 5 * time.Second,
		AppRateLimit:      1000,
		BackendURL:        backendURL,
		BackendTimeout:    5 * time.Second,
		TokenStore:        app.TokenStoreFile,
		TokenFile:         filepath.Join(t.TempDir(), "token.json"),
	}
}

func newRuntime(t *testing.T, cfg *app.Config) *app.Runtime {
	t.Helper()
	rt, err := app.NewRuntime(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func call(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Accept", "application/json")
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var payload map[string]any
	if strings.Contains(rr.Header().Get("Content-Type"), "json") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload), rr.Body.String())
	}
	return rr, payload
}

func TestRuntimeSessionLifecycle(t *testing.T) {
	api := &fakeBackend{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	rt := newRuntime(t, testConfig(t, srv.URL))
	ctx := context.Background()

	rr, payload := call(t, rt.Handler, http.MethodPost, "/auth/login", `{"username":"ana","password":"secreto"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, true, payload["authenticated"])
	assert.Len(t, payload["menus"], 1)

	token, err := rt.Tokens.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)

	rr, _ = call(t, rt.Handler, http.MethodGet, "/admin/roles", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "Bearer tok-1", api.auth.Load())

	api.revoked.Store(true)
	rr, payload = call(t, rt.Handler, http.MethodGet, "/admin/roles", "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, shared.PathWelcome, payload["redirect"])

	assert.Nil(t, rt.Sessions.CurrentUser())
	assert.Equal(t, shared.PathWelcome, rt.Location.Current())
	token, err = rt.Tokens.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)

	rr, _ = call(t, rt.Handler, http.MethodGet, "/admin/roles", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr, _ = call(t, rt.Handler, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "console_session_teardowns_total 1")
	assert.Contains(t, rr.Body.String(), `console_session_transitions_total{transition="expired"} 1`)
}

func TestRuntimeHealth(t *testing.T) {
	srv := httptest.NewServer(&fakeBackend{})
	rt := newRuntime(t, testConfig(t, srv.URL))

	_, payload := call(t, rt.Handler, http.MethodGet, "/healthz", "")
	assert.Equal(t, "ok", payload["backend"])

	srv.Close()
	_, payload = call(t, rt.Handler, http.MethodGet, "/healthz", "")
	assert.Equal(t, "unreachable", payload["backend"])
}

func TestRuntimeRejectsCrossOriginPost(t *testing.T) {
	srv := httptest.NewServer(&fakeBackend{})
	t.Cleanup(srv.Close)
	rt := newRuntime(t, testConfig(t, srv.URL))

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr := httptest.NewRecorder()
	rt.Handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRuntimeStoresTokenInRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	srv := httptest.NewServer(&fakeBackend{})
	t.Cleanup(srv.Close)
	cfg := testConfig(t, srv.URL)
	cfg.TokenStore = app.TokenStoreRedis
	cfg.RedisAddr = mr.Addr()
	cfg.RedisTokenPrefix = "console:"

	rt := newRuntime(t, cfg)
	rr, _ := call(t, rt.Handler, http.MethodPost, "/auth/login", `{"username":"ana","password":"secreto"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	stored, err := mr.Get("console:token")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", stored)
}

func TestRuntimeRedisUnavailable(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.TokenStore = app.TokenStoreRedis
	cfg.RedisAddr = "127.0.0.1:1"
	_, err := app.NewRuntime(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "redis ping")
}

func TestRuntimeLoadsRouteFile(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.RoutesFile = filepath.Join(t.TempDir(), "missing.yml")
	_, err := app.NewRuntime(context.Background(), cfg, nil)
	assert.Error(t, err)
}
