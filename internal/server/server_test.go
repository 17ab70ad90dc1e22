package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coderscreen/coderunner/internal/auth"
	"github.com/coderscreen/coderunner/internal/model"
	"github.com/coderscreen/coderunner/internal/sandbox"
	"github.com/coderscreen/coderunner/internal/sandbox/sandboxtest"
)

const testSecret = "server-test-secret-0123456789"

// echoSource answers every command with the contents of the source file it
// names, or with "ok" when there is none, so the round trip is observable.
func echoSource(command string, args []string, files map[string]string) *sandbox.Result {
	for _, f := range strings.Fields(command) {
		if src, ok := files[f]; ok {
			return sandbox.NewResult(command, args, src, "", 0)
		}
	}
	return sandbox.NewResult(command, args, "ok\n", "", 0)
}

func newTestServer(t *testing.T, cfg Config) (*Server, *sandboxtest.Provider) {
	t.Helper()
	cfg.DBPath = ":memory:"
	if cfg.Burst == 0 {
		cfg.Burst = 100
	}
	provider := sandboxtest.NewProvider(echoSource)
	s, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), provider)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, provider
}

func request(t *testing.T, s *Server, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestServer_ExecuteAndHistory(t *testing.T) {
	s, provider := newTestServer(t, Config{})

	rr := request(t, s, http.MethodPost, "/api/rooms/room-1/execute", `{"language":"python","code":"print('hi')"}`, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get("Content-Type"))

	var res model.ExecutionResult
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
	assert.True(t, res.Success)
	assert.Equal(t, "print('hi')", res.Stdout)
	assert.NotEmpty(t, res.ID)

	calls := provider.Fake(sandbox.ResolveID("room-1", "")).Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "python3 tmp.py", calls[0].Command)

	rr = request(t, s, http.MethodGet, "/api/rooms/room-1/executions", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var history []model.ExecutionRecord
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&history))
	require.Len(t, history, 1)
	assert.Equal(t, res.ID, history[0].ID)
	assert.Equal(t, "python", history[0].Language)

	rr = request(t, s, http.MethodGet, "/api/rooms/room-1/executions/"+res.ID, "", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = request(t, s, http.MethodGet, "/api/rooms/room-2/executions/"+res.ID, "", "")
	assert.Equal(t, http.StatusNotFound, rr.Code, "history is scoped to the room")
}

func TestServer_UnsupportedLanguage(t *testing.T) {
	s, provider := newTestServer(t, Config{})

	rr := request(t, s, http.MethodPost, "/api/rooms/r/execute", `{"language":"react","code":"<App />"}`, "")

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "unsupported_language")
	assert.Empty(t, provider.Requests())
}

func TestServer_SandboxUnavailable(t *testing.T) {
	s, provider := newTestServer(t, Config{})
	provider.Err = sandboxtest.ErrUnavailable

	rr := request(t, s, http.MethodPost, "/api/rooms/r/execute", `{"language":"bash","code":"echo hi"}`, "")

	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Contains(t, rr.Body.String(), "sandbox_unavailable")
}

func TestServer_RoomTokens(t *testing.T) {
	s, _ := newTestServer(t, Config{JWTSecret: testSecret})
	tokens, err := auth.NewTokenService(testSecret)
	require.NoError(t, err)
	token, err := tokens.Generate("room-1", time.Hour)
	require.NoError(t, err)

	body := `{"language":"bash","code":"echo hi"}`

	assert.Equal(t, http.StatusUnauthorized, request(t, s, http.MethodPost, "/api/rooms/room-1/execute", body, "").Code)
	assert.Equal(t, http.StatusForbidden, request(t, s, http.MethodPost, "/api/rooms/room-2/execute", body, token).Code)
	assert.Equal(t, http.StatusOK, request(t, s, http.MethodPost, "/api/rooms/room-1/execute", body, token).Code)
	assert.Equal(t, http.StatusOK, request(t, s, http.MethodGet, "/api/rooms/room-1/executions", "", token).Code)

	// Public routes stay public.
	assert.Equal(t, http.StatusOK, request(t, s, http.MethodGet, "/api/languages", "", "").Code)
}

func TestServer_RateLimit(t *testing.T) {
	s, _ := newTestServer(t, Config{PerIPRPS: 0.001, Burst: 1})
	body := `{"language":"bash","code":"echo hi"}`

	assert.Equal(t, http.StatusOK, request(t, s, http.MethodPost, "/api/rooms/r/execute", body, "").Code)
	assert.Equal(t, http.StatusTooManyRequests, request(t, s, http.MethodPost, "/api/rooms/r/execute", body, "").Code)

	// History reads are not rate limited.
	assert.Equal(t, http.StatusOK, request(t, s, http.MethodGet, "/api/rooms/r/executions", "", "").Code)
}

func TestServer_OperationalEndpoints(t *testing.T) {
	s, _ := newTestServer(t, Config{})

	rr := request(t, s, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())

	request(t, s, http.MethodPost, "/api/rooms/r/execute", `{"language":"bash","code":"echo hi"}`, "")

	rr = request(t, s, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "coderunner_executions_total")
}
