package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianstack/sentinel/internal/alert"
	"github.com/obsidianstack/sentinel/internal/config"
	"github.com/obsidianstack/sentinel/internal/instrument"
	"github.com/obsidianstack/sentinel/internal/ws"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--env-file", ""))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	path := writeConfig(t, `
probes:
  - name: api
    type: tcp
    host: localhost
    port: 8080
notifiers:
  - type: slack
    url: https://hooks.example.com/x
`)
	out, err := execute(t, "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ok (1 probes, 1 notifiers, 0 plugins)")
}

func TestValidateCommand_Invalid(t *testing.T) {
	path := writeConfig(t, `
notifiers:
  - type: pager
    url: https://example.com
`)
	_, err := execute(t, "validate", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown type")
}

func TestCheckCommand(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	defer up.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()

	path := writeConfig(t, `
log:
  level: error
probes:
  - name: up
    type: http
    url: `+up.URL+`
  - name: down
    type: http
    url: `+down.URL+`
`)

	out, err := execute(t, "check", "--config", path, "up")
	require.NoError(t, err)
	assert.Contains(t, out, "up")
	assert.Contains(t, out, "ok")

	out, err = execute(t, "check", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 probes unhealthy")
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "unexpected status 502")

	_, err = execute(t, "check", "--config", path, "missing")
	require.Error(t, err)
}

func TestLoadEnv(t *testing.T) {
	require.NoError(t, loadEnv(""))
	require.NoError(t, loadEnv(filepath.Join(t.TempDir(), "absent.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SENTINEL_TEST_VAR=from-file\n"), 0o600))
	t.Setenv("SENTINEL_TEST_VAR", "")
	os.Unsetenv("SENTINEL_TEST_VAR")
	require.NoError(t, loadEnv(path))
	assert.Equal(t, "from-file", os.Getenv("SENTINEL_TEST_VAR"))
}

// capture records webhook bodies.
type capture struct {
	mu     sync.Mutex
	bodies []map[string]any
}

func (c *capture) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)
	c.mu.Lock()
	c.bodies = append(c.bodies, body)
	c.mu.Unlock()
}

func (c *capture) all() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]any(nil), c.bodies...)
}

func TestBuild_EndToEnd(t *testing.T) {
	hook := &capture{}
	srv := httptest.NewServer(hook)
	defer srv.Close()

	t.Setenv("SENTINEL_API_KEY", "s3cret")
	cfg, err := config.Parse([]byte(`
server:
  auth:
    mode: apikey
    key_env: SENTINEL_API_KEY
notifiers:
  - name: ops
    type: http
    url: ` + srv.URL + `
plugins:
  - name: prefix
    type: title_prefix
    prefix: "[prod] "
`))
	require.NoError(t, err)

	a, err := build(context.Background(), cfg)
	require.NoError(t, err)

	post := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts",
			strings.NewReader(`{"severity":"critical","title":"Queue backlog"}`))
		if key != "" {
			req.Header.Set("x-api-key", key)
		}
		rr := httptest.NewRecorder()
		a.handler.ServeHTTP(rr, req)
		return rr
	}

	rr := post("")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.NotEmpty(t, rr.Header().Get(instrument.RequestIDHeader))

	rr = post("s3cret")
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	bodies := hook.all()
	require.Len(t, bodies, 1)
	assert.Equal(t, "alert", bodies[0]["event"])
	assert.Contains(t, bodies[0]["text"], "[prod] Queue backlog")

	// Both requests went through the aggregator window.
	assert.Equal(t, 2, a.monitor.Stats().WindowSize)

	// Reads are not guarded.
	rr = httptest.NewRecorder()
	a.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestStatusSnapshot(t *testing.T) {
	cfg, err := config.Parse([]byte(`{}`))
	require.NoError(t, err)
	a, err := build(context.Background(), cfg)
	require.NoError(t, err)

	snap, ok := statusSnapshot(a.monitor).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, snap["healthy"])
	assert.Contains(t, snap, "stats")
}

func TestBuild_StreamThroughMiddleware(t *testing.T) {
	cfg, err := config.Parse([]byte(`{}`))
	require.NoError(t, err)
	a, err := build(context.Background(), cfg)
	require.NoError(t, err)

	srv := httptest.NewServer(a.handler)
	defer srv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var msg ws.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, ws.EventStatus, msg.Event)

	require.Eventually(t, func() bool { return a.hub.Count() == 1 }, time.Second, 10*time.Millisecond)
	a.monitor.Alert(context.Background(), alert.Alert{Severity: alert.SeverityWarning, Title: "Replica lag"})

	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, ws.EventAlert, msg.Event)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return a.hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)

	// The stream session is not a request sample for the aggregator.
	assert.Never(t, func() bool { return a.monitor.Stats().WindowSize > 0 }, 200*time.Millisecond, 20*time.Millisecond)
}
