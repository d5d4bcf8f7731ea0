package instrument

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianstack/sentinel/internal/alert"
	"github.com/obsidianstack/sentinel/internal/logging"
)

type sample struct {
	d     time.Duration
	isErr bool
}

type fakeRecorder struct {
	mu      sync.Mutex
	samples []sample
}

func (f *fakeRecorder) RecordRequest(d time.Duration, isErr bool) {
	f.mu.Lock()
	f.samples = append(f.samples, sample{d, isErr})
	f.mu.Unlock()
}

func status(code int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(code)
	})
}

func TestMiddleware_RecordsOutcome(t *testing.T) {
	tests := []struct {
		name    string
		handler http.Handler
		wantErr bool
	}{
		{"ok", status(http.StatusOK), false},
		{"implicit ok", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("hi")) }), false},
		{"no write", http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}), false},
		{"client error", status(http.StatusNotFound), false},
		{"server error", status(http.StatusBadGateway), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := &fakeRecorder{}
			h := Middleware(rec, tc.handler)
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

			require.Len(t, rec.samples, 1)
			assert.Equal(t, tc.wantErr, rec.samples[0].isErr)
			assert.GreaterOrEqual(t, rec.samples[0].d, time.Duration(0))
		})
	}
}

func TestMiddleware_RequestID(t *testing.T) {
	var seen string
	h := Middleware(&fakeRecorder{}, http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = logging.RequestID(r.Context())
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "given-id")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "given-id", seen)
	assert.Equal(t, "given-id", w.Header().Get(RequestIDHeader))
}

func TestRecover_PanicBecomesCriticalAlert(t *testing.T) {
	var got []alert.Alert
	emit := func(_ context.Context, a alert.Alert) { got = append(got, a) }
	rec := &fakeRecorder{}

	h := Middleware(rec, Recover(emit, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("nil map write")
	})))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.Len(t, got, 1)
	assert.Equal(t, alert.SeverityCritical, got[0].Severity)
	assert.Equal(t, "Unhandled panic in POST /api/v1/orders", got[0].Title)
	assert.Equal(t, "nil map write", got[0].Message)
	assert.Equal(t, w.Header().Get(RequestIDHeader), got[0].Metrics["requestId"])
	assert.NotEmpty(t, got[0].Metrics["stack"])

	require.Len(t, rec.samples, 1)
	assert.True(t, rec.samples[0].isErr, "panics count as server errors")
}

func TestRecover_NoPanicPassesThrough(t *testing.T) {
	called := false
	emit := func(context.Context, alert.Alert) { called = true }
	h := Recover(emit, status(http.StatusAccepted))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.False(t, called)
}

func TestRecover_PanicAfterHeadersKeepsResponse(t *testing.T) {
	var got []alert.Alert
	emit := func(_ context.Context, a alert.Alert) { got = append(got, a) }

	h := Recover(emit, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("partial"))
		panic("late failure")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/export", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "partial", w.Body.String())
	require.Len(t, got, 1)
	assert.Equal(t, "Unhandled panic in GET /export", got[0].Title)
}

func TestMiddleware_HijackedConnectionNotRecorded(t *testing.T) {
	rec := &fakeRecorder{}
	done := make(chan struct{})

	hijack := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		conn, rw, err := http.NewResponseController(w).Hijack()
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		_, _ = rw.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: close\r\n\r\nhi")
		_ = rw.Flush()
	})
	inner := Middleware(rec, Recover(func(context.Context, alert.Alert) {}, hijack))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(done)
		inner.ServeHTTP(w, r)
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "hi", string(body))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.samples)
}
