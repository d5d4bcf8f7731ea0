// Package instrument feeds HTTP traffic into the alert pipeline.
//
// Middleware records every request's latency and outcome for golden-signal
// aggregation. Recover turns handler panics into CRITICAL alerts. Both are
// plain http.Handler wrappers; nothing global is patched.
package instrument

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/obsidianstack/sentinel/internal/alert"
	"github.com/obsidianstack/sentinel/internal/logging"
)

// RequestIDHeader carries the request ID in and out.
const RequestIDHeader = "X-Request-ID"

// maxStack bounds the stack trace attached to panic alerts.
const maxStack = 4096

// Recorder receives one sample per request.
type Recorder interface {
	RecordRequest(d time.Duration, isError bool)
}

// statusWriter remembers the status code written by the handler and whether
// the connection was taken over.
type statusWriter struct {
	http.ResponseWriter
	status   int
	hijacked bool
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Hijack hands the connection to the handler, as WebSocket upgrades need.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := http.NewResponseController(w.ResponseWriter).Hijack()
	if err == nil {
		w.hijacked = true
	}
	return conn, rw, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// written reports whether the response has been started or taken over.
func (w *statusWriter) written() bool { return w.status != 0 || w.hijacked }

// Middleware times each request and reports it to rec. Responses with a 5xx
// status count as errors. Hijacked connections (WebSocket streams) are not
// request samples and are skipped. A request ID is taken from the incoming
// header or generated, stored in the context and echoed in the response.
func Middleware(rec Recorder, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		r = r.WithContext(logging.WithRequestID(r.Context(), id))

		sw := &statusWriter{ResponseWriter: w}
		start := time.Now()
		defer func() {
			status := sw.status
			if status == 0 {
				status = http.StatusOK
			}
			d := time.Since(start)
			if sw.hijacked {
				log.Debug().Str("request_id", id).Str("path", r.URL.Path).Dur("duration", d).Msg("http: connection hijacked")
				return
			}
			rec.RecordRequest(d, status >= 500)
			log.Debug().Str("request_id", id).Str("method", r.Method).Str("path", r.URL.Path).
				Int("status", status).Dur("duration", d).Msg("http: request")
		}()
		next.ServeHTTP(sw, r)
	})
}

// Recover converts a panic in next into a CRITICAL alert and a 500 response.
// The 500 is only written when the handler had not started its response.
// Place it inside Middleware so the failed request is also counted.
func Recover(emit alert.Emitter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w}
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			// Let net/http handle its own abort sentinel.
			if v == http.ErrAbortHandler {
				panic(v)
			}

			stack := debug.Stack()
			if len(stack) > maxStack {
				stack = stack[:maxStack]
			}
			id := logging.RequestID(r.Context())
			log.Error().Interface("panic", v).Str("request_id", id).Str("path", r.URL.Path).
				Msg("http: handler panicked")

			emit(context.WithoutCancel(r.Context()), alert.Alert{
				Severity: alert.SeverityCritical,
				Title:    fmt.Sprintf("Unhandled panic in %s %s", r.Method, r.URL.Path),
				Message:  fmt.Sprintf("%v", v),
				Metrics: map[string]any{
					"requestId": id,
					"method":    r.Method,
					"path":      r.URL.Path,
					"stack":     string(stack),
				},
			})

			if sw.written() {
				return
			}
			sw.Header().Set("Content-Type", "application/json")
			sw.WriteHeader(http.StatusInternalServerError)
			_, _ = sw.Write([]byte(`{"error":"internal server error"}`))
		}()
		next.ServeHTTP(sw, r)
	})
}
