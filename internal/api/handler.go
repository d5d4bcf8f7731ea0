package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/obsidianstack/sentinel/internal/alert"
	"github.com/obsidianstack/sentinel/internal/history"
	"github.com/obsidianstack/sentinel/internal/monitor"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Options configures optional parts of the handler.
type Options struct {
	// Guard wraps the write routes, typically with auth.APIKey.
	Guard func(http.Handler) http.Handler

	// Stream, when set, is served at /ws.
	Stream http.Handler
}

// Handler is the HTTP handler for the REST API and /metrics.
type Handler struct {
	mon *monitor.Monitor
	mux *http.ServeMux
	now func() time.Time
}

// New creates a Handler wired to m and registers all routes.
func New(m *monitor.Monitor, opts Options) http.Handler {
	h := &Handler{mon: m, mux: http.NewServeMux(), now: time.Now}

	guard := opts.Guard
	if guard == nil {
		guard = func(next http.Handler) http.Handler { return next }
	}
	write := func(fn http.HandlerFunc) http.Handler { return guard(fn) }

	h.mux.Handle("/api/v1/alerts", h.routeAlerts(write(h.postAlert)))
	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/stats", h.stats)
	h.mux.Handle("/api/v1/notify/message", write(h.notifyMessage))
	h.mux.Handle("/api/v1/notify/pipeline", write(h.notifyPipeline))
	h.mux.Handle("/api/v1/notify/deployment", write(h.notifyDeployment))
	h.mux.Handle("/api/v1/notify/report", write(h.notifyReport))
	h.mux.HandleFunc("/metrics", h.metrics)
	if opts.Stream != nil {
		h.mux.Handle("/ws", opts.Stream)
	}

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// routeAlerts dispatches /api/v1/alerts by method. Only POST is guarded.
func (h *Handler) routeAlerts(post http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.listAlerts(w, r)
		case http.MethodPost:
			post.ServeHTTP(w, r)
		default:
			jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

// postAlert handles POST /api/v1/alerts.
func (h *Handler) postAlert(w http.ResponseWriter, r *http.Request) {
	var req AlertRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sev, err := alert.ParseSeverity(req.Severity)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	a := alert.Alert{Severity: sev, Title: req.Title, Message: req.Message, Metrics: req.Metrics}
	if req.Timestamp != nil {
		a.Timestamp = *req.Timestamp
	}
	if err := a.Validate(); err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome := h.mon.Alert(r.Context(), a)
	jsonResp(w, http.StatusAccepted, AlertResponse{Outcome: outcome})
}

// listAlerts handles GET /api/v1/alerts?min_severity=&since=&limit=.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	st := h.mon.History()
	if st == nil {
		jsonResp(w, http.StatusOK, []history.Entry{})
		return
	}

	var f history.Filter
	q := r.URL.Query()
	if v := q.Get("min_severity"); v != "" {
		sev, err := alert.ParseSeverity(v)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, err.Error())
			return
		}
		f.MinSeverity = sev
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		f.Since = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			jsonErr(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}
	jsonResp(w, http.StatusOK, st.List(f))
}

// health handles GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	status := h.mon.Status()
	resp := HealthResponse{Status: "healthy", Probes: make(map[string]ProbeResponse, len(status))}
	code := http.StatusOK
	for name, res := range status {
		pr := ProbeResponse{
			Healthy:             res.Healthy,
			ConsecutiveFailures: res.ConsecutiveFailures,
			LastError:           res.LastError,
			ResponseTimeMs:      float64(res.ResponseTime) / float64(time.Millisecond),
		}
		if !res.LastCheckAt.IsZero() {
			pr.LastCheck = res.LastCheckAt.UTC().Format(time.RFC3339)
		}
		if !res.Healthy {
			resp.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
		resp.Probes[name] = pr
	}
	jsonResp(w, code, resp)
}

// stats handles GET /api/v1/stats.
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tot := h.mon.Totals()
	jsonResp(w, http.StatusOK, StatsResponse{
		Alerts:          h.mon.Stats(),
		DedupSuppressed: h.mon.DedupSuppressed(),
		Requests:        tot.Requests,
		RequestErrors:   tot.Errors,
		AvgResponseMs:   float64(tot.AvgLatency()) / float64(time.Millisecond),
		Plugins:         h.mon.Plugins(),
	})
}

// notifyMessage handles POST /api/v1/notify/message.
func (h *Handler) notifyMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		jsonErr(w, http.StatusBadRequest, "text is required")
		return
	}
	h.mon.Notify(r.Context(), req.Text)
	w.WriteHeader(http.StatusAccepted)
}

// notifyPipeline handles POST /api/v1/notify/pipeline.
func (h *Handler) notifyPipeline(w http.ResponseWriter, r *http.Request) {
	var s alert.PipelineStatus
	if !decodeBody(w, r, &s) {
		return
	}
	if s.Pipeline == "" || s.Status == "" {
		jsonErr(w, http.StatusBadRequest, "pipeline and status are required")
		return
	}
	h.mon.PipelineStatus(r.Context(), s)
	w.WriteHeader(http.StatusAccepted)
}

// notifyDeployment handles POST /api/v1/notify/deployment.
func (h *Handler) notifyDeployment(w http.ResponseWriter, r *http.Request) {
	var d alert.Deployment
	if !decodeBody(w, r, &d) {
		return
	}
	if d.Service == "" || d.Version == "" {
		jsonErr(w, http.StatusBadRequest, "service and version are required")
		return
	}
	h.mon.Deployment(r.Context(), d)
	w.WriteHeader(http.StatusAccepted)
}

// notifyReport handles POST /api/v1/notify/report. An empty body sends a
// report built from the monitor's own counters.
func (h *Handler) notifyReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		jsonErr(w, http.StatusBadRequest, "read body")
		return
	}

	var rep alert.DailyReport
	if len(strings.TrimSpace(string(body))) == 0 {
		rep = h.mon.BuildReport(h.now())
	} else if err := json.Unmarshal(body, &rep); err != nil {
		jsonErr(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if rep.Date == "" {
		rep.Date = h.now().Format("2006-01-02")
	}
	h.mon.DailyReport(r.Context(), rep)
	jsonResp(w, http.StatusAccepted, rep)
}

// --- helpers ----------------------------------------------------------------

// decodeBody enforces POST and decodes a JSON body into v. It writes the
// error response and returns false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			jsonErr(w, http.StatusBadRequest, "request body is empty")
		} else {
			jsonErr(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		}
		return false
	}
	return true
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("api: write response")
	}
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
