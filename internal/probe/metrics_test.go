package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exposition = `# HELP queue_pending Items waiting.
# TYPE queue_pending gauge
queue_pending{queue="a"} 40
queue_pending{queue="b"} 75
# HELP workers_up Live workers.
# TYPE workers_up gauge
workers_up 3
# TYPE jobs_failed_total counter
jobs_failed_total 12
`

func fptr(v float64) *float64 { return &v }

func metricsServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Accept"), "text/plain")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func runMetrics(t *testing.T, url string, rules ...MetricRule) outcome {
	t.Helper()
	cfg := Config{Name: "m", Type: TypeMetrics, URL: url, Rules: rules}.withDefaults()
	require.NoError(t, cfg.Validate())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return metricsChecker(cfg)(ctx)
}

func TestMetricsCheck_WithinBounds(t *testing.T) {
	srv := metricsServer(t, http.StatusOK, exposition)
	out := runMetrics(t, srv.URL,
		MetricRule{Metric: "queue_pending", Above: fptr(200)},
		MetricRule{Metric: "workers_up", Below: fptr(1)},
	)
	assert.True(t, out.healthy, out.reason)
}

func TestMetricsCheck_SumsSeries(t *testing.T) {
	srv := metricsServer(t, http.StatusOK, exposition)
	out := runMetrics(t, srv.URL, MetricRule{Metric: "queue_pending", Above: fptr(100)})
	assert.False(t, out.healthy)
	assert.Equal(t, "queue_pending = 115 above 100", out.reason)
}

func TestMetricsCheck_ListsEveryViolation(t *testing.T) {
	srv := metricsServer(t, http.StatusOK, exposition)
	out := runMetrics(t, srv.URL,
		MetricRule{Metric: "workers_up", Below: fptr(5)},
		MetricRule{Metric: "jobs_failed_total", Above: fptr(10)},
		MetricRule{Metric: "missing_metric", Above: fptr(0)},
	)
	assert.False(t, out.healthy)
	parts := strings.Split(out.reason, "; ")
	assert.Equal(t, []string{
		"workers_up = 3 below 5",
		"jobs_failed_total = 12 above 10",
		"missing_metric not exported",
	}, parts)
}

func TestMetricsCheck_BadStatus(t *testing.T) {
	srv := metricsServer(t, http.StatusServiceUnavailable, "")
	out := runMetrics(t, srv.URL, MetricRule{Metric: "up", Below: fptr(1)})
	assert.False(t, out.healthy)
	assert.Equal(t, "unexpected status 503 (want 200)", out.reason)
}

func TestMetricsCheck_MalformedExposition(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"not an exposition", "this is {not metrics\n", "expected float as value"},
		{"unknown type", "# TYPE up bogus\nup 1\n", "parse metrics"},
		{"bad value after valid lines", exposition + "workers_up one\n", "parse metrics"},
		{"empty", "", "no samples exported"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := metricsServer(t, http.StatusOK, tc.body)
			out := runMetrics(t, srv.URL, MetricRule{Metric: "workers_up", Below: fptr(1)})
			assert.False(t, out.healthy)
			assert.Contains(t, out.reason, tc.want)
		})
	}
}

func TestMetricsConfig_Validate(t *testing.T) {
	base := Config{Name: "m", Type: TypeMetrics, URL: "http://localhost:9090/metrics"}

	noRules := base
	assert.ErrorContains(t, noRules.withDefaults().Validate(), "at least one rule")

	noBound := base
	noBound.Rules = []MetricRule{{Metric: "up"}}
	assert.ErrorContains(t, noBound.withDefaults().Validate(), "above or below")

	noName := base
	noName.Rules = []MetricRule{{Above: fptr(1)}}
	assert.ErrorContains(t, noName.withDefaults().Validate(), "metric is required")

	badURL := base
	badURL.URL = "tcp://x"
	badURL.Rules = []MetricRule{{Metric: "up", Below: fptr(1)}}
	assert.ErrorContains(t, badURL.withDefaults().Validate(), "http(s) url")
}
