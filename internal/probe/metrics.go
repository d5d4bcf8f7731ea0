package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// MetricRule bounds the sum of one metric family across all its series.
// The check fails when the sum is above Above or below Below, or when the
// family is absent from the scrape.
type MetricRule struct {
	Metric string   `yaml:"metric"`
	Above  *float64 `yaml:"above"`
	Below  *float64 `yaml:"below"`
}

func (r MetricRule) validate() error {
	if r.Metric == "" {
		return fmt.Errorf("metric is required")
	}
	if r.Above == nil && r.Below == nil {
		return fmt.Errorf("%s: above or below is required", r.Metric)
	}
	return nil
}

// eval returns a failure reason, or "" when v is within bounds.
func (r MetricRule) eval(v float64) string {
	if r.Above != nil && v > *r.Above {
		return fmt.Sprintf("%s = %g above %g", r.Metric, v, *r.Above)
	}
	if r.Below != nil && v < *r.Below {
		return fmt.Sprintf("%s = %g below %g", r.Metric, v, *r.Below)
	}
	return ""
}

// metricsChecker scrapes a Prometheus text endpoint and applies Rules. Every
// violated rule is listed in the failure reason.
func metricsChecker(c Config) checker {
	client := newHTTPClient(c)
	accept := string(expfmt.NewFormat(expfmt.TypeTextPlain))

	return func(ctx context.Context) outcome {
		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
		if err != nil {
			return outcome{reason: fmt.Sprintf("build request: %v", err)}
		}
		req.Header.Set("Accept", accept)
		for k, v := range c.Headers {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		if err != nil {
			return outcome{reason: failureReason(ctx, err, c.Timeout), responseTime: time.Since(start)}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return outcome{reason: fmt.Sprintf("unexpected status %d (want 200)", resp.StatusCode), responseTime: time.Since(start)}
		}

		mfs, err := parseMetrics(resp.Body)
		rt := time.Since(start)
		if err != nil {
			return outcome{reason: err.Error(), responseTime: rt}
		}

		var violations []string
		for _, r := range c.Rules {
			mf, ok := mfs[r.Metric]
			if !ok {
				violations = append(violations, fmt.Sprintf("%s not exported", r.Metric))
				continue
			}
			if reason := r.eval(sumFamily(mf)); reason != "" {
				violations = append(violations, reason)
			}
		}
		if len(violations) > 0 {
			return outcome{reason: strings.Join(violations, "; "), responseTime: rt}
		}
		return outcome{healthy: true, responseTime: rt}
	}
}

// parseMetrics decodes a text exposition. Any syntax error fails the whole
// scrape, as does an exposition without samples.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil {
		return nil, fmt.Errorf("parse metrics: %w", err)
	}
	if len(mfs) == 0 {
		return nil, fmt.Errorf("parse metrics: no samples exported")
	}
	return mfs, nil
}

// sumFamily adds up every counter, gauge and untyped sample in mf.
func sumFamily(mf *dto.MetricFamily) float64 {
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		}
	}
	return total
}
