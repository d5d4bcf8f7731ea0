package api

import (
	"net/http"
	"sort"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/proto"
)

// metrics handles GET /metrics in the Prometheus text format.
func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	w.Header().Set("Content-Type", string(format))
	enc := expfmt.NewEncoder(w, format)
	for _, mf := range h.families() {
		if err := enc.Encode(mf); err != nil {
			log.Debug().Err(err).Msg("api: encode metrics")
			return
		}
	}
}

// families snapshots the monitor into metric families, sorted by name.
func (h *Handler) families() []*dto.MetricFamily {
	st := h.mon.Stats()
	tot := h.mon.Totals()

	out := []*dto.MetricFamily{
		counter("sentinel_alerts_received_total", "Alerts submitted to the pipeline.", float64(st.Received)),
		counter("sentinel_alerts_sent_total", "Alerts delivered to the notifier fan-out.", float64(st.Sent)),
		counter("sentinel_alerts_deduplicated_total", "Alerts dropped inside the dedup cooldown.", float64(st.Deduplicated)),
		counter("sentinel_alerts_suppressed_total", "Alerts dropped by a plugin.", float64(st.Suppressed)),
		counter("sentinel_alerts_undelivered_total", "Alerts dropped because no notifier was configured.", float64(st.Undelivered)),
		counter("sentinel_notifier_failures_total", "Failed notifier deliveries.", float64(st.NotifyFailures)),
		counter("sentinel_enrich_failures_total", "Failed alert enrichments.", float64(st.EnrichFailures)),
		counter("sentinel_requests_total", "Requests evaluated by the aggregator.", float64(tot.Requests)),
		counter("sentinel_request_errors_total", "Failed requests evaluated by the aggregator.", float64(tot.Errors)),
		gauge("sentinel_aggregate_window_size", "Request samples waiting for the next aggregation.", float64(st.WindowSize)),
	}

	status := h.mon.Status()
	names := make([]string, 0, len(status))
	for name := range status {
		names = append(names, name)
	}
	sort.Strings(names)

	up := &dto.MetricFamily{
		Name: proto.String("sentinel_probe_up"),
		Help: proto.String("1 when the probe's last check passed."),
		Type: dto.MetricType_GAUGE.Enum(),
	}
	failures := &dto.MetricFamily{
		Name: proto.String("sentinel_probe_consecutive_failures"),
		Help: proto.String("Consecutive failed checks per probe."),
		Type: dto.MetricType_GAUGE.Enum(),
	}
	for _, name := range names {
		res := status[name]
		v := 0.0
		if res.Healthy {
			v = 1
		}
		up.Metric = append(up.Metric, gaugeMetric(v, label("probe", name)))
		failures.Metric = append(failures.Metric, gaugeMetric(float64(res.ConsecutiveFailures), label("probe", name)))
	}
	if len(names) > 0 {
		out = append(out, up, failures)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].GetName() < out[j].GetName() })
	return out
}

func counter(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(name),
		Help:   proto.String(help),
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{Counter: &dto.Counter{Value: proto.Float64(v)}}},
	}
}

func gauge(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(name),
		Help:   proto.String(help),
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{gaugeMetric(v)},
	}
}

func gaugeMetric(v float64, labels ...*dto.LabelPair) *dto.Metric {
	return &dto.Metric{Label: labels, Gauge: &dto.Gauge{Value: proto.Float64(v)}}
}

func label(name, value string) *dto.LabelPair {
	return &dto.LabelPair{Name: proto.String(name), Value: proto.String(value)}
}
