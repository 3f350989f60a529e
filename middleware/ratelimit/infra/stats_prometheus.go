package infra

import (
	"context"

	"middleware-guard/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusStats exporta decisões e passadas do reaper como métricas.
// Cardinalidade: só endpoint/outcome/reason, nunca a chave.
type PrometheusStats struct {
	Decisions   *prometheus.CounterVec
	SweptKeys   prometheus.Counter
	SweptFlags  prometheus.Counter
	TrackedKeys prometheus.Gauge
	InFlight    prometheus.Gauge
	Rejected    prometheus.Counter
}

var (
	_ domain.StatsStore    = (*PrometheusStats)(nil)
	_ domain.SweepObserver = (*PrometheusStats)(nil)
)

// NewPrometheusStats cria e registra as métricas em reg.
func NewPrometheusStats(reg prometheus.Registerer, namespace string) *PrometheusStats {
	if namespace == "" {
		namespace = "guard"
	}
	m := &PrometheusStats{
		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ratelimit_decisions_total",
				Help:      "Rate limit decisions by endpoint, outcome and reason",
			},
			[]string{"endpoint", "outcome", "reason"},
		),
		SweptKeys: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_swept_keys_total",
			Help:      "Keys removed by the reaper",
		}),
		SweptFlags: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_swept_flags_total",
			Help:      "Suspicious flags removed by the reaper",
		}),
		TrackedKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ratelimit_tracked_keys",
			Help:      "Keys held in memory after the last sweep",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "concurrency_in_flight",
			Help:      "Requests currently holding a concurrency slot",
		}),
		Rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "concurrency_rejected_total",
			Help:      "Requests rejected for lack of a concurrency slot",
		}),
	}
	reg.MustRegister(m.Decisions, m.SweptKeys, m.SweptFlags, m.TrackedKeys, m.InFlight, m.Rejected)
	return m
}

func (m *PrometheusStats) Record(_ context.Context, ev domain.StatsEvent) error {
	m.Decisions.WithLabelValues(ev.Endpoint.String(), ev.Outcome(), string(ev.Reason)).Inc()
	return nil
}

func (m *PrometheusStats) ObserveSweep(res domain.SweepResult) {
	m.SweptKeys.Add(float64(res.RemovedKeys))
	m.SweptFlags.Add(float64(res.RemovedFlags))
	m.TrackedKeys.Set(float64(res.Keys))
}
