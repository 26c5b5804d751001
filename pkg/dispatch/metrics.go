package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sw33tLie/nstg/pkg/providers"
)

// Metrics counts campaign activity. A nil *Metrics records nothing.
type Metrics struct {
	Telegrams       *prometheus.CounterVec
	Skipped         prometheus.Counter
	TransportErrors prometheus.Counter
	Running         prometheus.Gauge
}

// NewMetrics registers the campaign metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Telegrams: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nstg_telegrams_total",
			Help: "Telegram submissions by classified outcome",
		}, []string{"outcome"}),
		Skipped: f.NewCounter(prometheus.CounterOpts{
			Name: "nstg_recipients_skipped_total",
			Help: "Recipients skipped by an eligibility check",
		}),
		TransportErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "nstg_transport_errors_total",
			Help: "Telegram submissions that failed before a response was classified",
		}),
		Running: f.NewGauge(prometheus.GaugeOpts{
			Name: "nstg_campaigns_running",
			Help: "Campaigns currently dispatching",
		}),
	}
}

func (m *Metrics) outcome(o providers.Outcome) {
	if m != nil {
		m.Telegrams.WithLabelValues(o.String()).Inc()
	}
}

func (m *Metrics) skipped() {
	if m != nil {
		m.Skipped.Inc()
	}
}

func (m *Metrics) transportError() {
	if m != nil {
		m.TransportErrors.Inc()
	}
}

func (m *Metrics) running(delta float64) {
	if m != nil {
		m.Running.Add(delta)
	}
}
