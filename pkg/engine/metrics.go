package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	frames         *prometheus.CounterVec
	malformed      prometheus.Counter
	reconciliation *prometheus.CounterVec
	ambiguous      prometheus.Counter
	sends          *prometheus.CounterVec
	unread         prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil
// registerer leaves them unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convosync",
			Name:      "frames_total",
			Help:      "Inbound frames by classification.",
		}, []string{"category"}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "convosync",
			Name:      "malformed_frames_total",
			Help:      "Inbound frames that failed to parse.",
		}),
		reconciliation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convosync",
			Name:      "reconciliations_total",
			Help:      "Confirmed messages by how they were merged.",
		}, []string{"outcome"}),
		ambiguous: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "convosync",
			Name:      "ambiguous_matches_total",
			Help:      "Heuristic merges that had more than one tentative candidate.",
		}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convosync",
			Name:      "sends_total",
			Help:      "Send attempts by result.",
		}, []string{"result"}),
		unread: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "convosync",
			Name:      "unread_messages",
			Help:      "Messages that arrived while the viewport was not pinned.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.frames, m.malformed, m.reconciliation, m.ambiguous, m.sends, m.unread)
	}
	return m
}

func (m *Metrics) RecordFrame(category string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(category).Inc()
	if category == categoryMalformed {
		m.malformed.Inc()
	}
}

func (m *Metrics) RecordReconcile(o Outcome) {
	if m == nil {
		return
	}
	m.reconciliation.WithLabelValues(o.Kind.String()).Inc()
	if o.Ambiguous {
		m.ambiguous.Inc()
	}
}

func (m *Metrics) RecordSend(result string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(result).Inc()
}

func (m *Metrics) SetUnread(n int) {
	if m == nil {
		return
	}
	m.unread.Set(float64(n))
}
