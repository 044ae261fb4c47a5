// Package metrics exposes the consensus metrics to prometheus.
//
// All methods are safe to call on a nil *Metrics, which records
// nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "qbft"

// Metrics holds the consensus collectors.
type Metrics struct {
	height          prometheus.Gauge
	round           prometheus.Gauge
	roundChanges    prometheus.Counter
	finalized       prometheus.Counter
	finalizedRound  prometheus.Histogram
	dropped         *prometheus.CounterVec
	importErrors    prometheus.Counter
	backlogMessages prometheus.Gauge
}

// New creates the collectors and registers them to reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		height: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "height",
			Help:      "Height of the current consensus instance.",
		}),
		round: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "round",
			Help:      "Round of the current consensus instance.",
		}),
		roundChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "round_changes_total",
			Help:      "Number of round changes.",
		}),
		finalized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finalized_blocks_total",
			Help:      "Number of blocks finalized.",
		}),
		finalizedRound: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "finalized_round",
			Help:      "Round in which blocks were finalized.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16},
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_messages_total",
			Help:      "Number of consensus messages dropped, by reason.",
		}, []string{"reason"}),
		importErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_errors_total",
			Help:      "Number of finalized blocks that failed to import.",
		}),
		backlogMessages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backlog_messages",
			Help:      "Number of buffered future messages.",
		}),
	}

	collectors := []prometheus.Collector{
		m.height,
		m.round,
		m.roundChanges,
		m.finalized,
		m.finalizedRound,
		m.dropped,
		m.importErrors,
		m.backlogMessages,
	}
	for _, c := range collectors {
		err := reg.Register(c)
		if err != nil {
			return nil, err
		}
	}

	return m, nil
}

// SetView records the current height and round.
func (m *Metrics) SetView(height uint64, round uint32) {
	if m == nil {
		return
	}

	m.height.Set(float64(height))
	m.round.Set(float64(round))
}

// RoundChange records a round change.
func (m *Metrics) RoundChange() {
	if m == nil {
		return
	}

	m.roundChanges.Inc()
}

// Finalized records a finalized block and its round.
func (m *Metrics) Finalized(round uint32) {
	if m == nil {
		return
	}

	m.finalized.Inc()
	m.finalizedRound.Observe(float64(round))
}

// Dropped records a dropped message.
func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}

	m.dropped.WithLabelValues(reason).Inc()
}

// ImportError records a finalized block that failed to import.
func (m *Metrics) ImportError() {
	if m == nil {
		return
	}

	m.importErrors.Inc()
}

// SetBacklog records the number of buffered messages.
func (m *Metrics) SetBacklog(n int) {
	if m == nil {
		return
	}

	m.backlogMessages.Set(float64(n))
}
