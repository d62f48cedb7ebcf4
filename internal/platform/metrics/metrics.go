// Package metrics exposes Prometheus instrumentation for the ledger engine
// and its background workers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	txnsTotal              *prometheus.CounterVec
	guardrailRejections    *prometheus.CounterVec
	idempotencyReplays     prometheus.Counter
	reservationsExpired    *prometheus.CounterVec
	outboxPublished        *prometheus.CounterVec
	walletDriftGauge       prometheus.Gauge
	walletDriftLastChecked prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		txnsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "walletd",
				Subsystem: "ledger",
				Name:      "txns_total",
				Help:      "Total posted transactions partitioned by kind and result.",
			},
			[]string{"kind", "result"},
		),
		guardrailRejections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "walletd",
				Subsystem: "guardrail",
				Name:      "rejections_total",
				Help:      "Total guardrail rejections partitioned by rule.",
			},
			[]string{"rule"},
		),
		idempotencyReplays: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "walletd",
				Subsystem: "ledger",
				Name:      "idempotency_replays_total",
				Help:      "Requests answered from a stored idempotency record.",
			},
		),
		reservationsExpired: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "walletd",
				Subsystem: "reaper",
				Name:      "reservations_expired_total",
				Help:      "Reserved instruments expired by the reaper, by kind.",
			},
			[]string{"kind"},
		),
		outboxPublished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "walletd",
				Subsystem: "outbox",
				Name:      "messages_total",
				Help:      "Outbox messages handled by the poller, by result.",
			},
			[]string{"result"},
		),
		walletDriftGauge: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "walletd",
				Subsystem: "reconciliation",
				Name:      "wallets_drifted",
				Help:      "Wallets whose balance disagrees with their entry sum.",
			},
		),
		walletDriftLastChecked: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "walletd",
				Subsystem: "reconciliation",
				Name:      "last_sweep_unix",
				Help:      "Unix time of the most recent drift sweep.",
			},
		),
	}
}

func (m *Metrics) ObserveTxn(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.txnsTotal.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) ObserveGuardrailRejection(rule string) {
	if m == nil {
		return
	}
	m.guardrailRejections.WithLabelValues(rule).Inc()
}

func (m *Metrics) ObserveIdempotentReplay() {
	if m == nil {
		return
	}
	m.idempotencyReplays.Inc()
}

func (m *Metrics) ObserveReservationExpired(kind string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.reservationsExpired.WithLabelValues(kind).Add(float64(count))
}

func (m *Metrics) ObserveOutboxPublish(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.outboxPublished.WithLabelValues("error").Inc()
		return
	}
	m.outboxPublished.WithLabelValues("published").Inc()
}

func (m *Metrics) ObserveDriftSweep(drifted int, atUnix int64) {
	if m == nil {
		return
	}
	m.walletDriftGauge.Set(float64(drifted))
	m.walletDriftLastChecked.Set(float64(atUnix))
}
