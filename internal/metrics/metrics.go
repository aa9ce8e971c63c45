// Package metrics exposes the server's Prometheus collectors on a private
// registry so tests can build as many instances as they like.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"invoicepos/internal/draft"
)

type Metrics struct {
	registry        *prometheus.Registry
	snapshotWrites  *prometheus.CounterVec
	recoveries      *prometheus.CounterVec
	invoicesCreated prometheus.Counter
	paymentMismatch prometheus.Counter
	lookupRequests  *prometheus.CounterVec
	lookupDuration  prometheus.Histogram
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		// Slot write attempts by operation and result.
		snapshotWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "invoicepos_draft_snapshot_writes_total",
			Help: "Draft snapshot writes by operation (save, delete) and result.",
		}, []string{"op", "result"}),
		recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "invoicepos_draft_recovery_total",
			Help: "Draft recovery attempts by outcome.",
		}, []string{"outcome"}),
		invoicesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "invoicepos_invoices_submitted_total",
			Help: "Invoices persisted from a submitted draft.",
		}),
		paymentMismatch: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "invoicepos_invoice_payment_mismatch_total",
			Help: "Submissions rejected because payments did not cover the net total.",
		}),
		lookupRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "invoicepos_product_lookup_total",
			Help: "Product lookups by cache result.",
		}, []string{"cache"}),
		lookupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "invoicepos_product_lookup_duration_seconds",
			Help:    "Product lookup latency including cache access.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.snapshotWrites,
		m.recoveries,
		m.invoicesCreated,
		m.paymentMismatch,
		m.lookupRequests,
		m.lookupDuration,
	)
	return m
}

func (m *Metrics) SnapshotPersisted(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.snapshotWrites.WithLabelValues(op, result).Inc()
}

func (m *Metrics) RecoveryCompleted(outcome draft.RecoveryOutcome) {
	m.recoveries.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) InvoiceSubmitted() {
	m.invoicesCreated.Inc()
}

func (m *Metrics) PaymentMismatch() {
	m.paymentMismatch.Inc()
}

func (m *Metrics) LookupServed(cached bool, took time.Duration) {
	label := "miss"
	if cached {
		label = "hit"
	}
	m.lookupRequests.WithLabelValues(label).Inc()
	m.lookupDuration.Observe(took.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
