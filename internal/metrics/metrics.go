package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry 聚合秒杀链路的指标，使用独立 registry，避免污染全局默认注册表。
type Registry struct {
	reg *prometheus.Registry

	// Purchases 按结果（ok / sold_out / duplicate_request ...）计数。
	Purchases        *prometheus.CounterVec
	PurchaseLatency  prometheus.Histogram
	CompensationFail *prometheus.CounterVec
	LedgerDrift      *prometheus.GaugeVec
	LedgerReseeded   prometheus.Counter
	OutboxRelayed    prometheus.Counter
	OutboxFailed     prometheus.Counter
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	purchases := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flash_purchase_total",
		Help: "Purchase attempts by outcome.",
	}, []string{"reason"})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flash_purchase_duration_seconds",
		Buckets: prometheus.DefBuckets,
	})
	compFail := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flash_compensation_failures_total",
		Help: "Compensation calls (stock give-back, lock release) that failed.",
	}, []string{"step"})
	drift := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flash_ledger_drift",
		Help: "Expected remaining stock minus ledger value, per item.",
	}, []string{"item_id"})
	reseeded := prometheus.NewCounter(prometheus.CounterOpts{Name: "flash_ledger_reseeded_total"})
	relayed := prometheus.NewCounter(prometheus.CounterOpts{Name: "flash_outbox_relayed_total"})
	relayFail := prometheus.NewCounter(prometheus.CounterOpts{Name: "flash_outbox_failed_total"})

	r.MustRegister(purchases, latency, compFail, drift, reseeded, relayed, relayFail)
	return &Registry{
		reg:              r,
		Purchases:        purchases,
		PurchaseLatency:  latency,
		CompensationFail: compFail,
		LedgerDrift:      drift,
		LedgerReseeded:   reseeded,
		OutboxRelayed:    relayed,
		OutboxFailed:     relayFail,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
