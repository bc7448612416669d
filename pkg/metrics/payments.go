package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics records charge and webhook outcomes.
type PaymentMetrics struct {
	chargeDuration  *prometheus.HistogramVec
	chargeOutcomes  *prometheus.CounterVec
	webhookOutcomes *prometheus.CounterVec
	stockRestored   prometheus.Counter
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	chargeDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_charge_duration_seconds",
		Help:    "Duration of synchronous gateway charge calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	chargeOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_charge_outcomes_total",
		Help: "Synchronous charge results by reported status.",
	}, []string{"status"})
	webhookOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_outcomes_total",
		Help: "Webhook deliveries by handling result.",
	}, []string{"result"})
	stockRestored := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stock_compensations_total",
		Help: "Compensating stock restorations performed by webhook handling.",
	})
	reg.MustRegister(chargeDuration, chargeOutcomes, webhookOutcomes, stockRestored)
	return &PaymentMetrics{
		chargeDuration:  chargeDuration,
		chargeOutcomes:  chargeOutcomes,
		webhookOutcomes: webhookOutcomes,
		stockRestored:   stockRestored,
	}
}

// ObserveCharge records the duration of a charge call for the given outcome.
func (p *PaymentMetrics) ObserveCharge(outcome string, duration time.Duration) {
	if p == nil || p.chargeDuration == nil {
		return
	}
	p.chargeDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// IncChargeStatus counts a gateway-reported charge status.
func (p *PaymentMetrics) IncChargeStatus(status string) {
	if p == nil || p.chargeOutcomes == nil {
		return
	}
	p.chargeOutcomes.WithLabelValues(status).Inc()
}

// IncWebhook counts a webhook delivery by result (received, ignored, replay).
func (p *PaymentMetrics) IncWebhook(result string) {
	if p == nil || p.webhookOutcomes == nil {
		return
	}
	p.webhookOutcomes.WithLabelValues(result).Inc()
}

// IncStockRestored counts one compensating restoration.
func (p *PaymentMetrics) IncStockRestored() {
	if p == nil || p.stockRestored == nil {
		return
	}
	p.stockRestored.Inc()
}
