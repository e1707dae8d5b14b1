package metrics

import (
	"errors"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// BillingMetrics captures payment and reconciliation health signals.
type BillingMetrics struct {
	paymentsProcessed   *prometheus.CounterVec
	webhookEvents       *prometheus.CounterVec
	walletCredits       prometheus.Counter
	sweeperRecovered    prometheus.Counter
	billingHistoryRows  *prometheus.CounterVec
	signatureRejections prometheus.Counter
}

var (
	billingMetricsOnce sync.Once
	billingMetrics     *BillingMetrics
)

// Billing returns the singleton billing metrics registry.
func Billing() *BillingMetrics {
	billingMetricsOnce.Do(func() {
		billingMetrics = newBillingMetrics(prometheus.DefaultRegisterer, "invoza")
	})
	return billingMetrics
}

// ResetBillingMetricsForTest resets the billing metrics singleton for tests.
func ResetBillingMetricsForTest() {
	billingMetricsOnce = sync.Once{}
	billingMetrics = nil
}

func newBillingMetrics(registerer prometheus.Registerer, serviceName string) *BillingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	serviceName = strings.TrimSpace(serviceName)
	if serviceName == "" {
		serviceName = "invoza"
	}

	m := &BillingMetrics{
		paymentsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "invoza_payments_processed_total",
			Help:        "Payment attempts that reached a terminal status.",
			ConstLabels: prometheus.Labels{"service": serviceName},
		}, []string{"type", "status"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "invoza_webhook_events_total",
			Help:        "Gateway webhook events received, by event and outcome.",
			ConstLabels: prometheus.Labels{"service": serviceName},
		}, []string{"event", "outcome"}),
		walletCredits: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "invoza_wallet_credits_total",
			Help:        "Successful wallet top-up credits applied.",
			ConstLabels: prometheus.Labels{"service": serviceName},
		}),
		sweeperRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "invoza_sweeper_recovered_total",
			Help:        "Stale PROCESSING transactions force-failed by the sweeper.",
			ConstLabels: prometheus.Labels{"service": serviceName},
		}),
		billingHistoryRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "invoza_billing_history_rows_total",
			Help:        "Billing history rows appended, by billing reason.",
			ConstLabels: prometheus.Labels{"service": serviceName},
		}, []string{"reason"}),
		signatureRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "invoza_webhook_signature_rejections_total",
			Help:        "Webhook deliveries rejected before parsing.",
			ConstLabels: prometheus.Labels{"service": serviceName},
		}),
	}

	for _, collector := range []prometheus.Collector{
		m.paymentsProcessed,
		m.webhookEvents,
		m.walletCredits,
		m.sweeperRecovered,
		m.billingHistoryRows,
		m.signatureRejections,
	} {
		if err := registerer.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
		}
	}

	return m
}

func (m *BillingMetrics) IncPaymentProcessed(txType, status string) {
	if m == nil {
		return
	}
	m.paymentsProcessed.WithLabelValues(txType, status).Inc()
}

func (m *BillingMetrics) IncWebhookEvent(event, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(event, outcome).Inc()
}

func (m *BillingMetrics) IncWalletCredit() {
	if m == nil {
		return
	}
	m.walletCredits.Inc()
}

func (m *BillingMetrics) IncSweeperRecovered(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweeperRecovered.Add(float64(n))
}

func (m *BillingMetrics) IncBillingHistoryRow(reason string) {
	if m == nil {
		return
	}
	m.billingHistoryRows.WithLabelValues(reason).Inc()
}

func (m *BillingMetrics) IncSignatureRejection() {
	if m == nil {
		return
	}
	m.signatureRejections.Inc()
}
