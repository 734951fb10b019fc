package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhooksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_webhooks_total",
		Help: "Gateway webhook deliveries by gateway and outcome.",
	}, []string{"gateway", "outcome"})

	WalletCreditsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_wallet_credits_total",
		Help: "Wallet credits applied from confirmed payments.",
	}, []string{"gateway"})

	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storefront_webhook_processing_seconds",
		Help:    "Webhook handling latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"gateway"})
)
