// Package metrics exposes the prometheus collectors the conversion lifecycle
// reports into. Registration happens at import time via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BalanceClampTotal counts how often a ledger subtraction hit the
	// clamp-to-zero floor. The clamp masks double-deduction bugs, so a
	// non-zero rate is an alarm, not noise.
	BalanceClampTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "outclick",
		Subsystem: "ledger",
		Name:      "balance_clamp_total",
		Help:      "Balance bucket subtractions that were clamped at zero.",
	}, []string{"bucket"})

	// WebhookDeliveryTotal counts delivery attempts by dispatcher and
	// outcome.
	WebhookDeliveryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "outclick",
		Subsystem: "webhooks",
		Name:      "delivery_total",
		Help:      "Webhook delivery attempts by outcome.",
	}, []string{"dispatcher", "outcome"})

	// ConversionTransitionTotal counts conversion state transitions,
	// idempotent no-ops included.
	ConversionTransitionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "outclick",
		Subsystem: "conversions",
		Name:      "transition_total",
		Help:      "Conversion status transitions by target status.",
	}, []string{"status", "noop"})
)
