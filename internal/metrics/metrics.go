// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "storefront"

type Metrics struct {
	StockLookups      *prometheus.CounterVec
	CeilingUpdates    prometheus.Counter
	CouponValidations *prometheus.CounterVec
	HoldOutcomes      *prometheus.CounterVec
	Submissions       *prometheus.CounterVec
	ActiveSessions    prometheus.Gauge
	AuditEvents       *prometheus.CounterVec
}

// New registers every collector on reg. Tests pass a fresh prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StockLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_lookups_total",
			Help:      "Stock lookups issued by the reconciler, by result.",
		}, []string{"result"}),
		CeilingUpdates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_ceiling_updates_total",
			Help:      "Cart lines whose stock ceiling was rewritten.",
		}),
		CouponValidations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coupon_validations_total",
			Help:      "Coupon validation attempts, by result.",
		}, []string{"result"}),
		HoldOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hold_gesture_outcomes_total",
			Help:      "Hold-to-commit attempts, by outcome.",
		}, []string{"outcome"}),
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_submissions_total",
			Help:      "Order submissions, by result.",
		}, []string{"result"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Shopper sessions currently held in memory.",
		}),
		AuditEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_total",
			Help:      "Audit events handed to the publisher, by result.",
		}, []string{"result"}),
	}
}

// Discard returns collectors registered on a throwaway registry.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}
