// Package metrics exposes the book's operational counters as prometheus
// collectors. All instruments are registered on the default registry and
// served by the feed's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type BookMetrics struct {
	OrdersAccepted prometheus.Counter
	OrdersRejected prometheus.Counter
	OrdersCanceled prometheus.Counter
	TradesMatched  prometheus.Counter
	VolumeMatched  prometheus.Counter
	OrdersExpired  prometheus.Counter
	RestingOrders  prometheus.Gauge
}

// NewBookMetrics registers the book instruments with the given registerer.
// Pass nil to use the default registry.
func NewBookMetrics(reg prometheus.Registerer) *BookMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &BookMetrics{
		OrdersAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "book_orders_accepted_total",
			Help: "Orders admitted to the book.",
		}),
		OrdersRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "book_orders_rejected_total",
			Help: "Orders rejected at admission (duplicates, infeasible conditionals, empty-book markets).",
		}),
		OrdersCanceled: factory.NewCounter(prometheus.CounterOpts{
			Name: "book_orders_canceled_total",
			Help: "Resting orders removed by cancel or modify.",
		}),
		TradesMatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "book_trades_matched_total",
			Help: "Executions produced by the matching loop.",
		}),
		VolumeMatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "book_volume_matched_total",
			Help: "Total quantity executed.",
		}),
		OrdersExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "book_orders_expired_total",
			Help: "Good-for-day orders purged at the cutoff.",
		}),
		RestingOrders: factory.NewGauge(prometheus.GaugeOpts{
			Name: "book_resting_orders",
			Help: "Orders currently resting on either side.",
		}),
	}
}
