// Package observability exposes the service's Prometheus metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts decoded protocol requests by command keyword.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "msgp",
		Name:      "requests_total",
		Help:      "Protocol requests processed, by command.",
	}, []string{"command"})

	// MessagesDelivered counts fan-out writes that reached a live channel.
	MessagesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "msgp",
		Name:      "messages_delivered_total",
		Help:      "Messages delivered to a recipient's live channel.",
	})

	// DeliveriesDropped counts deliveries lost to a full or dead channel.
	DeliveriesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "msgp",
		Name:      "deliveries_dropped_total",
		Help:      "Deliveries dropped because the recipient channel was unavailable.",
	})

	// ActiveSessions tracks currently connected line-protocol sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "msgp",
		Name:      "active_sessions",
		Help:      "Connected TCP sessions.",
	})
)
