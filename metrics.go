package main

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type clientMetrics struct {
	rpcCalls     *prometheus.CounterVec
	rpcLatency   *prometheus.HistogramVec
	transactions *prometheus.CounterVec
	oraclePrice  *prometheus.GaugeVec
	refreshes    *prometheus.CounterVec
}

var (
	metricsOnce     sync.Once
	metricsRegistry *clientMetrics
)

// Metrics returns the lazily registered client metrics.
func Metrics() *clientMetrics {
	metricsOnce.Do(func() {
		metricsRegistry = &clientMetrics{
			rpcCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "memebank",
				Subsystem: "rpc",
				Name:      "calls_total",
				Help:      "Contract read calls segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			rpcLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "memebank",
				Subsystem: "rpc",
				Name:      "call_duration_seconds",
				Help:      "Latency of contract read calls including retries.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "memebank",
				Subsystem: "tx",
				Name:      "total",
				Help:      "Transactions segmented by network, kind and outcome.",
			}, []string{"network", "kind", "outcome"}),
			oraclePrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "memebank",
				Subsystem: "oracle",
				Name:      "price",
				Help:      "Last observed collateral price per network.",
			}, []string{"network"}),
			refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "memebank",
				Subsystem: "dashboard",
				Name:      "refresh_total",
				Help:      "Dashboard refreshes segmented by network and outcome.",
			}, []string{"network", "outcome"}),
		}
		prometheus.MustRegister(
			metricsRegistry.rpcCalls,
			metricsRegistry.rpcLatency,
			metricsRegistry.transactions,
			metricsRegistry.oraclePrice,
			metricsRegistry.refreshes,
		)
	})
	return metricsRegistry
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
