package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the gauges and counters the coordinator maintains. One
// instance is built in main and passed to the components that record into it.
type Metrics struct {
	SessionState  prometheus.Gauge
	LiveCalls     prometheus.Gauge
	NativeReports *prometheus.CounterVec
	CallsEnded    *prometheus.CounterVec
	Reconnects    prometheus.Counter

	registry *prometheus.Registry
}

func NewMetrics() *Metrics {
	m := &Metrics{
		SessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "callbridge",
			Name:      "session_state",
			Help:      "Connection state: 0 disconnected, 1 connecting, 2 connected, 3 error",
		}),
		LiveCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "callbridge",
			Name:      "live_calls",
			Help:      "Calls currently tracked by the registry",
		}),
		NativeReports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callbridge",
			Name:      "native_reports_total",
			Help:      "Reports issued to the native telephony UI",
		}, []string{"kind"}),
		CallsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callbridge",
			Name:      "calls_ended_total",
			Help:      "Calls that reached a terminal state",
		}, []string{"state"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "callbridge",
			Name:      "reconnects_total",
			Help:      "Stored-credential reconnection attempts",
		}),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(m.SessionState, m.LiveCalls, m.NativeReports, m.CallsEnded, m.Reconnects)
	return m
}

// Serve exposes the metrics endpoint. No-op when listen is empty.
func (m *Metrics) Serve(listen string) {
	if listen == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(listen, mux); err != nil {
			coreLog.Warnf("metrics listener stopped: %v", err)
		}
	}()
}
